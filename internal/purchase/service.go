package purchase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dezenmart/escrow-core/internal/logging"
	"github.com/dezenmart/escrow-core/internal/metrics"
	"github.com/dezenmart/escrow-core/internal/registry"
	"github.com/dezenmart/escrow-core/internal/syncutil"
	"github.com/dezenmart/escrow-core/internal/trade"
	"github.com/dezenmart/escrow-core/internal/vault"
)

// TradeLedger is the slice of the trade service the purchase ledger needs.
type TradeLedger interface {
	Get(ctx context.Context, tradeID uint64) (*trade.Trade, error)
	Reserve(ctx context.Context, tradeID uint64, quantity uint64) (*trade.Trade, error)
	Restore(ctx context.Context, tradeID uint64, quantity uint64) error
	RecordPurchase(ctx context.Context, tradeID uint64, purchaseID uint64) error
}

// Custodian moves funds in and out of escrow custody.
type Custodian interface {
	Deposit(ctx context.Context, purchaseID uint64, payer string, amount uint64) error
	Release(ctx context.Context, purchaseID uint64, payouts ...vault.Payout) error
	Refund(ctx context.Context, purchaseID uint64, buyer string) error
}

// Counters mints purchase ids and accrues withheld fees.
type Counters interface {
	NextPurchaseID(ctx context.Context) (uint64, error)
	AccrueFees(ctx context.Context, amount uint64) error
}

// Roles verifies registration and tracks buyer purchase references.
type Roles interface {
	RequireRole(ctx context.Context, owner string, role registry.Role) error
	GetBuyer(ctx context.Context, owner string) (*registry.BuyerAccount, error)
	RecordPurchase(ctx context.Context, owner string, purchaseID uint64) error
	RemovePurchase(ctx context.Context, owner string, purchaseID uint64) error
}

// EventSink receives protocol events for broadcast.
type EventSink interface {
	Publish(event string, data interface{})
}

// BuyRequest contains the parameters for purchasing against a trade.
type BuyRequest struct {
	TradeID           uint64 `json:"tradeId" binding:"required"`
	Quantity          uint64 `json:"quantity" binding:"required"`
	LogisticsProvider string `json:"logisticsProvider" binding:"required"`
	TenderedAmount    uint64 `json:"tenderedAmount" binding:"required"`
}

// Service implements the purchase state machine.
type Service struct {
	store   Store
	trades  TradeLedger
	custody Custodian
	ids     Counters
	roles   Roles
	events  EventSink

	// tradeLocks serializes the read-check-decrement critical section per
	// trade; purchases against different trades run in parallel.
	tradeLocks syncutil.ShardedMutex
	// purchaseLocks serializes state transitions per purchase so a confirm
	// and a cancel racing each other cannot both settle the same funds.
	purchaseLocks syncutil.ShardedMutex
}

// NewService creates a new purchase service.
func NewService(store Store, trades TradeLedger, custody Custodian, ids Counters, roles Roles) *Service {
	return &Service{
		store:   store,
		trades:  trades,
		custody: custody,
		ids:     ids,
		roles:   roles,
	}
}

// WithEvents adds an event sink for protocol event broadcast.
func (s *Service) WithEvents(sink EventSink) *Service {
	s.events = sink
	return s
}

func tradeKey(id uint64) string {
	return "trade/" + strconv.FormatUint(id, 10)
}

func purchaseKey(id uint64) string {
	return "purchase/" + strconv.FormatUint(id, 10)
}

// Buy purchases a quantity against a trade, reserving inventory and taking
// custody of the exact tendered amount. See the package doc for the flow.
func (s *Service) Buy(ctx context.Context, buyer string, req BuyRequest) (*Purchase, error) {
	buyer = strings.ToLower(strings.TrimSpace(buyer))
	if err := s.roles.RequireRole(ctx, buyer, registry.RoleBuyer); err != nil {
		if errors.Is(err, registry.ErrNotRegistered) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	t, err := s.trades.Get(ctx, req.TradeID)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, trade.ErrTradeInactive
	}
	if buyer == t.Seller {
		return nil, ErrBuyerIsSeller
	}

	provider := strings.ToLower(strings.TrimSpace(req.LogisticsProvider))
	unitLogistics, err := t.OptionCost(provider)
	if err != nil {
		return nil, err
	}
	if err := s.roles.RequireRole(ctx, provider, registry.RoleLogistics); err != nil {
		if errors.Is(err, registry.ErrNotRegistered) {
			return nil, trade.ErrInvalidLogisticsProvider
		}
		return nil, err
	}

	if req.Quantity == 0 {
		return nil, trade.ErrInvalidQuantity
	}
	if req.Quantity > t.RemainingQuantity {
		return nil, trade.ErrInsufficientQuantity
	}

	// Price is locked in at purchase time.
	if PriceOverflows(req.Quantity, t.ProductCost, unitLogistics) {
		return nil, ErrAmountOverflow
	}
	fee := EscrowFee(req.Quantity, t.ProductCost)
	total := TotalAmount(req.Quantity, t.ProductCost, unitLogistics)
	if req.TenderedAmount != total {
		return nil, ErrInvalidPaymentAmount
	}

	// Early capacity check; the store re-checks atomically on append.
	acct, err := s.roles.GetBuyer(ctx, buyer)
	if err != nil {
		return nil, err
	}
	if len(acct.PurchaseIDs) >= registry.MaxBuyerPurchaseRefs {
		return nil, registry.ErrPurchaseRefsFull
	}

	// Critical section: the quantity re-check, the decrement, and the
	// custody deposit must not interleave with another buyer on this trade.
	unlock := s.tradeLocks.Lock(tradeKey(req.TradeID))
	defer unlock()

	t, err = s.trades.Reserve(ctx, req.TradeID, req.Quantity)
	if err != nil {
		return nil, err
	}

	purchaseID, err := s.ids.NextPurchaseID(ctx)
	if err != nil {
		s.unwindReserve(ctx, req.TradeID, req.Quantity)
		return nil, fmt.Errorf("mint purchase id: %w", err)
	}

	if err := s.roles.RecordPurchase(ctx, buyer, purchaseID); err != nil {
		s.unwindReserve(ctx, req.TradeID, req.Quantity)
		return nil, err
	}

	if err := s.custody.Deposit(ctx, purchaseID, buyer, total); err != nil {
		s.unwindBuyerRef(ctx, buyer, purchaseID)
		s.unwindReserve(ctx, req.TradeID, req.Quantity)
		return nil, fmt.Errorf("custody deposit: %w", err)
	}

	now := time.Now()
	p := &Purchase{
		PurchaseID:        purchaseID,
		TradeID:           req.TradeID,
		Buyer:             buyer,
		Seller:            t.Seller,
		LogisticsProvider: provider,
		Quantity:          req.Quantity,
		UnitProductCost:   t.ProductCost,
		UnitLogisticsCost: unitLogistics,
		EscrowFee:         fee,
		TotalAmount:       total,
		State:             StatePaid,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		// Funds are custodied but the record failed: return them and put
		// the inventory back.
		if refundErr := s.custody.Refund(ctx, purchaseID, buyer); refundErr != nil {
			logging.L(ctx).Error("CRITICAL: purchase record failed and refund failed; funds stranded in custody",
				"purchase_id", purchaseID, "buyer", buyer, "error", refundErr)
		}
		s.unwindBuyerRef(ctx, buyer, purchaseID)
		s.unwindReserve(ctx, req.TradeID, req.Quantity)
		return nil, fmt.Errorf("create purchase record: %w", err)
	}

	if err := s.trades.RecordPurchase(ctx, req.TradeID, purchaseID); err != nil {
		logging.L(ctx).Warn("failed to append purchase id to trade history",
			"trade_id", req.TradeID, "purchase_id", purchaseID, "error", err)
	}

	metrics.PurchasesTotal.WithLabelValues(string(StatePaid)).Inc()
	metrics.CustodiedUnits.Add(float64(total))
	if s.events != nil {
		s.events.Publish("purchase_created", p)
		s.events.Publish("payment_held", map[string]uint64{
			"purchaseId":  purchaseID,
			"totalAmount": total,
		})
	}
	return p, nil
}

func (s *Service) unwindReserve(ctx context.Context, tradeID, quantity uint64) {
	if err := s.trades.Restore(ctx, tradeID, quantity); err != nil {
		logging.L(ctx).Error("CRITICAL: failed to restore reserved quantity after aborted purchase",
			"trade_id", tradeID, "quantity", quantity, "error", err)
	}
}

func (s *Service) unwindBuyerRef(ctx context.Context, buyer string, purchaseID uint64) {
	if err := s.roles.RemovePurchase(ctx, buyer, purchaseID); err != nil {
		logging.L(ctx).Error("CRITICAL: failed to remove buyer purchase ref after aborted purchase",
			"buyer", buyer, "purchase_id", purchaseID, "error", err)
	}
}

// ConfirmDelivery releases custodied funds: the seller receives the product
// value, the provider the delivery value, and the fee moves to the protocol
// pool. Only the purchase's buyer may confirm.
func (s *Service) ConfirmDelivery(ctx context.Context, caller string, purchaseID uint64) (*Purchase, error) {
	unlock := s.purchaseLocks.Lock(purchaseKey(purchaseID))
	defer unlock()

	p, err := s.store.Get(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(caller, p.Buyer) {
		return nil, ErrUnauthorized
	}
	if err := p.terminalErr(); err != nil {
		return nil, err
	}
	if p.State == StateDisputed {
		return nil, ErrPurchaseDisputed
	}

	sellerAmount := p.Quantity * p.UnitProductCost
	logisticsAmount := p.Quantity * p.UnitLogisticsCost
	if err := s.custody.Release(ctx, purchaseID,
		vault.Payout{Address: p.Seller, Amount: sellerAmount, Kind: vault.PayoutSeller},
		vault.Payout{Address: p.LogisticsProvider, Amount: logisticsAmount, Kind: vault.PayoutLogistics},
		vault.Payout{Amount: p.EscrowFee, Kind: vault.PayoutFee},
	); err != nil {
		return nil, fmt.Errorf("release custody: %w", err)
	}
	if err := s.ids.AccrueFees(ctx, p.EscrowFee); err != nil {
		logging.L(ctx).Error("CRITICAL: fee withheld in vault but not accrued to protocol state",
			"purchase_id", purchaseID, "fee", p.EscrowFee, "error", err)
	}

	now := time.Now()
	p.State = StateDelivered
	p.DeliveredAt = &now
	p.UpdatedAt = now
	if err := s.persistSettled(ctx, p); err != nil {
		return nil, err
	}

	metrics.PurchasesTotal.WithLabelValues(string(StateDelivered)).Inc()
	metrics.CustodiedUnits.Sub(float64(p.TotalAmount))
	if s.events != nil {
		s.events.Publish("delivery_confirmed", p)
	}
	return p, nil
}

// Cancel refunds the buyer in full, fee included, before delivery. Quantity
// is not restored to the trade's pool.
func (s *Service) Cancel(ctx context.Context, caller string, purchaseID uint64) (*Purchase, error) {
	unlock := s.purchaseLocks.Lock(purchaseKey(purchaseID))
	defer unlock()

	p, err := s.store.Get(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(caller, p.Buyer) {
		return nil, ErrUnauthorized
	}
	if err := p.terminalErr(); err != nil {
		return nil, err
	}
	if p.State == StateDisputed {
		return nil, ErrPurchaseDisputed
	}

	if err := s.custody.Refund(ctx, purchaseID, p.Buyer); err != nil {
		return nil, fmt.Errorf("refund custody: %w", err)
	}

	now := time.Now()
	p.State = StateCancelled
	p.ResolvedAt = &now
	p.UpdatedAt = now
	if err := s.persistSettled(ctx, p); err != nil {
		return nil, err
	}

	metrics.PurchasesTotal.WithLabelValues(string(StateCancelled)).Inc()
	metrics.CustodiedUnits.Sub(float64(p.TotalAmount))
	if s.events != nil {
		s.events.Publish("purchase_cancelled", p)
	}
	return p, nil
}

// Dispute freezes a paid purchase's funds pending arbitration. Only the
// buyer may raise; delivered and cancelled purchases cannot be disputed.
func (s *Service) Dispute(ctx context.Context, caller string, purchaseID uint64) (*Purchase, error) {
	unlock := s.purchaseLocks.Lock(purchaseKey(purchaseID))
	defer unlock()

	p, err := s.store.Get(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(caller, p.Buyer) {
		return nil, ErrUnauthorized
	}
	if p.State == StateDisputed {
		return nil, ErrDisputeAlreadyExists
	}
	if err := p.terminalErr(); err != nil {
		return nil, err
	}

	now := time.Now()
	p.State = StateDisputed
	p.DisputedAt = &now
	p.UpdatedAt = now
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}

	metrics.DisputesRaisedTotal.Inc()
	if s.events != nil {
		s.events.Publish("dispute_raised", p)
	}
	return p, nil
}

// Resolve settles a disputed purchase. Authorization is the dispute
// resolver's job; this method only enforces the state machine. A refund
// returns the full amount to the buyer and restores the trade's quantity; a
// release pays the parties and withholds the fee.
func (s *Service) Resolve(ctx context.Context, purchaseID uint64, outcome Outcome) (*Purchase, error) {
	unlock := s.purchaseLocks.Lock(purchaseKey(purchaseID))
	defer unlock()

	p, err := s.store.Get(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if p.State != StateDisputed {
		return nil, ErrNoDisputeFound
	}

	switch outcome {
	case OutcomeRefundBuyer:
		if err := s.custody.Refund(ctx, purchaseID, p.Buyer); err != nil {
			return nil, fmt.Errorf("refund custody: %w", err)
		}
		if err := s.trades.Restore(ctx, p.TradeID, p.Quantity); err != nil {
			logging.L(ctx).Warn("failed to restore quantity after buyer-favor resolution",
				"trade_id", p.TradeID, "purchase_id", purchaseID, "error", err)
		}
	case OutcomeRelease:
		sellerAmount := p.Quantity * p.UnitProductCost
		logisticsAmount := p.Quantity * p.UnitLogisticsCost
		if err := s.custody.Release(ctx, purchaseID,
			vault.Payout{Address: p.Seller, Amount: sellerAmount, Kind: vault.PayoutSeller},
			vault.Payout{Address: p.LogisticsProvider, Amount: logisticsAmount, Kind: vault.PayoutLogistics},
			vault.Payout{Amount: p.EscrowFee, Kind: vault.PayoutFee},
		); err != nil {
			return nil, fmt.Errorf("release custody: %w", err)
		}
		if err := s.ids.AccrueFees(ctx, p.EscrowFee); err != nil {
			logging.L(ctx).Error("CRITICAL: fee withheld in vault but not accrued to protocol state",
				"purchase_id", purchaseID, "fee", p.EscrowFee, "error", err)
		}
	default:
		return nil, ErrInvalidOutcome
	}

	now := time.Now()
	p.State = StateResolved
	p.Resolution = outcome
	p.ResolvedAt = &now
	p.UpdatedAt = now
	if err := s.persistSettled(ctx, p); err != nil {
		return nil, err
	}

	metrics.DisputesResolvedTotal.WithLabelValues(string(outcome)).Inc()
	metrics.CustodiedUnits.Sub(float64(p.TotalAmount))
	if s.events != nil {
		s.events.Publish("dispute_resolved", p)
	}
	return p, nil
}

// persistSettled writes a state change after funds have already moved. The
// fund movement has no inverse, so on store failure we retry once and
// otherwise log for manual resolution rather than applying a wrong
// compensation.
func (s *Service) persistSettled(ctx context.Context, p *Purchase) error {
	if err := s.store.Update(ctx, p); err != nil {
		if retryErr := s.store.Update(ctx, p); retryErr != nil {
			logging.L(ctx).Error("CRITICAL: funds settled but purchase state update failed",
				"purchase_id", p.PurchaseID, "state", string(p.State), "error", retryErr)
			return fmt.Errorf("persist purchase state after settlement (requires manual resolution): %w", err)
		}
	}
	return nil
}

// Get returns a purchase by id.
func (s *Service) Get(ctx context.Context, purchaseID uint64) (*Purchase, error) {
	return s.store.Get(ctx, purchaseID)
}

// ListByBuyer returns a buyer's purchases.
func (s *Service) ListByBuyer(ctx context.Context, buyer string, limit int) ([]*Purchase, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByBuyer(ctx, strings.ToLower(strings.TrimSpace(buyer)), limit)
}

// ListByTrade returns the purchases made against a trade.
func (s *Service) ListByTrade(ctx context.Context, tradeID uint64, limit int) ([]*Purchase, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByTrade(ctx, tradeID, limit)
}

// Receipt summarizes the settlement of a delivered purchase. Fails with
// ErrPurchaseNotDelivered when funds have not been released to the parties.
func (s *Service) Receipt(ctx context.Context, purchaseID uint64) (*Receipt, error) {
	p, err := s.store.Get(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	released := p.State == StateDelivered ||
		(p.State == StateResolved && p.Resolution == OutcomeRelease)
	if !released {
		return nil, ErrPurchaseNotDelivered
	}
	return &Receipt{
		PurchaseID:      p.PurchaseID,
		TradeID:         p.TradeID,
		SellerAmount:    p.Quantity * p.UnitProductCost,
		LogisticsAmount: p.Quantity * p.UnitLogisticsCost,
		EscrowFee:       p.EscrowFee,
		TotalAmount:     p.TotalAmount,
		SettledAt:       settledAt(p),
	}, nil
}

// Receipt is the settlement breakdown for a released purchase.
type Receipt struct {
	PurchaseID      uint64     `json:"purchaseId"`
	TradeID         uint64     `json:"tradeId"`
	SellerAmount    uint64     `json:"sellerAmount"`
	LogisticsAmount uint64     `json:"logisticsAmount"`
	EscrowFee       uint64     `json:"escrowFee"`
	TotalAmount     uint64     `json:"totalAmount"`
	SettledAt       *time.Time `json:"settledAt,omitempty"`
}

func settledAt(p *Purchase) *time.Time {
	if p.DeliveredAt != nil {
		return p.DeliveredAt
	}
	return p.ResolvedAt
}
