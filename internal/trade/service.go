package trade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dezenmart/escrow-core/internal/metrics"
	"github.com/dezenmart/escrow-core/internal/registry"
)

// IDMinter mints trade ids from the protocol counter.
type IDMinter interface {
	NextTradeID(ctx context.Context) (uint64, error)
}

// RoleChecker verifies the caller holds a registered role.
type RoleChecker interface {
	RequireRole(ctx context.Context, owner string, role registry.Role) error
}

// EventSink receives protocol events for broadcast.
type EventSink interface {
	Publish(event string, data interface{})
}

// CreateRequest contains the parameters for listing a trade.
type CreateRequest struct {
	ProductCost      uint64            `json:"productCost" binding:"required"`
	TotalQuantity    uint64            `json:"totalQuantity" binding:"required"`
	LogisticsOptions []LogisticsOption `json:"logisticsOptions" binding:"required"`
}

// Service implements trade ledger business logic.
type Service struct {
	store  Store
	ids    IDMinter
	roles  RoleChecker
	events EventSink
}

// NewService creates a new trade service.
func NewService(store Store, ids IDMinter, roles RoleChecker) *Service {
	return &Service{store: store, ids: ids, roles: roles}
}

// WithEvents adds an event sink for protocol event broadcast.
func (s *Service) WithEvents(sink EventSink) *Service {
	s.events = sink
	return s
}

// Create lists a new trade for a registered seller.
func (s *Service) Create(ctx context.Context, seller string, req CreateRequest) (*Trade, error) {
	seller = strings.ToLower(strings.TrimSpace(seller))
	if err := s.roles.RequireRole(ctx, seller, registry.RoleSeller); err != nil {
		if errors.Is(err, registry.ErrNotRegistered) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	if req.ProductCost == 0 {
		return nil, ErrInvalidCost
	}
	if req.TotalQuantity == 0 {
		return nil, ErrInvalidQuantity
	}
	if len(req.LogisticsOptions) == 0 {
		return nil, ErrNoLogisticsOptions
	}
	if len(req.LogisticsOptions) > MaxLogisticsOptions {
		return nil, ErrTooManyOptions
	}
	opts := make([]LogisticsOption, len(req.LogisticsOptions))
	for i, opt := range req.LogisticsOptions {
		if opt.Cost == 0 {
			return nil, ErrInvalidCost
		}
		if !common.IsHexAddress(opt.Provider) {
			return nil, ErrInvalidLogisticsProvider
		}
		opts[i] = LogisticsOption{
			Provider: strings.ToLower(opt.Provider),
			Cost:     opt.Cost,
		}
	}

	tradeID, err := s.ids.NextTradeID(ctx)
	if err != nil {
		return nil, fmt.Errorf("mint trade id: %w", err)
	}

	now := time.Now()
	t := &Trade{
		TradeID:           tradeID,
		Seller:            seller,
		LogisticsOptions:  opts,
		ProductCost:       req.ProductCost,
		TotalQuantity:     req.TotalQuantity,
		RemainingQuantity: req.TotalQuantity,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}

	metrics.TradesCreatedTotal.Inc()
	if s.events != nil {
		s.events.Publish("trade_created", t)
	}
	return t, nil
}

// SetActive toggles a trade's listing flag. Only the seller may call this.
func (s *Service) SetActive(ctx context.Context, caller string, tradeID uint64, active bool) (*Trade, error) {
	t, err := s.store.Get(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(caller, t.Seller) {
		return nil, ErrUnauthorized
	}
	if err := s.store.SetActive(ctx, tradeID, active); err != nil {
		return nil, err
	}
	t.Active = active
	t.UpdatedAt = time.Now()
	return t, nil
}

// Get returns a trade by id.
func (s *Service) Get(ctx context.Context, tradeID uint64) (*Trade, error) {
	return s.store.Get(ctx, tradeID)
}

// List returns recent trades.
func (s *Service) List(ctx context.Context, limit int) ([]*Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.List(ctx, limit)
}

// ListBySeller returns a seller's trades.
func (s *Service) ListBySeller(ctx context.Context, seller string, limit int) ([]*Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListBySeller(ctx, strings.ToLower(strings.TrimSpace(seller)), limit)
}

// Reserve atomically checks and decrements remaining quantity. Exposed for
// the purchase ledger, which holds the per-trade lock while calling it.
func (s *Service) Reserve(ctx context.Context, tradeID uint64, quantity uint64) (*Trade, error) {
	return s.store.Reserve(ctx, tradeID, quantity)
}

// Restore credits quantity back to a trade after a buyer-favor resolution.
func (s *Service) Restore(ctx context.Context, tradeID uint64, quantity uint64) error {
	return s.store.Restore(ctx, tradeID, quantity)
}

// RecordPurchase appends a purchase id to the trade's history.
func (s *Service) RecordPurchase(ctx context.Context, tradeID uint64, purchaseID uint64) error {
	return s.store.AppendPurchaseID(ctx, tradeID, purchaseID)
}
