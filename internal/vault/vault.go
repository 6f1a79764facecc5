// Package vault custodies purchase funds until a lifecycle transition
// releases them.
//
// Every tendered payment becomes a holding keyed by purchase id. A holding
// settles exactly once: released (split between seller, logistics provider
// and the fee pool) or refunded (back to the buyer in full). Settlement
// records the payouts in the same store operation as the status flip, so
// value is never created, destroyed, or double-spent: at any point
//
//	held + released + refunded + fees withheld == sum of all deposits
package vault

import (
	"context"
	"errors"
	"time"
)

var (
	ErrHoldingNotFound = errors.New("vault: holding not found")
	ErrHoldingExists   = errors.New("vault: holding already exists")
	ErrHoldingSettled  = errors.New("vault: holding already settled")
	ErrSplitMismatch   = errors.New("vault: payout split does not equal held amount")
)

// HoldingStatus is the custody state of a purchase's funds.
type HoldingStatus string

const (
	HoldingHeld     HoldingStatus = "held"
	HoldingReleased HoldingStatus = "released"
	HoldingRefunded HoldingStatus = "refunded"
)

// PayoutKind classifies where settled value went.
type PayoutKind string

const (
	PayoutSeller        PayoutKind = "seller"
	PayoutLogistics     PayoutKind = "logistics"
	PayoutFee           PayoutKind = "fee"            // withheld into the protocol pool
	PayoutRefund        PayoutKind = "refund"         // returned to the buyer
	PayoutFeeWithdrawal PayoutKind = "fee_withdrawal" // admin draining the pool
)

// Holding is custodied value for one purchase.
type Holding struct {
	PurchaseID uint64        `json:"purchaseId"`
	Payer      string        `json:"payer"`
	Amount     uint64        `json:"amount"`
	Status     HoldingStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
	SettledAt  *time.Time    `json:"settledAt,omitempty"`
}

// Payout is a single credit produced by settling a holding (or by a fee
// withdrawal, which has no holding).
type Payout struct {
	PurchaseID uint64     `json:"purchaseId,omitempty"`
	Address    string     `json:"address,omitempty"` // empty for fee withholding
	Amount     uint64     `json:"amount"`
	Kind       PayoutKind `json:"kind"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Totals is an aggregate snapshot used for conservation checks and metrics.
type Totals struct {
	Held          uint64 `json:"held"`
	Released      uint64 `json:"released"`
	Refunded      uint64 `json:"refunded"`
	FeesWithheld  uint64 `json:"feesWithheld"`
	FeesWithdrawn uint64 `json:"feesWithdrawn"`
	Deposited     uint64 `json:"deposited"`
}

// Store persists holdings and payouts.
//
// Settle must flip the holding from held to the terminal status and record
// the payouts in one atomic operation; a holding that is already settled
// fails with ErrHoldingSettled.
type Store interface {
	CreateHolding(ctx context.Context, h *Holding) error
	GetHolding(ctx context.Context, purchaseID uint64) (*Holding, error)
	Settle(ctx context.Context, purchaseID uint64, status HoldingStatus, payouts []Payout) error
	RecordPayout(ctx context.Context, p *Payout) error
	Balance(ctx context.Context, address string) (uint64, error)
	ListPayouts(ctx context.Context, address string, limit int) ([]*Payout, error)
	Totals(ctx context.Context) (*Totals, error)
}

// Service implements custody operations over a store.
type Service struct {
	store Store
}

// NewService creates a new vault service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Deposit takes custody of a purchase's tendered amount.
func (s *Service) Deposit(ctx context.Context, purchaseID uint64, payer string, amount uint64) error {
	return s.store.CreateHolding(ctx, &Holding{
		PurchaseID: purchaseID,
		Payer:      payer,
		Amount:     amount,
		Status:     HoldingHeld,
		CreatedAt:  time.Now(),
	})
}

// Release settles a holding by splitting it between the given payouts. The
// split must account for every unit held.
func (s *Service) Release(ctx context.Context, purchaseID uint64, payouts ...Payout) error {
	h, err := s.store.GetHolding(ctx, purchaseID)
	if err != nil {
		return err
	}
	if h.Status != HoldingHeld {
		return ErrHoldingSettled
	}
	var sum uint64
	now := time.Now()
	for i := range payouts {
		sum += payouts[i].Amount
		payouts[i].PurchaseID = purchaseID
		payouts[i].CreatedAt = now
	}
	if sum != h.Amount {
		return ErrSplitMismatch
	}
	return s.store.Settle(ctx, purchaseID, HoldingReleased, payouts)
}

// Refund settles a holding by returning the full amount to the buyer,
// escrow fee included.
func (s *Service) Refund(ctx context.Context, purchaseID uint64, buyer string) error {
	h, err := s.store.GetHolding(ctx, purchaseID)
	if err != nil {
		return err
	}
	if h.Status != HoldingHeld {
		return ErrHoldingSettled
	}
	return s.store.Settle(ctx, purchaseID, HoldingRefunded, []Payout{{
		PurchaseID: purchaseID,
		Address:    buyer,
		Amount:     h.Amount,
		Kind:       PayoutRefund,
		CreatedAt:  time.Now(),
	}})
}

// PayFees records protocol revenue leaving the pool to the admin. The caller
// is responsible for decrementing the withheld-fee counter first.
func (s *Service) PayFees(ctx context.Context, admin string, amount uint64) error {
	return s.store.RecordPayout(ctx, &Payout{
		Address:   admin,
		Amount:    amount,
		Kind:      PayoutFeeWithdrawal,
		CreatedAt: time.Now(),
	})
}

// Holding returns the custody record for a purchase.
func (s *Service) Holding(ctx context.Context, purchaseID uint64) (*Holding, error) {
	return s.store.GetHolding(ctx, purchaseID)
}

// Balance returns the total value credited to an address.
func (s *Service) Balance(ctx context.Context, address string) (uint64, error) {
	return s.store.Balance(ctx, address)
}

// ListPayouts returns recent credits for an address.
func (s *Service) ListPayouts(ctx context.Context, address string, limit int) ([]*Payout, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListPayouts(ctx, address, limit)
}

// Totals returns the aggregate custody snapshot.
func (s *Service) Totals(ctx context.Context) (*Totals, error) {
	return s.store.Totals(ctx)
}
