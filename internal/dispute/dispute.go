// Package dispute arbitrates purchases. A buyer freezes a paid purchase by
// raising a dispute; only the admin recorded at protocol initialization may
// resolve it, choosing between refunding the buyer and releasing the funds
// to the seller and provider.
package dispute

import (
	"context"
	"errors"

	"github.com/dezenmart/escrow-core/internal/purchase"
	"github.com/dezenmart/escrow-core/internal/state"
)

var ErrUnauthorized = errors.New("dispute: caller is not the admin")

// PurchaseLedger is the slice of the purchase service the resolver needs.
type PurchaseLedger interface {
	Dispute(ctx context.Context, caller string, purchaseID uint64) (*purchase.Purchase, error)
	Resolve(ctx context.Context, purchaseID uint64, outcome purchase.Outcome) (*purchase.Purchase, error)
}

// Admin resolves the arbiter identity.
type Admin interface {
	RequireAdmin(ctx context.Context, caller string) error
}

// Service implements dispute arbitration.
type Service struct {
	purchases PurchaseLedger
	admin     Admin
}

// NewService creates a new dispute resolver.
func NewService(purchases PurchaseLedger, admin Admin) *Service {
	return &Service{purchases: purchases, admin: admin}
}

// Raise freezes a purchase's custodied funds pending arbitration. The
// purchase service enforces that only the buyer may raise and that terminal
// purchases cannot be disputed.
func (s *Service) Raise(ctx context.Context, caller string, purchaseID uint64) (*purchase.Purchase, error) {
	return s.purchases.Dispute(ctx, caller, purchaseID)
}

// ResolveRequest carries the arbiter's decision.
type ResolveRequest struct {
	Outcome purchase.Outcome `json:"outcome" binding:"required"`
}

// Resolve settles a disputed purchase. Admin only.
func (s *Service) Resolve(ctx context.Context, caller string, purchaseID uint64, outcome purchase.Outcome) (*purchase.Purchase, error) {
	if err := s.admin.RequireAdmin(ctx, caller); err != nil {
		if errors.Is(err, state.ErrUnauthorized) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	switch outcome {
	case purchase.OutcomeRefundBuyer, purchase.OutcomeRelease:
	default:
		return nil, purchase.ErrInvalidOutcome
	}
	return s.purchases.Resolve(ctx, purchaseID, outcome)
}
