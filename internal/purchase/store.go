package purchase

import "context"

// Store persists purchases. Records are append-only history: they are
// created once and transition in place, never deleted.
type Store interface {
	Create(ctx context.Context, p *Purchase) error
	Get(ctx context.Context, purchaseID uint64) (*Purchase, error)
	Update(ctx context.Context, p *Purchase) error
	ListByBuyer(ctx context.Context, buyer string, limit int) ([]*Purchase, error)
	ListByTrade(ctx context.Context, tradeID uint64, limit int) ([]*Purchase, error)
}
