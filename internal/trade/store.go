package trade

import "context"

// Store persists trades.
//
// Reserve is the oversell guard: the remaining-quantity check and the
// decrement must be one atomic operation. Implementations either hold a lock
// (memory) or use a conditional UPDATE (Postgres). Restore credits quantity
// back after a dispute resolved in the buyer's favor.
type Store interface {
	Create(ctx context.Context, t *Trade) error
	Get(ctx context.Context, tradeID uint64) (*Trade, error)
	SetActive(ctx context.Context, tradeID uint64, active bool) error
	Reserve(ctx context.Context, tradeID uint64, quantity uint64) (*Trade, error)
	Restore(ctx context.Context, tradeID uint64, quantity uint64) error
	AppendPurchaseID(ctx context.Context, tradeID uint64, purchaseID uint64) error
	List(ctx context.Context, limit int) ([]*Trade, error)
	ListBySeller(ctx context.Context, seller string, limit int) ([]*Trade, error)
}
