package trade

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory trade store for development mode.
type MemoryStore struct {
	mu     sync.RWMutex
	trades map[uint64]*Trade
}

// NewMemoryStore creates a new in-memory trade store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trades: make(map[uint64]*Trade),
	}
}

func copyTrade(t *Trade) *Trade {
	cp := *t
	cp.LogisticsOptions = append([]LogisticsOption(nil), t.LogisticsOptions...)
	cp.PurchaseIDs = append([]uint64(nil), t.PurchaseIDs...)
	return &cp
}

func (m *MemoryStore) Create(ctx context.Context, t *Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.trades[t.TradeID] = copyTrade(t)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, tradeID uint64) (*Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.trades[tradeID]
	if !ok {
		return nil, ErrTradeNotFound
	}
	return copyTrade(t), nil
}

func (m *MemoryStore) SetActive(ctx context.Context, tradeID uint64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.trades[tradeID]
	if !ok {
		return ErrTradeNotFound
	}
	t.Active = active
	t.UpdatedAt = time.Now()
	return nil
}

// Reserve holds the store lock across the read, the bound check, and the
// decrement. Concurrent purchases against the same trade serialize here.
func (m *MemoryStore) Reserve(ctx context.Context, tradeID uint64, quantity uint64) (*Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.trades[tradeID]
	if !ok {
		return nil, ErrTradeNotFound
	}
	if !t.Active {
		return nil, ErrTradeInactive
	}
	if quantity == 0 {
		return nil, ErrInvalidQuantity
	}
	if quantity > t.RemainingQuantity {
		return nil, ErrInsufficientQuantity
	}
	t.RemainingQuantity -= quantity
	t.UpdatedAt = time.Now()
	return copyTrade(t), nil
}

func (m *MemoryStore) Restore(ctx context.Context, tradeID uint64, quantity uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.trades[tradeID]
	if !ok {
		return ErrTradeNotFound
	}
	t.RemainingQuantity += quantity
	if t.RemainingQuantity > t.TotalQuantity {
		t.RemainingQuantity = t.TotalQuantity
	}
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) AppendPurchaseID(ctx context.Context, tradeID uint64, purchaseID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.trades[tradeID]
	if !ok {
		return ErrTradeNotFound
	}
	t.PurchaseIDs = append(t.PurchaseIDs, purchaseID)
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]*Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Trade, 0, len(m.trades))
	for _, t := range m.trades {
		result = append(result, copyTrade(t))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TradeID > result[j].TradeID
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListBySeller(ctx context.Context, seller string, limit int) ([]*Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Trade
	for _, t := range m.trades {
		if t.Seller == seller {
			result = append(result, copyTrade(t))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TradeID > result[j].TradeID
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
