package purchase

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory purchase store for development mode.
type MemoryStore struct {
	mu        sync.RWMutex
	purchases map[uint64]*Purchase
}

// NewMemoryStore creates a new in-memory purchase store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		purchases: make(map[uint64]*Purchase),
	}
}

func (m *MemoryStore) Create(ctx context.Context, p *Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.purchases[p.PurchaseID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, purchaseID uint64) (*Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.purchases[purchaseID]
	if !ok {
		return nil, ErrPurchaseNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, p *Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.purchases[p.PurchaseID]; !ok {
		return ErrPurchaseNotFound
	}
	cp := *p
	m.purchases[p.PurchaseID] = &cp
	return nil
}

func (m *MemoryStore) ListByBuyer(ctx context.Context, buyer string, limit int) ([]*Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Purchase
	for _, p := range m.purchases {
		if p.Buyer == buyer {
			cp := *p
			result = append(result, &cp)
		}
	}
	sortPurchases(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListByTrade(ctx context.Context, tradeID uint64, limit int) ([]*Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Purchase
	for _, p := range m.purchases {
		if p.TradeID == tradeID {
			cp := *p
			result = append(result, &cp)
		}
	}
	sortPurchases(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func sortPurchases(ps []*Purchase) {
	sort.Slice(ps, func(i, j int) bool {
		return ps[i].PurchaseID > ps[j].PurchaseID
	})
}
