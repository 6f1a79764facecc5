package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory singleton store for development mode.
type MemoryStore struct {
	mu     sync.Mutex
	global *Global
}

// NewMemoryStore creates a new in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Create(ctx context.Context, g *Global) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.global != nil {
		return ErrAlreadyInitialized
	}
	cp := *g
	m.global = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context) (*Global, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.global == nil {
		return nil, ErrNotInitialized
	}
	cp := *m.global
	return &cp, nil
}

func (m *MemoryStore) NextTradeID(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.global == nil {
		return 0, ErrNotInitialized
	}
	m.global.TradeCounter++
	m.global.UpdatedAt = time.Now()
	return m.global.TradeCounter, nil
}

func (m *MemoryStore) NextPurchaseID(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.global == nil {
		return 0, ErrNotInitialized
	}
	m.global.PurchaseCounter++
	m.global.UpdatedAt = time.Now()
	return m.global.PurchaseCounter, nil
}

func (m *MemoryStore) AddFees(ctx context.Context, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.global == nil {
		return ErrNotInitialized
	}
	m.global.WithheldFees += amount
	m.global.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) TakeFees(ctx context.Context, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.global == nil {
		return ErrNotInitialized
	}
	if m.global.WithheldFees == 0 || amount > m.global.WithheldFees {
		return ErrNoEscrowFees
	}
	m.global.WithheldFees -= amount
	m.global.UpdatedAt = time.Now()
	return nil
}
