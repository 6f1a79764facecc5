package registry

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory registry store for development mode.
type MemoryStore struct {
	mu        sync.RWMutex
	sellers   map[string]*SellerAccount
	buyers    map[string]*BuyerAccount
	providers map[string]*ProviderAccount
}

// NewMemoryStore creates a new in-memory registry store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sellers:   make(map[string]*SellerAccount),
		buyers:    make(map[string]*BuyerAccount),
		providers: make(map[string]*ProviderAccount),
	}
}

func (m *MemoryStore) CreateSeller(ctx context.Context, acct *SellerAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sellers[acct.Owner]; ok && existing.Registered {
		return ErrAlreadyRegistered
	}
	cp := *acct
	m.sellers[acct.Owner] = &cp
	return nil
}

func (m *MemoryStore) GetSeller(ctx context.Context, owner string) (*SellerAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.sellers[owner]
	if !ok {
		return nil, ErrNotRegistered
	}
	cp := *acct
	return &cp, nil
}

func (m *MemoryStore) CreateBuyer(ctx context.Context, acct *BuyerAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.buyers[acct.Owner]; ok && existing.Registered {
		return ErrAlreadyRegistered
	}
	cp := *acct
	if acct.PurchaseIDs != nil {
		cp.PurchaseIDs = append([]uint64(nil), acct.PurchaseIDs...)
	}
	m.buyers[acct.Owner] = &cp
	return nil
}

func (m *MemoryStore) GetBuyer(ctx context.Context, owner string) (*BuyerAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.buyers[owner]
	if !ok {
		return nil, ErrNotRegistered
	}
	// Deep copy: the purchase id slice is appended to under the write lock,
	// so handing out the backing array would race.
	cp := *acct
	cp.PurchaseIDs = append([]uint64(nil), acct.PurchaseIDs...)
	return &cp, nil
}

func (m *MemoryStore) AppendBuyerPurchase(ctx context.Context, owner string, purchaseID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.buyers[owner]
	if !ok || !acct.Registered {
		return ErrNotRegistered
	}
	if len(acct.PurchaseIDs) >= MaxBuyerPurchaseRefs {
		return ErrPurchaseRefsFull
	}
	acct.PurchaseIDs = append(acct.PurchaseIDs, purchaseID)
	return nil
}

func (m *MemoryStore) RemoveBuyerPurchase(ctx context.Context, owner string, purchaseID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.buyers[owner]
	if !ok || !acct.Registered {
		return ErrNotRegistered
	}
	for i, id := range acct.PurchaseIDs {
		if id == purchaseID {
			acct.PurchaseIDs = append(acct.PurchaseIDs[:i], acct.PurchaseIDs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) CreateProvider(ctx context.Context, acct *ProviderAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.providers[acct.Owner]; ok && existing.Registered {
		return ErrAlreadyRegistered
	}
	cp := *acct
	m.providers[acct.Owner] = &cp
	return nil
}

func (m *MemoryStore) GetProvider(ctx context.Context, owner string) (*ProviderAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.providers[owner]
	if !ok {
		return nil, ErrNotRegistered
	}
	cp := *acct
	return &cp, nil
}
