package vault

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory vault store for development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	holdings map[uint64]*Holding
	payouts  []*Payout
}

// NewMemoryStore creates a new in-memory vault store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		holdings: make(map[uint64]*Holding),
	}
}

func (m *MemoryStore) CreateHolding(ctx context.Context, h *Holding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.holdings[h.PurchaseID]; ok {
		return ErrHoldingExists
	}
	cp := *h
	m.holdings[h.PurchaseID] = &cp
	return nil
}

func (m *MemoryStore) GetHolding(ctx context.Context, purchaseID uint64) (*Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.holdings[purchaseID]
	if !ok {
		return nil, ErrHoldingNotFound
	}
	cp := *h
	return &cp, nil
}

func (m *MemoryStore) Settle(ctx context.Context, purchaseID uint64, status HoldingStatus, payouts []Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holdings[purchaseID]
	if !ok {
		return ErrHoldingNotFound
	}
	if h.Status != HoldingHeld {
		return ErrHoldingSettled
	}
	now := time.Now()
	h.Status = status
	h.SettledAt = &now
	for i := range payouts {
		cp := payouts[i]
		m.payouts = append(m.payouts, &cp)
	}
	return nil
}

func (m *MemoryStore) RecordPayout(ctx context.Context, p *Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.payouts = append(m.payouts, &cp)
	return nil
}

func (m *MemoryStore) Balance(ctx context.Context, address string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total uint64
	for _, p := range m.payouts {
		if p.Address == address {
			total += p.Amount
		}
	}
	return total, nil
}

func (m *MemoryStore) ListPayouts(ctx context.Context, address string, limit int) ([]*Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Payout
	for i := len(m.payouts) - 1; i >= 0 && len(result) < limit; i-- {
		if m.payouts[i].Address == address {
			cp := *m.payouts[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) Totals(ctx context.Context) (*Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := &Totals{}
	for _, h := range m.holdings {
		t.Deposited += h.Amount
		if h.Status == HoldingHeld {
			t.Held += h.Amount
		}
	}
	for _, p := range m.payouts {
		switch p.Kind {
		case PayoutSeller, PayoutLogistics:
			t.Released += p.Amount
		case PayoutRefund:
			t.Refunded += p.Amount
		case PayoutFee:
			t.FeesWithheld += p.Amount
		case PayoutFeeWithdrawal:
			t.FeesWithdrawn += p.Amount
		}
	}
	return t, nil
}
