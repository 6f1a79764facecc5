// Package state holds the protocol-wide singleton: the admin identity, the
// monotonic trade and purchase counters, and the accumulated escrow fees.
//
// The singleton is created exactly once by initialize; every later mutation
// goes through the store so counters stay strictly monotonic and are never
// reused, regardless of how many concurrent callers mint ids.
package state

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotInitialized     = errors.New("state: protocol not initialized")
	ErrAlreadyInitialized = errors.New("state: protocol already initialized")
	ErrUnauthorized       = errors.New("state: caller is not the admin")
	ErrNoEscrowFees       = errors.New("state: no escrow fees to withdraw")
	ErrInvalidAddress     = errors.New("state: invalid admin address")
)

// Global is the protocol singleton record.
type Global struct {
	Admin           string    `json:"admin"`
	TradeCounter    uint64    `json:"tradeCounter"`
	PurchaseCounter uint64    `json:"purchaseCounter"`
	WithheldFees    uint64    `json:"withheldFees"`
	InitializedAt   time.Time `json:"initializedAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Store persists the singleton.
//
// NextTradeID and NextPurchaseID must be atomic increment-and-return
// operations. AddFees and TakeFees must be atomic as well; TakeFees fails
// with ErrNoEscrowFees when the pool is empty or the request exceeds it.
type Store interface {
	Create(ctx context.Context, g *Global) error
	Get(ctx context.Context) (*Global, error)
	NextTradeID(ctx context.Context) (uint64, error)
	NextPurchaseID(ctx context.Context) (uint64, error)
	AddFees(ctx context.Context, amount uint64) error
	TakeFees(ctx context.Context, amount uint64) error
}

// Service wraps the store with authorization checks.
type Service struct {
	store Store
}

// NewService creates a new state service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Initialize creates the singleton with the given admin identity. A second
// call fails with ErrAlreadyInitialized no matter who the caller is.
func (s *Service) Initialize(ctx context.Context, admin string) (*Global, error) {
	admin = strings.TrimSpace(admin)
	if !common.IsHexAddress(admin) {
		return nil, ErrInvalidAddress
	}
	now := time.Now()
	g := &Global{
		Admin:         strings.ToLower(admin),
		InitializedAt: now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// Get returns the current singleton snapshot.
func (s *Service) Get(ctx context.Context) (*Global, error) {
	return s.store.Get(ctx)
}

// RequireAdmin fails with ErrUnauthorized unless the caller is the admin
// recorded at initialization.
func (s *Service) RequireAdmin(ctx context.Context, caller string) error {
	g, err := s.store.Get(ctx)
	if err != nil {
		return err
	}
	if !strings.EqualFold(caller, g.Admin) {
		return ErrUnauthorized
	}
	return nil
}

// NextTradeID mints the next trade id.
func (s *Service) NextTradeID(ctx context.Context) (uint64, error) {
	return s.store.NextTradeID(ctx)
}

// NextPurchaseID mints the next purchase id.
func (s *Service) NextPurchaseID(ctx context.Context) (uint64, error) {
	return s.store.NextPurchaseID(ctx)
}

// AccrueFees adds a withheld escrow fee to the protocol pool.
func (s *Service) AccrueFees(ctx context.Context, amount uint64) error {
	if amount == 0 {
		return nil
	}
	return s.store.AddFees(ctx, amount)
}

// WithdrawFees moves withheld fees out of the pool to the admin. This is the
// only path by which protocol revenue leaves custody.
func (s *Service) WithdrawFees(ctx context.Context, caller string, amount uint64) error {
	if err := s.RequireAdmin(ctx, caller); err != nil {
		return err
	}
	if amount == 0 {
		return ErrNoEscrowFees
	}
	return s.store.TakeFees(ctx, amount)
}
