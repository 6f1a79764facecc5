package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Service implements registration business logic.
type Service struct {
	store Store
}

// NewService creates a new registry service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// normalize lowercases an address after validating it.
func normalize(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(addr), nil
}

// RegisterSeller creates a seller account. Fails with ErrAlreadyRegistered
// if the identity already holds a registered seller account.
func (s *Service) RegisterSeller(ctx context.Context, owner string) (*SellerAccount, error) {
	addr, err := normalize(owner)
	if err != nil {
		return nil, err
	}
	acct := &SellerAccount{
		Owner:      addr,
		Registered: true,
		CreatedAt:  time.Now(),
	}
	if err := s.store.CreateSeller(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// RegisterBuyer creates a buyer account with an empty purchase list.
func (s *Service) RegisterBuyer(ctx context.Context, owner string) (*BuyerAccount, error) {
	addr, err := normalize(owner)
	if err != nil {
		return nil, err
	}
	acct := &BuyerAccount{
		Owner:      addr,
		Registered: true,
		CreatedAt:  time.Now(),
	}
	if err := s.store.CreateBuyer(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// RegisterProvider creates a logistics provider account.
func (s *Service) RegisterProvider(ctx context.Context, owner string) (*ProviderAccount, error) {
	addr, err := normalize(owner)
	if err != nil {
		return nil, err
	}
	acct := &ProviderAccount{
		Owner:      addr,
		Registered: true,
		CreatedAt:  time.Now(),
	}
	if err := s.store.CreateProvider(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// RequireRole checks that the caller holds a registered account for the role.
// Returns ErrNotRegistered when the account is missing or not registered.
func (s *Service) RequireRole(ctx context.Context, owner string, role Role) error {
	addr := strings.ToLower(strings.TrimSpace(owner))
	switch role {
	case RoleSeller:
		acct, err := s.store.GetSeller(ctx, addr)
		if err != nil {
			return err
		}
		if !acct.Registered {
			return ErrNotRegistered
		}
	case RoleBuyer:
		acct, err := s.store.GetBuyer(ctx, addr)
		if err != nil {
			return err
		}
		if !acct.Registered {
			return ErrNotRegistered
		}
	case RoleLogistics:
		acct, err := s.store.GetProvider(ctx, addr)
		if err != nil {
			return err
		}
		if !acct.Registered {
			return ErrNotRegistered
		}
	default:
		return ErrNotRegistered
	}
	return nil
}

// GetBuyer returns a buyer account by owner address.
func (s *Service) GetBuyer(ctx context.Context, owner string) (*BuyerAccount, error) {
	return s.store.GetBuyer(ctx, strings.ToLower(strings.TrimSpace(owner)))
}

// RecordPurchase appends a purchase id to the buyer's list, enforcing the
// capacity bound.
func (s *Service) RecordPurchase(ctx context.Context, owner string, purchaseID uint64) error {
	return s.store.AppendBuyerPurchase(ctx, strings.ToLower(strings.TrimSpace(owner)), purchaseID)
}

// RemovePurchase takes a purchase id back off the buyer's list when the
// purchase it was recorded for is aborted.
func (s *Service) RemovePurchase(ctx context.Context, owner string, purchaseID uint64) error {
	return s.store.RemoveBuyerPurchase(ctx, strings.ToLower(strings.TrimSpace(owner)), purchaseID)
}

// IsRegistered reports whether the identity holds the given role.
func (s *Service) IsRegistered(ctx context.Context, owner string, role Role) (bool, error) {
	err := s.RequireRole(ctx, owner, role)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotRegistered) {
		return false, nil
	}
	return false, err
}
