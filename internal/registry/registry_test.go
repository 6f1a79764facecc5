package registry

import (
	"context"
	"errors"
	"testing"
)

const (
	sellerAddr = "0xBBBB000000000000000000000000000000000002"
	buyerAddr  = "0xCCCC000000000000000000000000000000000003"
	logiAddr   = "0xDDDD000000000000000000000000000000000004"
)

func newTestService() *Service {
	return NewService(NewMemoryStore())
}

func TestRegisterSeller(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	acct, err := s.RegisterSeller(ctx, sellerAddr)
	if err != nil {
		t.Fatalf("RegisterSeller failed: %v", err)
	}
	if acct.Owner != "0xbbbb000000000000000000000000000000000002" {
		t.Errorf("Expected lowercased owner, got %s", acct.Owner)
	}
	if !acct.Registered {
		t.Error("Expected account to be registered")
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.RegisterBuyer(ctx, buyerAddr); err != nil {
		t.Fatalf("RegisterBuyer failed: %v", err)
	}
	// Case variations hit the same account
	if _, err := s.RegisterBuyer(ctx, "0xcccc000000000000000000000000000000000003"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("Expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegisterInvalidAddress(t *testing.T) {
	s := newTestService()

	if _, err := s.RegisterProvider(context.Background(), "bogus"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Expected ErrInvalidAddress, got %v", err)
	}
}

func TestRolesAreIndependent(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	// One identity may hold several roles
	if _, err := s.RegisterSeller(ctx, sellerAddr); err != nil {
		t.Fatalf("RegisterSeller failed: %v", err)
	}
	if _, err := s.RegisterBuyer(ctx, sellerAddr); err != nil {
		t.Fatalf("RegisterBuyer for same identity failed: %v", err)
	}

	if err := s.RequireRole(ctx, sellerAddr, RoleSeller); err != nil {
		t.Errorf("Expected seller role, got %v", err)
	}
	if err := s.RequireRole(ctx, sellerAddr, RoleBuyer); err != nil {
		t.Errorf("Expected buyer role, got %v", err)
	}
	if err := s.RequireRole(ctx, sellerAddr, RoleLogistics); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Expected ErrNotRegistered for missing role, got %v", err)
	}
}

func TestRequireRoleUnknownIdentity(t *testing.T) {
	s := newTestService()

	if err := s.RequireRole(context.Background(), buyerAddr, RoleBuyer); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Expected ErrNotRegistered, got %v", err)
	}
}

func TestIsRegistered(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.RegisterProvider(ctx, logiAddr); err != nil {
		t.Fatalf("RegisterProvider failed: %v", err)
	}

	ok, err := s.IsRegistered(ctx, logiAddr, RoleLogistics)
	if err != nil || !ok {
		t.Errorf("Expected registered logistics provider, got ok=%v err=%v", ok, err)
	}
	ok, err = s.IsRegistered(ctx, logiAddr, RoleSeller)
	if err != nil || ok {
		t.Errorf("Expected not registered as seller, got ok=%v err=%v", ok, err)
	}
}

func TestRecordPurchaseAppends(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.RegisterBuyer(ctx, buyerAddr); err != nil {
		t.Fatalf("RegisterBuyer failed: %v", err)
	}
	for id := uint64(1); id <= 3; id++ {
		if err := s.RecordPurchase(ctx, buyerAddr, id); err != nil {
			t.Fatalf("RecordPurchase %d failed: %v", id, err)
		}
	}

	acct, err := s.GetBuyer(ctx, buyerAddr)
	if err != nil {
		t.Fatalf("GetBuyer failed: %v", err)
	}
	if len(acct.PurchaseIDs) != 3 {
		t.Errorf("Expected 3 purchase ids, got %d", len(acct.PurchaseIDs))
	}
	if acct.PurchaseIDs[2] != 3 {
		t.Errorf("Expected purchase ids in order, got %v", acct.PurchaseIDs)
	}
}

func TestRecordPurchaseCapacityBound(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.RegisterBuyer(ctx, buyerAddr); err != nil {
		t.Fatalf("RegisterBuyer failed: %v", err)
	}
	for id := uint64(1); id <= MaxBuyerPurchaseRefs; id++ {
		if err := s.RecordPurchase(ctx, buyerAddr, id); err != nil {
			t.Fatalf("RecordPurchase %d failed: %v", id, err)
		}
	}

	// The list is full; the next append must fail
	err := s.RecordPurchase(ctx, buyerAddr, MaxBuyerPurchaseRefs+1)
	if !errors.Is(err, ErrPurchaseRefsFull) {
		t.Errorf("Expected ErrPurchaseRefsFull, got %v", err)
	}

	acct, _ := s.GetBuyer(ctx, buyerAddr)
	if len(acct.PurchaseIDs) != MaxBuyerPurchaseRefs {
		t.Errorf("Expected list capped at %d, got %d", MaxBuyerPurchaseRefs, len(acct.PurchaseIDs))
	}
}

func TestRemovePurchase(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.RegisterBuyer(ctx, buyerAddr); err != nil {
		t.Fatalf("RegisterBuyer failed: %v", err)
	}
	for id := uint64(1); id <= 3; id++ {
		if err := s.RecordPurchase(ctx, buyerAddr, id); err != nil {
			t.Fatalf("RecordPurchase %d failed: %v", id, err)
		}
	}

	if err := s.RemovePurchase(ctx, buyerAddr, 2); err != nil {
		t.Fatalf("RemovePurchase failed: %v", err)
	}
	acct, _ := s.GetBuyer(ctx, buyerAddr)
	if len(acct.PurchaseIDs) != 2 || acct.PurchaseIDs[0] != 1 || acct.PurchaseIDs[1] != 3 {
		t.Errorf("Expected purchase ids [1 3], got %v", acct.PurchaseIDs)
	}

	// Removing an id that is not on the list is a no-op
	if err := s.RemovePurchase(ctx, buyerAddr, 99); err != nil {
		t.Errorf("Expected no-op for missing id, got %v", err)
	}
	acct, _ = s.GetBuyer(ctx, buyerAddr)
	if len(acct.PurchaseIDs) != 2 {
		t.Errorf("List changed on no-op removal: %v", acct.PurchaseIDs)
	}

	if err := s.RemovePurchase(ctx, sellerAddr, 1); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Expected ErrNotRegistered for unknown buyer, got %v", err)
	}
}

func TestRecordPurchaseUnknownBuyer(t *testing.T) {
	s := newTestService()

	if err := s.RecordPurchase(context.Background(), buyerAddr, 1); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Expected ErrNotRegistered, got %v", err)
	}
}
