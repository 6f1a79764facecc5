package dispute

import (
	"context"
	"errors"
	"testing"

	"github.com/dezenmart/escrow-core/internal/purchase"
	"github.com/dezenmart/escrow-core/internal/state"
)

const (
	adminAddr = "0xaaaa000000000000000000000000000000000001"
	buyerAddr = "0xcccc000000000000000000000000000000000003"
)

// fakeLedger records the calls the resolver delegates.
type fakeLedger struct {
	disputedBy     string
	disputedID     uint64
	resolvedID     uint64
	resolvedWith   purchase.Outcome
	disputeErr     error
	resolveErr     error
}

func (f *fakeLedger) Dispute(ctx context.Context, caller string, purchaseID uint64) (*purchase.Purchase, error) {
	f.disputedBy = caller
	f.disputedID = purchaseID
	if f.disputeErr != nil {
		return nil, f.disputeErr
	}
	return &purchase.Purchase{PurchaseID: purchaseID, State: purchase.StateDisputed}, nil
}

func (f *fakeLedger) Resolve(ctx context.Context, purchaseID uint64, outcome purchase.Outcome) (*purchase.Purchase, error) {
	f.resolvedID = purchaseID
	f.resolvedWith = outcome
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return &purchase.Purchase{PurchaseID: purchaseID, State: purchase.StateResolved, Resolution: outcome}, nil
}

// fakeAdmin accepts a single address as the arbiter.
type fakeAdmin struct {
	admin string
}

func (f *fakeAdmin) RequireAdmin(ctx context.Context, caller string) error {
	if caller == f.admin {
		return nil
	}
	return state.ErrUnauthorized
}

func newTestService() (*Service, *fakeLedger) {
	ledger := &fakeLedger{}
	return NewService(ledger, &fakeAdmin{admin: adminAddr}), ledger
}

func TestRaiseDelegatesToPurchases(t *testing.T) {
	svc, ledger := newTestService()

	p, err := svc.Raise(context.Background(), buyerAddr, 7)
	if err != nil {
		t.Fatalf("Raise failed: %v", err)
	}
	if p.State != purchase.StateDisputed {
		t.Errorf("Expected disputed state, got %s", p.State)
	}
	if ledger.disputedBy != buyerAddr || ledger.disputedID != 7 {
		t.Errorf("Expected delegation with caller and id, got %s/%d", ledger.disputedBy, ledger.disputedID)
	}
}

func TestRaisePassesThroughErrors(t *testing.T) {
	svc, ledger := newTestService()
	ledger.disputeErr = purchase.ErrDisputeAlreadyExists

	if _, err := svc.Raise(context.Background(), buyerAddr, 7); !errors.Is(err, purchase.ErrDisputeAlreadyExists) {
		t.Errorf("Expected ErrDisputeAlreadyExists, got %v", err)
	}
}

func TestResolveAdminOnly(t *testing.T) {
	svc, ledger := newTestService()

	_, err := svc.Resolve(context.Background(), buyerAddr, 7, purchase.OutcomeRefundBuyer)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized for non-admin, got %v", err)
	}
	if ledger.resolvedID != 0 {
		t.Error("Resolution must not reach the ledger when the caller is not the admin")
	}
}

func TestResolveValidatesOutcome(t *testing.T) {
	svc, ledger := newTestService()

	_, err := svc.Resolve(context.Background(), adminAddr, 7, purchase.Outcome("split"))
	if !errors.Is(err, purchase.ErrInvalidOutcome) {
		t.Errorf("Expected ErrInvalidOutcome, got %v", err)
	}
	if ledger.resolvedID != 0 {
		t.Error("Invalid outcomes must be rejected before reaching the ledger")
	}
}

func TestResolvePassesOutcomeThrough(t *testing.T) {
	svc, ledger := newTestService()
	ctx := context.Background()

	for _, outcome := range []purchase.Outcome{purchase.OutcomeRefundBuyer, purchase.OutcomeRelease} {
		p, err := svc.Resolve(ctx, adminAddr, 7, outcome)
		if err != nil {
			t.Fatalf("Resolve %s failed: %v", outcome, err)
		}
		if p.Resolution != outcome {
			t.Errorf("Expected resolution %s, got %s", outcome, p.Resolution)
		}
		if ledger.resolvedID != 7 || ledger.resolvedWith != outcome {
			t.Errorf("Expected delegation with id 7 and %s, got %d/%s", outcome, ledger.resolvedID, ledger.resolvedWith)
		}
	}
}

func TestResolvePassesThroughLedgerErrors(t *testing.T) {
	svc, ledger := newTestService()
	ledger.resolveErr = purchase.ErrNoDisputeFound

	if _, err := svc.Resolve(context.Background(), adminAddr, 7, purchase.OutcomeRelease); !errors.Is(err, purchase.ErrNoDisputeFound) {
		t.Errorf("Expected ErrNoDisputeFound, got %v", err)
	}
}
