package vault

import (
	"context"
	"errors"
	"testing"
)

const (
	testBuyer     = "0xcccc000000000000000000000000000000000003"
	testSeller    = "0xbbbb000000000000000000000000000000000002"
	testLogistics = "0xdddd000000000000000000000000000000000004"
	testAdmin     = "0xaaaa000000000000000000000000000000000001"
)

func newTestService() *Service {
	return NewService(NewMemoryStore())
}

func TestDepositCreatesHolding(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if err := s.Deposit(ctx, 1, testBuyer, 2250); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	h, err := s.Holding(ctx, 1)
	if err != nil {
		t.Fatalf("Holding failed: %v", err)
	}
	if h.Amount != 2250 {
		t.Errorf("Expected amount 2250, got %d", h.Amount)
	}
	if h.Status != HoldingHeld {
		t.Errorf("Expected status held, got %s", h.Status)
	}
	if h.Payer != testBuyer {
		t.Errorf("Expected payer %s, got %s", testBuyer, h.Payer)
	}
}

func TestDepositDuplicateRejected(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if err := s.Deposit(ctx, 1, testBuyer, 100); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := s.Deposit(ctx, 1, testBuyer, 100); !errors.Is(err, ErrHoldingExists) {
		t.Errorf("Expected ErrHoldingExists, got %v", err)
	}
}

func TestReleaseSplitMustAccountForEveryUnit(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if err := s.Deposit(ctx, 1, testBuyer, 2250); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	// Split sums to 2200, not 2250
	err := s.Release(ctx, 1,
		Payout{Address: testSeller, Amount: 2000, Kind: PayoutSeller},
		Payout{Address: testLogistics, Amount: 200, Kind: PayoutLogistics},
	)
	if !errors.Is(err, ErrSplitMismatch) {
		t.Errorf("Expected ErrSplitMismatch, got %v", err)
	}

	// Holding untouched after the rejected split
	h, err := s.Holding(ctx, 1)
	if err != nil {
		t.Fatalf("Holding failed: %v", err)
	}
	if h.Status != HoldingHeld {
		t.Errorf("Expected holding still held after bad split, got %s", h.Status)
	}
}

func TestReleaseSettlesAndCredits(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if err := s.Deposit(ctx, 1, testBuyer, 2250); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	err := s.Release(ctx, 1,
		Payout{Address: testSeller, Amount: 2000, Kind: PayoutSeller},
		Payout{Address: testLogistics, Amount: 200, Kind: PayoutLogistics},
		Payout{Amount: 50, Kind: PayoutFee},
	)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	h, _ := s.Holding(ctx, 1)
	if h.Status != HoldingReleased {
		t.Errorf("Expected status released, got %s", h.Status)
	}
	if h.SettledAt == nil {
		t.Error("Expected settledAt to be set")
	}

	sellerBal, _ := s.Balance(ctx, testSeller)
	if sellerBal != 2000 {
		t.Errorf("Expected seller balance 2000, got %d", sellerBal)
	}
	logiBal, _ := s.Balance(ctx, testLogistics)
	if logiBal != 200 {
		t.Errorf("Expected logistics balance 200, got %d", logiBal)
	}
}

func TestSettleExactlyOnce(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if err := s.Deposit(ctx, 1, testBuyer, 1125); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := s.Refund(ctx, 1, testBuyer); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}

	// Any further settlement attempt must fail
	if err := s.Refund(ctx, 1, testBuyer); !errors.Is(err, ErrHoldingSettled) {
		t.Errorf("Expected ErrHoldingSettled on double refund, got %v", err)
	}
	err := s.Release(ctx, 1, Payout{Address: testSeller, Amount: 1125, Kind: PayoutSeller})
	if !errors.Is(err, ErrHoldingSettled) {
		t.Errorf("Expected ErrHoldingSettled on release after refund, got %v", err)
	}
}

func TestRefundReturnsFullAmountFeeIncluded(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if err := s.Deposit(ctx, 1, testBuyer, 1125); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := s.Refund(ctx, 1, testBuyer); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}

	bal, _ := s.Balance(ctx, testBuyer)
	if bal != 1125 {
		t.Errorf("Expected full refund 1125 (fee included), got %d", bal)
	}
}

func TestReleaseUnknownHolding(t *testing.T) {
	s := newTestService()

	err := s.Release(context.Background(), 42, Payout{Address: testSeller, Amount: 1, Kind: PayoutSeller})
	if !errors.Is(err, ErrHoldingNotFound) {
		t.Errorf("Expected ErrHoldingNotFound, got %v", err)
	}
}

func TestTotalsConservation(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	// Purchase 1: released (2000 seller + 200 logistics + 50 fee)
	_ = s.Deposit(ctx, 1, testBuyer, 2250)
	if err := s.Release(ctx, 1,
		Payout{Address: testSeller, Amount: 2000, Kind: PayoutSeller},
		Payout{Address: testLogistics, Amount: 200, Kind: PayoutLogistics},
		Payout{Amount: 50, Kind: PayoutFee},
	); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// Purchase 2: refunded in full
	_ = s.Deposit(ctx, 2, testBuyer, 1125)
	if err := s.Refund(ctx, 2, testBuyer); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}

	// Purchase 3: still held
	_ = s.Deposit(ctx, 3, testBuyer, 500)

	// Admin sweeps the fee pool
	if err := s.PayFees(ctx, testAdmin, 50); err != nil {
		t.Fatalf("PayFees failed: %v", err)
	}

	totals, err := s.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if totals.Deposited != 2250+1125+500 {
		t.Errorf("Expected deposited %d, got %d", 2250+1125+500, totals.Deposited)
	}
	if totals.Held != 500 {
		t.Errorf("Expected held 500, got %d", totals.Held)
	}
	if totals.Released != 2200 {
		t.Errorf("Expected released 2200, got %d", totals.Released)
	}
	if totals.Refunded != 1125 {
		t.Errorf("Expected refunded 1125, got %d", totals.Refunded)
	}
	if totals.FeesWithheld != 50 {
		t.Errorf("Expected fees withheld 50, got %d", totals.FeesWithheld)
	}
	if totals.FeesWithdrawn != 50 {
		t.Errorf("Expected fees withdrawn 50, got %d", totals.FeesWithdrawn)
	}

	// Conservation: every deposited unit is accounted for
	accounted := totals.Held + totals.Released + totals.Refunded + totals.FeesWithheld
	if accounted != totals.Deposited {
		t.Errorf("Conservation violated: held+released+refunded+fees = %d, deposited = %d",
			accounted, totals.Deposited)
	}
}

func TestListPayoutsNewestFirst(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		_ = s.Deposit(ctx, i, testBuyer, 100)
		if err := s.Release(ctx, i, Payout{Address: testSeller, Amount: 100, Kind: PayoutSeller}); err != nil {
			t.Fatalf("Release %d failed: %v", i, err)
		}
	}

	payouts, err := s.ListPayouts(ctx, testSeller, 2)
	if err != nil {
		t.Fatalf("ListPayouts failed: %v", err)
	}
	if len(payouts) != 2 {
		t.Fatalf("Expected 2 payouts, got %d", len(payouts))
	}
	if payouts[0].PurchaseID != 3 {
		t.Errorf("Expected newest payout first (purchase 3), got %d", payouts[0].PurchaseID)
	}
}
