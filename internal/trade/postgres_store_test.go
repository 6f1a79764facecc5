//go:build integration

package trade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dezenmart/escrow-core/internal/testutil"
)

func setupTestStore(t *testing.T) (*PostgresStore, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), cleanup
}

func testTrade(id uint64) *Trade {
	now := time.Now().Truncate(time.Microsecond)
	return &Trade{
		TradeID: id,
		Seller:  "0xbbbb000000000000000000000000000000000002",
		LogisticsOptions: []LogisticsOption{
			{Provider: "0xdddd000000000000000000000000000000000004", Cost: 100},
		},
		ProductCost:       1000,
		TotalQuantity:     10,
		RemainingQuantity: 10,
		Active:            true,
		PurchaseIDs:       []uint64{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestPostgresTrade_CreateAndGet(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	want := testTrade(1)
	if err := store.Create(ctx, want); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Seller != want.Seller {
		t.Errorf("Seller: got %s, want %s", got.Seller, want.Seller)
	}
	if got.ProductCost != 1000 || got.TotalQuantity != 10 || got.RemainingQuantity != 10 {
		t.Errorf("Unexpected quantities: %+v", got)
	}
	if len(got.LogisticsOptions) != 1 || got.LogisticsOptions[0].Cost != 100 {
		t.Errorf("Logistics options did not round-trip: %+v", got.LogisticsOptions)
	}
	if !got.Active {
		t.Error("Expected active trade")
	}
}

func TestPostgresTrade_GetMissing(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	if _, err := store.Get(context.Background(), 404); !errors.Is(err, ErrTradeNotFound) {
		t.Errorf("Expected ErrTradeNotFound, got %v", err)
	}
}

func TestPostgresTrade_ReserveConditionalUpdate(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Create(ctx, testTrade(1)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	after, err := store.Reserve(ctx, 1, 4)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if after.RemainingQuantity != 6 {
		t.Errorf("Expected 6 remaining, got %d", after.RemainingQuantity)
	}

	if _, err := store.Reserve(ctx, 1, 7); !errors.Is(err, ErrInsufficientQuantity) {
		t.Errorf("Expected ErrInsufficientQuantity, got %v", err)
	}

	if err := store.SetActive(ctx, 1, false); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	if _, err := store.Reserve(ctx, 1, 1); !errors.Is(err, ErrTradeInactive) {
		t.Errorf("Expected ErrTradeInactive, got %v", err)
	}
}

func TestPostgresTrade_RestoreCapsAtTotal(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Create(ctx, testTrade(1)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Reserve(ctx, 1, 3); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	// Restoring more than was reserved clamps at the total
	if err := store.Restore(ctx, 1, 100); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	got, _ := store.Get(ctx, 1)
	if got.RemainingQuantity != 10 {
		t.Errorf("Expected restore capped at 10, got %d", got.RemainingQuantity)
	}
}

func TestPostgresTrade_AppendPurchaseID(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Create(ctx, testTrade(1)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for _, id := range []uint64{5, 6} {
		if err := store.AppendPurchaseID(ctx, 1, id); err != nil {
			t.Fatalf("AppendPurchaseID %d failed: %v", id, err)
		}
	}

	got, _ := store.Get(ctx, 1)
	if len(got.PurchaseIDs) != 2 || got.PurchaseIDs[0] != 5 || got.PurchaseIDs[1] != 6 {
		t.Errorf("Expected purchase ids [5 6], got %v", got.PurchaseIDs)
	}
}

func TestPostgresTrade_ListBySeller(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	for id := uint64(1); id <= 3; id++ {
		if err := store.Create(ctx, testTrade(id)); err != nil {
			t.Fatalf("Create %d failed: %v", id, err)
		}
	}

	trades, err := store.ListBySeller(ctx, "0xbbbb000000000000000000000000000000000002", 10)
	if err != nil {
		t.Fatalf("ListBySeller failed: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("Expected 3 trades, got %d", len(trades))
	}
	if trades[0].TradeID != 3 {
		t.Errorf("Expected newest first, got trade %d", trades[0].TradeID)
	}
}
