//go:build integration

package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dezenmart/escrow-core/internal/testutil"
)

func setupTestStore(t *testing.T) (*PostgresStore, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), cleanup
}

func testGlobal() *Global {
	now := time.Now().Truncate(time.Microsecond)
	return &Global{
		Admin:         "0xaaaa000000000000000000000000000000000001",
		InitializedAt: now,
		UpdatedAt:     now,
	}
}

func TestPostgresState_CreateOnce(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Create(ctx, testGlobal()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Create(ctx, testGlobal()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("Expected ErrAlreadyInitialized, got %v", err)
	}

	g, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if g.Admin != "0xaaaa000000000000000000000000000000000001" {
		t.Errorf("Unexpected admin: %s", g.Admin)
	}
}

func TestPostgresState_GetBeforeCreate(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	if _, err := store.Get(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
}

func TestPostgresState_CountersNeverReuse(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Create(ctx, testGlobal()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const n = 20
	ids := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := store.NextPurchaseID(ctx)
			if err != nil {
				t.Errorf("NextPurchaseID failed: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("Duplicate id minted: %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("Expected %d unique ids, got %d", n, len(seen))
	}

	// The trade counter is independent
	tradeID, err := store.NextTradeID(ctx)
	if err != nil {
		t.Fatalf("NextTradeID failed: %v", err)
	}
	if tradeID != 1 {
		t.Errorf("Expected trade counter to start at 1, got %d", tradeID)
	}
}

func TestPostgresState_FeePoolBounds(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Create(ctx, testGlobal()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.TakeFees(ctx, 1); !errors.Is(err, ErrNoEscrowFees) {
		t.Errorf("Expected ErrNoEscrowFees on empty pool, got %v", err)
	}

	if err := store.AddFees(ctx, 100); err != nil {
		t.Fatalf("AddFees failed: %v", err)
	}
	if err := store.TakeFees(ctx, 60); err != nil {
		t.Fatalf("TakeFees failed: %v", err)
	}
	if err := store.TakeFees(ctx, 41); !errors.Is(err, ErrNoEscrowFees) {
		t.Errorf("Expected ErrNoEscrowFees on overdraw, got %v", err)
	}

	g, _ := store.Get(ctx)
	if g.WithheldFees != 40 {
		t.Errorf("Expected 40 in pool, got %d", g.WithheldFees)
	}
}
