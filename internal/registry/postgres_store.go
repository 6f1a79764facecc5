package registry

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists registry accounts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed registry store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateSeller(ctx context.Context, acct *SellerAccount) error {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO sellers (owner, registered, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner) DO NOTHING`,
		acct.Owner, acct.Registered, acct.CreatedAt,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAlreadyRegistered
	}
	return nil
}

func (p *PostgresStore) GetSeller(ctx context.Context, owner string) (*SellerAccount, error) {
	var acct SellerAccount
	err := p.db.QueryRowContext(ctx, `
		SELECT owner, registered, created_at FROM sellers WHERE owner = $1`,
		owner,
	).Scan(&acct.Owner, &acct.Registered, &acct.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotRegistered
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func (p *PostgresStore) CreateBuyer(ctx context.Context, acct *BuyerAccount) error {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO buyers (owner, registered, purchase_ids, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner) DO NOTHING`,
		acct.Owner, acct.Registered, purchaseIDsArray(acct.PurchaseIDs), acct.CreatedAt,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAlreadyRegistered
	}
	return nil
}

func (p *PostgresStore) GetBuyer(ctx context.Context, owner string) (*BuyerAccount, error) {
	var (
		acct BuyerAccount
		ids  pq.Int64Array
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT owner, registered, purchase_ids, created_at FROM buyers WHERE owner = $1`,
		owner,
	).Scan(&acct.Owner, &acct.Registered, &ids, &acct.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotRegistered
	}
	if err != nil {
		return nil, err
	}
	acct.PurchaseIDs = make([]uint64, len(ids))
	for i, id := range ids {
		acct.PurchaseIDs[i] = uint64(id)
	}
	return &acct, nil
}

// AppendBuyerPurchase appends atomically: the capacity check and the append
// happen in one conditional UPDATE so concurrent purchases cannot race past
// the bound.
func (p *PostgresStore) AppendBuyerPurchase(ctx context.Context, owner string, purchaseID uint64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE buyers
		SET purchase_ids = array_append(purchase_ids, $1)
		WHERE owner = $2
		  AND registered
		  AND COALESCE(array_length(purchase_ids, 1), 0) < $3`,
		int64(purchaseID), owner, MaxBuyerPurchaseRefs,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing buyer from a full list.
		if _, getErr := p.GetBuyer(ctx, owner); getErr != nil {
			return getErr
		}
		return ErrPurchaseRefsFull
	}
	return nil
}

// RemoveBuyerPurchase takes a purchase id back off the buyer's list. Used to
// unwind an aborted purchase; removing an id that is not on the list is a
// no-op.
func (p *PostgresStore) RemoveBuyerPurchase(ctx context.Context, owner string, purchaseID uint64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE buyers
		SET purchase_ids = array_remove(purchase_ids, $1)
		WHERE owner = $2 AND registered`,
		int64(purchaseID), owner,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotRegistered
	}
	return nil
}

func (p *PostgresStore) CreateProvider(ctx context.Context, acct *ProviderAccount) error {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO logistics_providers (owner, registered, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner) DO NOTHING`,
		acct.Owner, acct.Registered, acct.CreatedAt,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAlreadyRegistered
	}
	return nil
}

func (p *PostgresStore) GetProvider(ctx context.Context, owner string) (*ProviderAccount, error) {
	var acct ProviderAccount
	err := p.db.QueryRowContext(ctx, `
		SELECT owner, registered, created_at FROM logistics_providers WHERE owner = $1`,
		owner,
	).Scan(&acct.Owner, &acct.Registered, &acct.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotRegistered
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func purchaseIDsArray(ids []uint64) pq.Int64Array {
	out := make(pq.Int64Array, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
