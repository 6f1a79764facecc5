package trade

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists trades in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed trade store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tradeColumns = `trade_id, seller, logistics_options, product_cost,
		       total_quantity, remaining_quantity, active, purchase_ids,
		       created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Trade) error {
	optsJSON, err := json.Marshal(t.LogisticsOptions)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO trades (
			trade_id, seller, logistics_options, product_cost,
			total_quantity, remaining_quantity, active, purchase_ids,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		int64(t.TradeID), t.Seller, optsJSON, int64(t.ProductCost),
		int64(t.TotalQuantity), int64(t.RemainingQuantity), t.Active,
		purchaseIDsArray(t.PurchaseIDs), t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, tradeID uint64) (*Trade, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE trade_id = $1`, int64(tradeID))
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, ErrTradeNotFound
	}
	return t, err
}

func (p *PostgresStore) SetActive(ctx context.Context, tradeID uint64, active bool) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE trades SET active = $1, updated_at = $2 WHERE trade_id = $3`,
		active, time.Now(), int64(tradeID),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTradeNotFound
	}
	return nil
}

// Reserve decrements remaining quantity with a conditional UPDATE so the
// bound check and the decrement commit atomically.
func (p *PostgresStore) Reserve(ctx context.Context, tradeID uint64, quantity uint64) (*Trade, error) {
	if quantity == 0 {
		return nil, ErrInvalidQuantity
	}
	row := p.db.QueryRowContext(ctx, `
		UPDATE trades
		SET remaining_quantity = remaining_quantity - $1, updated_at = $2
		WHERE trade_id = $3 AND active AND remaining_quantity >= $1
		RETURNING `+tradeColumns,
		int64(quantity), time.Now(), int64(tradeID),
	)
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		// Zero rows: diagnose which precondition failed.
		existing, getErr := p.Get(ctx, tradeID)
		if getErr != nil {
			return nil, getErr
		}
		if !existing.Active {
			return nil, ErrTradeInactive
		}
		return nil, ErrInsufficientQuantity
	}
	return t, err
}

func (p *PostgresStore) Restore(ctx context.Context, tradeID uint64, quantity uint64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE trades
		SET remaining_quantity = LEAST(remaining_quantity + $1, total_quantity),
		    updated_at = $2
		WHERE trade_id = $3`,
		int64(quantity), time.Now(), int64(tradeID),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTradeNotFound
	}
	return nil
}

func (p *PostgresStore) AppendPurchaseID(ctx context.Context, tradeID uint64, purchaseID uint64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE trades
		SET purchase_ids = array_append(purchase_ids, $1), updated_at = $2
		WHERE trade_id = $3`,
		int64(purchaseID), time.Now(), int64(tradeID),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTradeNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Trade, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades ORDER BY trade_id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return scanTrades(rows)
}

func (p *PostgresStore) ListBySeller(ctx context.Context, seller string, limit int) ([]*Trade, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE seller = $1 ORDER BY trade_id DESC LIMIT $2`,
		seller, limit)
	if err != nil {
		return nil, err
	}
	return scanTrades(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (*Trade, error) {
	var (
		t                           Trade
		tradeID, productCost        int64
		totalQuantity, remainingQty int64
		optsJSON                    []byte
		ids                         pq.Int64Array
	)
	err := row.Scan(&tradeID, &t.Seller, &optsJSON, &productCost,
		&totalQuantity, &remainingQty, &t.Active, &ids,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.TradeID = uint64(tradeID)
	t.ProductCost = uint64(productCost)
	t.TotalQuantity = uint64(totalQuantity)
	t.RemainingQuantity = uint64(remainingQty)
	if err := json.Unmarshal(optsJSON, &t.LogisticsOptions); err != nil {
		return nil, err
	}
	t.PurchaseIDs = make([]uint64, len(ids))
	for i, id := range ids {
		t.PurchaseIDs[i] = uint64(id)
	}
	return &t, nil
}

func scanTrades(rows *sql.Rows) ([]*Trade, error) {
	defer func() { _ = rows.Close() }()

	var result []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func purchaseIDsArray(ids []uint64) pq.Int64Array {
	out := make(pq.Int64Array, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
