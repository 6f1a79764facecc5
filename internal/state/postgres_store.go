package state

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists the protocol singleton in PostgreSQL.
//
// The table holds at most one row, keyed by a constant id. Counter mints and
// fee moves are single conditional UPDATE ... RETURNING statements so they
// are atomic without explicit transactions.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed state store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, g *Global) error {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO protocol_state (id, admin, trade_counter, purchase_counter, withheld_fees, initialized_at, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		g.Admin, int64(g.TradeCounter), int64(g.PurchaseCounter), int64(g.WithheldFees),
		g.InitializedAt, g.UpdatedAt,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAlreadyInitialized
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context) (*Global, error) {
	var (
		g                               Global
		tradeCtr, purchaseCtr, withheld int64
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT admin, trade_counter, purchase_counter, withheld_fees, initialized_at, updated_at
		FROM protocol_state WHERE id = 1`,
	).Scan(&g.Admin, &tradeCtr, &purchaseCtr, &withheld, &g.InitializedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	g.TradeCounter = uint64(tradeCtr)
	g.PurchaseCounter = uint64(purchaseCtr)
	g.WithheldFees = uint64(withheld)
	return &g, nil
}

func (p *PostgresStore) NextTradeID(ctx context.Context) (uint64, error) {
	return p.nextID(ctx, "trade_counter")
}

func (p *PostgresStore) NextPurchaseID(ctx context.Context) (uint64, error) {
	return p.nextID(ctx, "purchase_counter")
}

func (p *PostgresStore) nextID(ctx context.Context, column string) (uint64, error) {
	// column is one of two compile-time constants, never user input.
	var id int64
	err := p.db.QueryRowContext(ctx, `
		UPDATE protocol_state SET `+column+` = `+column+` + 1, updated_at = $1
		WHERE id = 1
		RETURNING `+column,
		time.Now(),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotInitialized
	}
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func (p *PostgresStore) AddFees(ctx context.Context, amount uint64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE protocol_state SET withheld_fees = withheld_fees + $1, updated_at = $2
		WHERE id = 1`,
		int64(amount), time.Now(),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotInitialized
	}
	return nil
}

func (p *PostgresStore) TakeFees(ctx context.Context, amount uint64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE protocol_state SET withheld_fees = withheld_fees - $1, updated_at = $2
		WHERE id = 1 AND withheld_fees >= $1 AND withheld_fees > 0`,
		int64(amount), time.Now(),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, getErr := p.Get(ctx); getErr != nil {
			return getErr
		}
		return ErrNoEscrowFees
	}
	return nil
}
