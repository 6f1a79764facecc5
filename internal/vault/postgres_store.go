package vault

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists vault holdings and payouts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed vault store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateHolding(ctx context.Context, h *Holding) error {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO vault_holdings (purchase_id, payer, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (purchase_id) DO NOTHING`,
		int64(h.PurchaseID), h.Payer, int64(h.Amount), string(h.Status), h.CreatedAt,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrHoldingExists
	}
	return nil
}

func (p *PostgresStore) GetHolding(ctx context.Context, purchaseID uint64) (*Holding, error) {
	var (
		h             Holding
		amount        int64
		status        string
		settledAt     sql.NullTime
		purchaseIDRow int64
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT purchase_id, payer, amount, status, created_at, settled_at
		FROM vault_holdings WHERE purchase_id = $1`,
		int64(purchaseID),
	).Scan(&purchaseIDRow, &h.Payer, &amount, &status, &h.CreatedAt, &settledAt)
	if err == sql.ErrNoRows {
		return nil, ErrHoldingNotFound
	}
	if err != nil {
		return nil, err
	}
	h.PurchaseID = uint64(purchaseIDRow)
	h.Amount = uint64(amount)
	h.Status = HoldingStatus(status)
	if settledAt.Valid {
		t := settledAt.Time
		h.SettledAt = &t
	}
	return &h, nil
}

// Settle flips the holding to its terminal status and records the payouts in
// one transaction. The conditional UPDATE guards against double settlement:
// if another caller settled first, zero rows match and we roll back.
func (p *PostgresStore) Settle(ctx context.Context, purchaseID uint64, status HoldingStatus, payouts []Payout) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	result, err := tx.ExecContext(ctx, `
		UPDATE vault_holdings SET status = $1, settled_at = $2
		WHERE purchase_id = $3 AND status = 'held'`,
		string(status), now, int64(purchaseID),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, getErr := p.GetHolding(ctx, purchaseID); getErr != nil {
			return getErr
		}
		return ErrHoldingSettled
	}

	for _, payout := range payouts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vault_payouts (purchase_id, address, amount, kind, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			nullPurchaseID(payout.PurchaseID), payout.Address, int64(payout.Amount),
			string(payout.Kind), payout.CreatedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) RecordPayout(ctx context.Context, payout *Payout) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO vault_payouts (purchase_id, address, amount, kind, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		nullPurchaseID(payout.PurchaseID), payout.Address, int64(payout.Amount),
		string(payout.Kind), payout.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Balance(ctx context.Context, address string) (uint64, error) {
	var total int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM vault_payouts WHERE address = $1`,
		address,
	).Scan(&total)
	if err != nil {
		return 0, err
	}
	return uint64(total), nil
}

func (p *PostgresStore) ListPayouts(ctx context.Context, address string, limit int) ([]*Payout, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT COALESCE(purchase_id, 0), address, amount, kind, created_at
		FROM vault_payouts
		WHERE address = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		address, limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Payout
	for rows.Next() {
		var (
			payout     Payout
			purchaseID int64
			amount     int64
			kind       string
		)
		if err := rows.Scan(&purchaseID, &payout.Address, &amount, &kind, &payout.CreatedAt); err != nil {
			return nil, err
		}
		payout.PurchaseID = uint64(purchaseID)
		payout.Amount = uint64(amount)
		payout.Kind = PayoutKind(kind)
		result = append(result, &payout)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Totals(ctx context.Context) (*Totals, error) {
	t := &Totals{}
	var deposited, held int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0),
		       COALESCE(SUM(amount) FILTER (WHERE status = 'held'), 0)
		FROM vault_holdings`,
	).Scan(&deposited, &held)
	if err != nil {
		return nil, err
	}
	t.Deposited = uint64(deposited)
	t.Held = uint64(held)

	rows, err := p.db.QueryContext(ctx, `
		SELECT kind, COALESCE(SUM(amount), 0) FROM vault_payouts GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			kind  string
			total int64
		)
		if err := rows.Scan(&kind, &total); err != nil {
			return nil, err
		}
		switch PayoutKind(kind) {
		case PayoutSeller, PayoutLogistics:
			t.Released += uint64(total)
		case PayoutRefund:
			t.Refunded += uint64(total)
		case PayoutFee:
			t.FeesWithheld += uint64(total)
		case PayoutFeeWithdrawal:
			t.FeesWithdrawn += uint64(total)
		}
	}
	return t, rows.Err()
}

func nullPurchaseID(id uint64) interface{} {
	if id == 0 {
		return nil
	}
	return int64(id)
}
