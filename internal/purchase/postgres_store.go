package purchase

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists purchases in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed purchase store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const purchaseColumns = `purchase_id, trade_id, buyer, seller, logistics_provider,
		       quantity, unit_product_cost, unit_logistics_cost, escrow_fee,
		       total_amount, state, resolution, created_at, updated_at,
		       delivered_at, disputed_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, pu *Purchase) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO purchases (
			purchase_id, trade_id, buyer, seller, logistics_provider,
			quantity, unit_product_cost, unit_logistics_cost, escrow_fee,
			total_amount, state, resolution, created_at, updated_at,
			delivered_at, disputed_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		int64(pu.PurchaseID), int64(pu.TradeID), pu.Buyer, pu.Seller, pu.LogisticsProvider,
		int64(pu.Quantity), int64(pu.UnitProductCost), int64(pu.UnitLogisticsCost),
		int64(pu.EscrowFee), int64(pu.TotalAmount), string(pu.State),
		nullOutcome(pu.Resolution), pu.CreatedAt, pu.UpdatedAt,
		nullTime(pu.DeliveredAt), nullTime(pu.DisputedAt), nullTime(pu.ResolvedAt),
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, purchaseID uint64) (*Purchase, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE purchase_id = $1`, int64(purchaseID))
	pu, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return nil, ErrPurchaseNotFound
	}
	return pu, err
}

func (p *PostgresStore) Update(ctx context.Context, pu *Purchase) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE purchases SET
			state = $1, resolution = $2, updated_at = $3,
			delivered_at = $4, disputed_at = $5, resolved_at = $6
		WHERE purchase_id = $7`,
		string(pu.State), nullOutcome(pu.Resolution), pu.UpdatedAt,
		nullTime(pu.DeliveredAt), nullTime(pu.DisputedAt), nullTime(pu.ResolvedAt),
		int64(pu.PurchaseID),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPurchaseNotFound
	}
	return nil
}

func (p *PostgresStore) ListByBuyer(ctx context.Context, buyer string, limit int) ([]*Purchase, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE buyer = $1 ORDER BY purchase_id DESC LIMIT $2`,
		buyer, limit)
	if err != nil {
		return nil, err
	}
	return scanPurchases(rows)
}

func (p *PostgresStore) ListByTrade(ctx context.Context, tradeID uint64, limit int) ([]*Purchase, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE trade_id = $1 ORDER BY purchase_id DESC LIMIT $2`,
		int64(tradeID), limit)
	if err != nil {
		return nil, err
	}
	return scanPurchases(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPurchase(row rowScanner) (*Purchase, error) {
	var (
		pu                                Purchase
		purchaseID, tradeID               int64
		quantity, unitProduct             int64
		unitLogistics, fee, total         int64
		state                             string
		resolution                        sql.NullString
		deliveredAt, disputedAt, resolved sql.NullTime
	)
	err := row.Scan(&purchaseID, &tradeID, &pu.Buyer, &pu.Seller, &pu.LogisticsProvider,
		&quantity, &unitProduct, &unitLogistics, &fee, &total,
		&state, &resolution, &pu.CreatedAt, &pu.UpdatedAt,
		&deliveredAt, &disputedAt, &resolved)
	if err != nil {
		return nil, err
	}
	pu.PurchaseID = uint64(purchaseID)
	pu.TradeID = uint64(tradeID)
	pu.Quantity = uint64(quantity)
	pu.UnitProductCost = uint64(unitProduct)
	pu.UnitLogisticsCost = uint64(unitLogistics)
	pu.EscrowFee = uint64(fee)
	pu.TotalAmount = uint64(total)
	pu.State = State(state)
	if resolution.Valid {
		pu.Resolution = Outcome(resolution.String)
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		pu.DeliveredAt = &t
	}
	if disputedAt.Valid {
		t := disputedAt.Time
		pu.DisputedAt = &t
	}
	if resolved.Valid {
		t := resolved.Time
		pu.ResolvedAt = &t
	}
	return &pu, nil
}

func scanPurchases(rows *sql.Rows) ([]*Purchase, error) {
	defer func() { _ = rows.Close() }()

	var result []*Purchase
	for rows.Next() {
		pu, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pu)
	}
	return result, rows.Err()
}

func nullOutcome(o Outcome) sql.NullString {
	if o == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(o), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
