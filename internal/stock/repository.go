package stock

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository provides PostgreSQL backed persistence for the stock ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// HasWorkOrderMovements reports whether a work order already has ledger rows.
func (r *Repository) HasWorkOrderMovements(ctx context.Context, workOrderID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM stock_movements
			WHERE work_order_id = $1 AND movement_type = 'work_order_out'
		)`, workOrderID).Scan(&exists)
	return exists, err
}

// InsertMovements writes a batch of ledger rows atomically.
func (r *Repository) InsertMovements(ctx context.Context, movements []Movement) error {
	batch := &pgx.Batch{}
	for _, m := range movements {
		batch.Queue(`
			INSERT INTO stock_movements (id, part_id, work_order_id, movement_type, quantity, notes)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, m.PartID, m.WorkOrderID, m.Type, m.Quantity,
			pgtype.Text{String: m.Notes, Valid: m.Notes != ""})
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// OnHand sums the movements of one part.
func (r *Repository) OnHand(ctx context.Context, partID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM stock_movements
		WHERE part_id = $1`, partID).Scan(&total)
	return total, err
}

// ListLowStock returns parts whose on-hand quantity is below the reorder
// threshold.
func (r *Repository) ListLowStock(ctx context.Context) ([]LowStockEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.code, p.name, p.unit_price, p.minimum_stock,
			COALESCE(SUM(m.quantity), 0) AS on_hand
		FROM parts p
		LEFT JOIN stock_movements m ON m.part_id = p.id
		WHERE p.minimum_stock > 0
		GROUP BY p.id, p.code, p.name, p.unit_price, p.minimum_stock
		HAVING COALESCE(SUM(m.quantity), 0) < p.minimum_stock
		ORDER BY p.code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LowStockEntry
	for rows.Next() {
		var e LowStockEntry
		if err := rows.Scan(&e.Part.ID, &e.Part.Code, &e.Part.Name, &e.Part.UnitPrice, &e.Part.MinimumStock, &e.OnHand); err != nil {
			return nil, err
		}
		e.Shortage = e.Part.MinimumStock.Sub(e.OnHand)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
