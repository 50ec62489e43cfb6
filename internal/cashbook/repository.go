package cashbook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/officina-erp/officina-erp/internal/platform/db"
	"github.com/officina-erp/officina-erp/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the cashbook.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(Tx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&txRepo{q: tx})
	})
}

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func summarize(ctx context.Context, q rowQuerier, day time.Time) (*DaySummary, error) {
	day = shared.Day(day)
	s := &DaySummary{CloseDate: day}

	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(total), 0), COUNT(*)
		FROM invoices
		WHERE invoice_date = $1 AND status <> 'cancelled'`, day).Scan(&s.InvoicedTotal, &s.InvoicedCount)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT method, COALESCE(SUM(amount), 0), COUNT(*)
		FROM payments
		WHERE payment_date = $1
		GROUP BY method`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var method string
		var total decimal.Decimal
		var count int
		if err := rows.Scan(&method, &total, &count); err != nil {
			return nil, err
		}
		switch method {
		case "cash":
			s.Payments.Cash = total
		case "pos":
			s.Payments.POS = total
		case "bank_transfer":
			s.Payments.BankTransfer = total
		case "check":
			s.Payments.Check = total
		default:
			s.Payments.Other = s.Payments.Other.Add(total)
		}
		s.PaymentsCount += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0), COUNT(*)
		FROM deposits
		WHERE deposit_date = $1`, day).Scan(&s.DepositsIn, &s.DepositsCount)
	if err != nil {
		return nil, err
	}

	err = q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM cash_movements
		WHERE movement_date = $1 AND direction = 'out'`, day).Scan(&s.RefundsOut)
	if err != nil {
		return nil, err
	}

	s.GrandTotal = s.Payments.Sum().Add(s.DepositsIn).Sub(s.RefundsOut)
	return s, nil
}

// Summarize computes the day summary from live data.
func (r *Repository) Summarize(ctx context.Context, day time.Time) (*DaySummary, error) {
	return summarize(ctx, r.pool, day)
}

const closingColumns = `id, close_date, invoiced_total, invoices_count,
	cash_total, pos_total, bank_transfer_total, check_total, other_total,
	payments_count, deposits_total, deposits_count, refunds_total, grand_total,
	counted_cash, discrepancy, is_reconciled, reconciled_at, closed_by, notes, created_at`

func scanClosing(row pgx.Row) (*Closing, error) {
	var c Closing
	var counted, discrepancy pgtype.Numeric
	var reconciledAt pgtype.Timestamptz
	var closedBy, notes pgtype.Text

	err := row.Scan(
		&c.ID, &c.CloseDate, &c.InvoicedTotal, &c.InvoicedCount,
		&c.Payments.Cash, &c.Payments.POS, &c.Payments.BankTransfer,
		&c.Payments.Check, &c.Payments.Other,
		&c.PaymentsCount, &c.DepositsIn, &c.DepositsCount, &c.RefundsOut, &c.GrandTotal,
		&counted, &discrepancy, &c.IsReconciled, &reconciledAt, &closedBy, &notes, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if counted.Valid {
		v := decimal.NewFromBigInt(counted.Int, counted.Exp)
		c.CountedCash = &v
	}
	if discrepancy.Valid {
		v := decimal.NewFromBigInt(discrepancy.Int, discrepancy.Exp)
		c.Discrepancy = &v
	}
	if reconciledAt.Valid {
		t := reconciledAt.Time
		c.ReconciledAt = &t
	}
	c.ClosedBy = closedBy.String
	c.Notes = notes.String
	return &c, nil
}

// GetClosing retrieves a closing by id.
func (r *Repository) GetClosing(ctx context.Context, id uuid.UUID) (*Closing, error) {
	c, err := scanClosing(r.pool.QueryRow(ctx,
		`SELECT `+closingColumns+` FROM cash_register_closings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("closing %s: %w", id, shared.ErrNotFound)
	}
	return c, err
}

// GetClosingByDate retrieves the closing of one day.
func (r *Repository) GetClosingByDate(ctx context.Context, day time.Time) (*Closing, error) {
	c, err := scanClosing(r.pool.QueryRow(ctx,
		`SELECT `+closingColumns+` FROM cash_register_closings WHERE close_date = $1`, shared.Day(day)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("closing for %s: %w", day.Format(shared.DateLayout), shared.ErrNotFound)
	}
	return c, err
}

// ListClosings returns closings in chronological order.
func (r *Repository) ListClosings(ctx context.Context, req HistoryRequest) ([]Closing, error) {
	query := `SELECT ` + closingColumns + ` FROM cash_register_closings WHERE 1=1`

	args := []any{}
	argNum := 1

	if !req.FromDate.IsZero() {
		query += fmt.Sprintf(" AND close_date >= $%d", argNum)
		args = append(args, shared.Day(req.FromDate))
		argNum++
	}
	if !req.ToDate.IsZero() {
		query += fmt.Sprintf(" AND close_date <= $%d", argNum)
		args = append(args, shared.Day(req.ToDate))
		argNum++
	}

	query += " ORDER BY close_date"

	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, req.Limit)
		argNum++
	}
	if req.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, req.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var closings []Closing
	for rows.Next() {
		c, err := scanClosing(rows)
		if err != nil {
			return nil, err
		}
		closings = append(closings, *c)
	}
	return closings, rows.Err()
}

// txRepo implements Tx over one pgx transaction.
type txRepo struct {
	q pgx.Tx
}

func (t *txRepo) Summarize(ctx context.Context, day time.Time) (*DaySummary, error) {
	return summarize(ctx, t.q, day)
}

func (t *txRepo) ClosingExists(ctx context.Context, day time.Time) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM cash_register_closings WHERE close_date = $1)`,
		shared.Day(day)).Scan(&exists)
	return exists, err
}

func (t *txRepo) InsertClosing(ctx context.Context, c *Closing) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO cash_register_closings (
			id, close_date, invoiced_total, invoices_count,
			cash_total, pos_total, bank_transfer_total, check_total, other_total,
			payments_count, deposits_total, deposits_count, refunds_total, grand_total, closed_by, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		c.ID, c.CloseDate, c.InvoicedTotal, c.InvoicedCount,
		c.Payments.Cash, c.Payments.POS, c.Payments.BankTransfer,
		c.Payments.Check, c.Payments.Other,
		c.PaymentsCount, c.DepositsIn, c.DepositsCount, c.RefundsOut, c.GrandTotal,
		pgtype.Text{String: c.ClosedBy, Valid: c.ClosedBy != ""},
		pgtype.Text{String: c.Notes, Valid: c.Notes != ""})
	if db.IsUniqueViolation(err, "cash_register_closings_close_date_key") {
		return fmt.Errorf("day %s already closed: %w", c.CloseDate.Format(shared.DateLayout), shared.ErrConflict)
	}
	return err
}

func (t *txRepo) GetClosingForUpdate(ctx context.Context, id uuid.UUID) (*Closing, error) {
	c, err := scanClosing(t.q.QueryRow(ctx,
		`SELECT `+closingColumns+` FROM cash_register_closings WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("closing %s: %w", id, shared.ErrNotFound)
	}
	return c, err
}

func (t *txRepo) SetReconciled(ctx context.Context, id uuid.UUID, counted, discrepancy decimal.Decimal, at time.Time) (bool, error) {
	result, err := t.q.Exec(ctx, `
		UPDATE cash_register_closings
		SET counted_cash = $2, discrepancy = $3, is_reconciled = TRUE, reconciled_at = $4
		WHERE id = $1 AND is_reconciled = FALSE`,
		id, counted, discrepancy, at)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}
