package deposit

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

	"github.com/officina-erp/officina-erp/internal/billing"
	"github.com/officina-erp/officina-erp/internal/platform/db"
	"github.com/officina-erp/officina-erp/internal/shared"
)

// Repository provides PostgreSQL backed persistence for deposits.
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

const depositColumns = `id, client_id, work_order_id, amount, method, status, deposit_date,
	applied_invoice_id, applied_amount, forfeited_amount, refund_date, notes,
	version, created_at, updated_at`

func scanDeposit(row pgx.Row) (*Deposit, error) {
	var d Deposit
	var workOrderID, appliedInvoiceID pgtype.UUID
	var refundDate pgtype.Date
	var notes pgtype.Text

	err := row.Scan(
		&d.ID, &d.ClientID, &workOrderID, &d.Amount, &d.Method, &d.Status, &d.DepositDate,
		&appliedInvoiceID, &d.AppliedAmount, &d.ForfeitedAmount, &refundDate, &notes,
		&d.Version, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if workOrderID.Valid {
		id := uuid.UUID(workOrderID.Bytes)
		d.WorkOrderID = &id
	}
	if appliedInvoiceID.Valid {
		id := uuid.UUID(appliedInvoiceID.Bytes)
		d.AppliedInvoiceID = &id
	}
	if refundDate.Valid {
		day := refundDate.Time
		d.RefundDate = &day
	}
	d.Notes = notes.String
	return &d, nil
}

// GetDeposit retrieves a deposit by id.
func (r *Repository) GetDeposit(ctx context.Context, id uuid.UUID) (*Deposit, error) {
	d, err := scanDeposit(r.pool.QueryRow(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("deposit %s: %w", id, shared.ErrNotFound)
	}
	return d, err
}

// ListDeposits returns deposits with optional filtering.
func (r *Repository) ListDeposits(ctx context.Context, req ListRequest) ([]Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE 1=1`

	args := []any{}
	argNum := 1

	if req.ClientID != uuid.Nil {
		query += fmt.Sprintf(" AND client_id = $%d", argNum)
		args = append(args, req.ClientID)
		argNum++
	}
	if req.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(req.Status))
		argNum++
	}

	query += " ORDER BY deposit_date DESC, created_at DESC"

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

	var deposits []Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, *d)
	}
	return deposits, rows.Err()
}

// txRepo implements Tx over one pgx transaction.
type txRepo struct {
	q pgx.Tx
}

func (t *txRepo) InsertDeposit(ctx context.Context, d *Deposit) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO deposits (id, client_id, work_order_id, amount, method, status, deposit_date, applied_amount, forfeited_amount, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.ClientID, d.WorkOrderID, d.Amount, d.Method, d.Status, d.DepositDate,
		d.AppliedAmount, d.ForfeitedAmount, pgtype.Text{String: d.Notes, Valid: d.Notes != ""})
	return err
}

func (t *txRepo) GetDepositForUpdate(ctx context.Context, id uuid.UUID) (*Deposit, error) {
	d, err := scanDeposit(t.q.QueryRow(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("deposit %s: %w", id, shared.ErrNotFound)
	}
	return d, err
}

func (t *txRepo) MarkApplied(ctx context.Context, depositID, invoiceID uuid.UUID, applied, forfeited decimal.Decimal) (bool, error) {
	result, err := t.q.Exec(ctx, `
		UPDATE deposits
		SET status = 'applied', applied_invoice_id = $2, applied_amount = $3, forfeited_amount = $4,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'open'`,
		depositID, invoiceID, applied, forfeited)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (t *txRepo) MarkRefunded(ctx context.Context, depositID uuid.UUID, refundDate time.Time) (bool, error) {
	result, err := t.q.Exec(ctx, `
		UPDATE deposits
		SET status = 'refunded', refund_date = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'open'`,
		depositID, shared.Day(refundDate))
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// RecordRefundOutflow books the refund into the cash movement journal so the
// daily close sees the money leaving.
func (t *txRepo) RecordRefundOutflow(ctx context.Context, d *Deposit, refundDate time.Time) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO cash_movements (id, movement_type, direction, amount, method, movement_date, reference)
		VALUES ($1, 'deposit_refund', 'out', $2, $3, $4, $5)`,
		uuid.New(), d.Amount, d.Method, shared.Day(refundDate), d.ID.String())
	return err
}

func (t *txRepo) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	var inv billing.Invoice
	err := t.q.QueryRow(ctx, `
		SELECT id, client_id, invoice_number, status, subtotal, vat_amount, total
		FROM invoices
		WHERE id = $1
		FOR UPDATE`, id).Scan(&inv.ID, &inv.ClientID, &inv.Number, &inv.Status, &inv.Subtotal, &inv.VATAmount, &inv.Total)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("invoice %s: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (t *txRepo) Outstanding(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.q.QueryRow(ctx, `
		SELECT CASE WHEN i.status = 'cancelled' THEN 0
			ELSE i.total - COALESCE(SUM(a.amount), 0) END
		FROM invoices i
		LEFT JOIN payment_allocations a ON a.invoice_id = i.id
		WHERE i.id = $1
		GROUP BY i.total, i.status`, invoiceID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("invoice %s: %w", invoiceID, shared.ErrNotFound)
	}
	return balance, err
}

func (t *txRepo) InsertAllocation(ctx context.Context, a *billing.Allocation) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO payment_allocations (id, payment_id, deposit_id, invoice_id, amount)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.PaymentID, a.DepositID, a.InvoiceID, a.Amount)
	return err
}

func (t *txRepo) SetInvoiceStatus(ctx context.Context, id uuid.UUID, status billing.InvoiceStatus) error {
	_, err := t.q.Exec(ctx, `
		UPDATE invoices
		SET status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1`, id, status)
	return err
}

func (t *txRepo) DayClosed(ctx context.Context, day time.Time) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM cash_register_closings WHERE close_date = $1)`,
		shared.Day(day)).Scan(&exists)
	return exists, err
}
