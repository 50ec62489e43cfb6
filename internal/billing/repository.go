package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/officina-erp/officina-erp/internal/platform/db"
	"github.com/officina-erp/officina-erp/internal/shared"
	"github.com/officina-erp/officina-erp/internal/workorder"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the scan helpers
// serve reads inside and outside transactions.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository provides PostgreSQL backed persistence for billing.
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

const invoiceColumns = `id, work_order_id, client_id, bill_to_client_id, invoice_number,
	invoice_date, due_date, status, subtotal, vat_amount, total,
	vat_exempt, vat_exemption_code, claim_number, customer_notes, internal_notes,
	version, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var workOrderID, billTo pgtype.UUID
	var exemptionCode, claim, customerNotes, internalNotes pgtype.Text

	err := row.Scan(
		&inv.ID, &workOrderID, &inv.ClientID, &billTo, &inv.Number,
		&inv.InvoiceDate, &inv.DueDate, &inv.Status, &inv.Subtotal, &inv.VATAmount, &inv.Total,
		&inv.VATExempt, &exemptionCode, &claim, &customerNotes, &internalNotes,
		&inv.Version, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if workOrderID.Valid {
		id := uuid.UUID(workOrderID.Bytes)
		inv.WorkOrderID = &id
	}
	if billTo.Valid {
		id := uuid.UUID(billTo.Bytes)
		inv.BillToClientID = &id
	}
	inv.VATExemptionCode = exemptionCode.String
	inv.ClaimNumber = claim.String
	inv.CustomerNotes = customerNotes.String
	inv.InternalNotes = internalNotes.String
	return &inv, nil
}

func getInvoice(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	inv, err := scanInvoice(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("invoice %s: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func outstanding(ctx context.Context, q querier, invoiceID uuid.UUID) (decimal.Decimal, error) {
	// Cancellation zeroes the balance; historical allocations stay recorded.
	const query = `
		SELECT CASE WHEN i.status = 'cancelled' THEN 0
			ELSE i.total - COALESCE(SUM(a.amount), 0) END
		FROM invoices i
		LEFT JOIN payment_allocations a ON a.invoice_id = i.id
		WHERE i.id = $1
		GROUP BY i.total, i.status`

	var balance decimal.Decimal
	err := q.QueryRow(ctx, query, invoiceID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("invoice %s: %w", invoiceID, shared.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// GetInvoice retrieves an invoice by id.
func (r *Repository) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return getInvoice(ctx, r.pool, id, false)
}

// OutstandingBalance returns total minus the sum of allocations, zero once
// the invoice is cancelled.
func (r *Repository) OutstandingBalance(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	return outstanding(ctx, r.pool, invoiceID)
}

// AllocatedTotal sums the allocations recorded against an invoice.
func (r *Repository) AllocatedTotal(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	var paid decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM payment_allocations
		WHERE invoice_id = $1`, invoiceID).Scan(&paid)
	return paid, err
}

// ListInvoices returns invoices with optional filtering.
func (r *Repository) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`

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
	if !req.FromDate.IsZero() {
		query += fmt.Sprintf(" AND invoice_date >= $%d", argNum)
		args = append(args, shared.Day(req.FromDate))
		argNum++
	}
	if !req.ToDate.IsZero() {
		query += fmt.Sprintf(" AND invoice_date <= $%d", argNum)
		args = append(args, shared.Day(req.ToDate))
		argNum++
	}

	query += " ORDER BY invoice_date DESC, invoice_number DESC"

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

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// ListInvoiceLines returns the lines of an invoice in line order.
func (r *Repository) ListInvoiceLines(ctx context.Context, invoiceID uuid.UUID) ([]InvoiceLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, invoice_id, line_type, description, quantity, unit_price, vat_rate, line_number
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY line_number`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []InvoiceLine
	for rows.Next() {
		var l InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.LineType, &l.Description, &l.Quantity, &l.UnitPrice, &l.VATRate, &l.LineNumber); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var reference, notes pgtype.Text
	err := row.Scan(&p.ID, &p.ClientID, &p.Amount, &p.PaymentDate, &p.Method, &reference, &notes, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Reference = reference.String
	p.Notes = notes.String
	return &p, nil
}

// GetPayment retrieves a payment with its allocations.
func (r *Repository) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `
		SELECT id, client_id, amount, payment_date, method, reference, notes, created_at
		FROM payments
		WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("payment %s: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, payment_id, deposit_id, invoice_id, amount, created_at
		FROM payment_allocations
		WHERE payment_id = $1
		ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		p.Allocations = append(p.Allocations, *a)
	}
	return p, rows.Err()
}

func scanAllocation(row pgx.Row) (*Allocation, error) {
	var a Allocation
	var paymentID, depositID pgtype.UUID
	if err := row.Scan(&a.ID, &paymentID, &depositID, &a.InvoiceID, &a.Amount, &a.CreatedAt); err != nil {
		return nil, err
	}
	if paymentID.Valid {
		id := uuid.UUID(paymentID.Bytes)
		a.PaymentID = &id
	}
	if depositID.Valid {
		id := uuid.UUID(depositID.Bytes)
		a.DepositID = &id
	}
	return &a, nil
}

// ListPayments returns payments with optional filtering.
func (r *Repository) ListPayments(ctx context.Context, req ListPaymentsRequest) ([]Payment, error) {
	query := `
		SELECT id, client_id, amount, payment_date, method, reference, notes, created_at
		FROM payments
		WHERE 1=1`

	args := []any{}
	argNum := 1

	if req.ClientID != uuid.Nil {
		query += fmt.Sprintf(" AND client_id = $%d", argNum)
		args = append(args, req.ClientID)
		argNum++
	}
	if !req.FromDate.IsZero() {
		query += fmt.Sprintf(" AND payment_date >= $%d", argNum)
		args = append(args, shared.Day(req.FromDate))
		argNum++
	}
	if !req.ToDate.IsZero() {
		query += fmt.Sprintf(" AND payment_date <= $%d", argNum)
		args = append(args, shared.Day(req.ToDate))
		argNum++
	}

	query += " ORDER BY payment_date DESC, created_at DESC"

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

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// ListCreditNotes returns credit notes issued against an invoice.
func (r *Repository) ListCreditNotes(ctx context.Context, invoiceID uuid.UUID) ([]CreditNote, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, invoice_id, client_id, credit_note_number, reason, subtotal, vat_amount, total, created_at
		FROM credit_notes
		WHERE invoice_id = $1
		ORDER BY created_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []CreditNote
	for rows.Next() {
		var cn CreditNote
		var reason pgtype.Text
		if err := rows.Scan(&cn.ID, &cn.InvoiceID, &cn.ClientID, &cn.Number, &reason, &cn.Subtotal, &cn.VATAmount, &cn.Total, &cn.CreatedAt); err != nil {
			return nil, err
		}
		cn.Reason = reason.String
		notes = append(notes, cn)
	}
	return notes, rows.Err()
}

// txRepo implements Tx over one pgx transaction.
type txRepo struct {
	q pgx.Tx
}

func (t *txRepo) GetWorkOrderForInvoicing(ctx context.Context, id uuid.UUID) (*WorkOrderSnapshot, error) {
	var snap WorkOrderSnapshot
	err := t.q.QueryRow(ctx, `
		SELECT id, client_id, status
		FROM work_orders
		WHERE id = $1
		FOR UPDATE`, id).Scan(&snap.ID, &snap.ClientID, &snap.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("workorder %s: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := t.q.Query(ctx, `
		SELECT id, work_order_id, item_type, description, quantity, unit_price
		FROM work_order_items
		WHERE work_order_id = $1
		ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it workorder.Item
		if err := rows.Scan(&it.ID, &it.WorkOrderID, &it.ItemType, &it.Description, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		snap.Items = append(snap.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	usageRows, err := t.q.Query(ctx, `
		SELECT id, work_order_id, part_id, quantity, unit_price
		FROM part_usages
		WHERE work_order_id = $1
		ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer usageRows.Close()
	for usageRows.Next() {
		var pu workorder.PartUsage
		if err := usageRows.Scan(&pu.ID, &pu.WorkOrderID, &pu.PartID, &pu.Quantity, &pu.UnitPrice); err != nil {
			return nil, err
		}
		snap.PartUsages = append(snap.PartUsages, pu)
	}
	return &snap, usageRows.Err()
}

func (t *txRepo) HasActiveInvoice(ctx context.Context, workOrderID uuid.UUID) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM invoices
			WHERE work_order_id = $1 AND status <> 'cancelled'
		)`, workOrderID).Scan(&exists)
	return exists, err
}

// NextSequence draws the next number for scope/year. The upsert holds the row
// lock until commit, so concurrent generators serialize and no number is ever
// skipped once assigned.
func (t *txRepo) NextSequence(ctx context.Context, scope string, year int) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, `
		INSERT INTO invoice_sequences (scope, year, next_number)
		VALUES ($1, $2, 2)
		ON CONFLICT (scope, year)
		DO UPDATE SET next_number = invoice_sequences.next_number + 1
		RETURNING next_number - 1`, scope, year).Scan(&n)
	return n, err
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv *Invoice, lines []InvoiceLine) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO invoices (
			id, work_order_id, client_id, bill_to_client_id, invoice_number,
			invoice_date, due_date, status, subtotal, vat_amount, total,
			vat_exempt, vat_exemption_code, claim_number, customer_notes, internal_notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		inv.ID, inv.WorkOrderID, inv.ClientID, inv.BillToClientID, inv.Number,
		inv.InvoiceDate, inv.DueDate, inv.Status, inv.Subtotal, inv.VATAmount, inv.Total,
		inv.VATExempt, textOrNull(inv.VATExemptionCode), textOrNull(inv.ClaimNumber),
		textOrNull(inv.CustomerNotes), textOrNull(inv.InternalNotes))
	if db.IsUniqueViolation(err, "invoices_active_work_order_idx") {
		return fmt.Errorf("workorder %s: already invoiced: %w", inv.WorkOrderID, shared.ErrConflict)
	}
	if err != nil {
		return err
	}

	for _, l := range lines {
		_, err := t.q.Exec(ctx, `
			INSERT INTO invoice_lines (id, invoice_id, line_type, description, quantity, unit_price, vat_rate, line_number)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			l.ID, l.InvoiceID, l.LineType, l.Description, l.Quantity, l.UnitPrice, l.VATRate, l.LineNumber)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) MarkWorkOrderInvoiced(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := t.q.Exec(ctx, `
		UPDATE work_orders
		SET status = 'invoiced', version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'completed'`, id)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (t *txRepo) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return getInvoice(ctx, t.q, id, true)
}

func (t *txRepo) ListOpenInvoicesForUpdate(ctx context.Context, clientID uuid.UUID) ([]OpenInvoice, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE client_id = $1 AND status IN ('unpaid', 'partially_paid')
		ORDER BY invoice_date, invoice_number
		FOR UPDATE`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	open := make([]OpenInvoice, 0, len(invoices))
	for _, inv := range invoices {
		balance, err := outstanding(ctx, t.q, inv.ID)
		if err != nil {
			return nil, err
		}
		open = append(open, OpenInvoice{Invoice: inv, Outstanding: balance})
	}
	return open, nil
}

func (t *txRepo) Outstanding(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	return outstanding(ctx, t.q, invoiceID)
}

func (t *txRepo) InsertPayment(ctx context.Context, p *Payment) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO payments (id, client_id, amount, payment_date, method, reference, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.ClientID, p.Amount, p.PaymentDate, p.Method, textOrNull(p.Reference), textOrNull(p.Notes))
	return err
}

func (t *txRepo) InsertAllocation(ctx context.Context, a *Allocation) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO payment_allocations (id, payment_id, deposit_id, invoice_id, amount)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.PaymentID, a.DepositID, a.InvoiceID, a.Amount)
	return err
}

func (t *txRepo) SetInvoiceStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus) error {
	_, err := t.q.Exec(ctx, `
		UPDATE invoices
		SET status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1`, id, status)
	return err
}

func (t *txRepo) InsertCreditNote(ctx context.Context, cn *CreditNote) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO credit_notes (id, invoice_id, client_id, credit_note_number, reason, subtotal, vat_amount, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cn.ID, cn.InvoiceID, cn.ClientID, cn.Number, cn.Reason, cn.Subtotal, cn.VATAmount, cn.Total)
	return err
}

func (t *txRepo) CancelInvoice(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := t.q.Exec(ctx, `
		UPDATE invoices
		SET status = 'cancelled', version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status <> 'cancelled'`, id)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (t *txRepo) DayClosed(ctx context.Context, day time.Time) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM cash_register_closings WHERE close_date = $1)`,
		shared.Day(day)).Scan(&exists)
	return exists, err
}

func textOrNull(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
