package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/officina-erp/officina-erp/internal/shared"
)

// Repository provides PostgreSQL backed access to the client registry.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Resolve loads the billing-relevant client fields.
func (r *Repository) Resolve(ctx context.Context, id uuid.UUID) (*Client, error) {
	const query = `
		SELECT id, name, is_foreign, vat_exemption, vat_exemption_code,
			default_vat_rate, payment_terms_days
		FROM clients
		WHERE id = $1`

	var c Client
	var code pgtype.Text
	var rate pgtype.Numeric
	var terms pgtype.Int4

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.IsForeign, &c.VATExempt, &code, &rate, &terms,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("client %s: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	c.VATExemptionCode = code.String
	c.PaymentTermsDays = int(terms.Int32)
	if rate.Valid {
		d := decimal.NewFromBigInt(rate.Int, rate.Exp)
		c.DefaultVATRate = &d
	}
	return &c, nil
}

// CheckDeletable is the referential guard collaborators must call before
// removing a client: deletion is refused while any non-cancelled invoice,
// payment, deposit or work order still references it.
func (r *Repository) CheckDeletable(ctx context.Context, id uuid.UUID) error {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM work_orders WHERE client_id = $1),
			(SELECT COUNT(*) FROM invoices WHERE client_id = $1 AND status <> 'cancelled'),
			(SELECT COUNT(*) FROM payments WHERE client_id = $1),
			(SELECT COUNT(*) FROM deposits WHERE client_id = $1)`

	var refs References
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&refs.WorkOrders, &refs.Invoices, &refs.Payments, &refs.Deposits,
	); err != nil {
		return err
	}
	if refs.Total() > 0 {
		return fmt.Errorf("client %s: referenced by %d financial records: %w", id, refs.Total(), shared.ErrConflict)
	}
	return nil
}
