// Package registry exposes the client directory contract the billing core
// consumes. Client CRUD itself lives outside this engine.
package registry

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Client is the billing-relevant view of a registry record.
type Client struct {
	ID               uuid.UUID
	Name             string
	IsForeign        bool
	VATExempt        bool
	VATExemptionCode string
	DefaultVATRate   *decimal.Decimal
	PaymentTermsDays int
}

// Directory resolves client identifiers for the billing core.
type Directory interface {
	Resolve(ctx context.Context, id uuid.UUID) (*Client, error)
}

// References counts live financial records pointing at a client.
type References struct {
	WorkOrders int
	Invoices   int
	Payments   int
	Deposits   int
}

// Total sums all reference counts.
func (r References) Total() int {
	return r.WorkOrders + r.Invoices + r.Payments + r.Deposits
}
