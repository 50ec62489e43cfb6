package deposit

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/officina-erp/officina-erp/internal/billing"
)

// Status enumerates deposit lifecycle states. A deposit leaves open exactly
// once, through application or refund.
type Status string

const (
	StatusOpen     Status = "open"
	StatusApplied  Status = "applied"
	StatusRefunded Status = "refunded"
)

// Deposit is money taken up front, held until applied to an invoice or
// refunded.
type Deposit struct {
	ID               uuid.UUID             `json:"id"`
	ClientID         uuid.UUID             `json:"client_id"`
	WorkOrderID      *uuid.UUID            `json:"work_order_id,omitempty"`
	Amount           decimal.Decimal       `json:"amount"`
	Method           billing.PaymentMethod `json:"method"`
	Status           Status                `json:"status"`
	DepositDate      time.Time             `json:"deposit_date"`
	AppliedInvoiceID *uuid.UUID            `json:"applied_invoice_id,omitempty"`
	AppliedAmount    decimal.Decimal       `json:"applied_amount"`
	ForfeitedAmount  decimal.Decimal       `json:"forfeited_amount"`
	RefundDate       *time.Time            `json:"refund_date,omitempty"`
	Notes            string                `json:"notes,omitempty"`
	Version          int64                 `json:"version"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// ListRequest filters deposit listings.
type ListRequest struct {
	ClientID uuid.UUID
	Status   Status
	Limit    int
	Offset   int
}
