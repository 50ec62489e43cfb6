package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus enumerates invoice statuses. The status is derived from the
// outstanding balance and recomputed inside the same transaction that writes
// allocations, never mutated independently.
type InvoiceStatus string

const (
	InvoiceStatusUnpaid        InvoiceStatus = "unpaid"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusCancelled     InvoiceStatus = "cancelled"
)

// Open reports whether the invoice can still receive allocations.
func (s InvoiceStatus) Open() bool {
	return s == InvoiceStatusUnpaid || s == InvoiceStatusPartiallyPaid
}

// PaymentMethod enumerates accepted payment methods.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodPOS          PaymentMethod = "pos"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCheck        PaymentMethod = "check"
	MethodOther        PaymentMethod = "other"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodPOS, MethodBankTransfer, MethodCheck, MethodOther:
		return true
	}
	return false
}

// AllocationStrategy selects how a payment is matched to open invoices.
type AllocationStrategy string

const (
	StrategyFIFO   AllocationStrategy = "fifo"
	StrategyManual AllocationStrategy = "manual"
)

// Invoice is the financial obligation produced from a completed work order.
type Invoice struct {
	ID               uuid.UUID       `json:"id"`
	WorkOrderID      *uuid.UUID      `json:"work_order_id,omitempty"`
	ClientID         uuid.UUID       `json:"client_id"`
	BillToClientID   *uuid.UUID      `json:"bill_to_client_id,omitempty"`
	Number           string          `json:"invoice_number"`
	InvoiceDate      time.Time       `json:"invoice_date"`
	DueDate          time.Time       `json:"due_date"`
	Status           InvoiceStatus   `json:"status"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	VATAmount        decimal.Decimal `json:"vat_amount"`
	Total            decimal.Decimal `json:"total"`
	VATExempt        bool            `json:"vat_exempt"`
	VATExemptionCode string          `json:"vat_exemption_code,omitempty"`
	ClaimNumber      string          `json:"claim_number,omitempty"`
	CustomerNotes    string          `json:"customer_notes,omitempty"`
	InternalNotes    string          `json:"internal_notes,omitempty"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// InvoiceLine is a frozen copy of a work order charge at generation time.
type InvoiceLine struct {
	ID          uuid.UUID       `json:"id"`
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	LineType    string          `json:"line_type"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	LineNumber  int             `json:"line_number"`
}

// Payment is money received from a client, fully allocated to invoices.
type Payment struct {
	ID          uuid.UUID       `json:"id"`
	ClientID    uuid.UUID       `json:"client_id"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate time.Time       `json:"payment_date"`
	Method      PaymentMethod   `json:"method"`
	Reference   string          `json:"reference,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	Allocations []Allocation    `json:"allocations"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Allocation links money to an invoice. Exactly one of PaymentID and
// DepositID is set; deposits allocate through the same table so outstanding
// balances have a single source of truth.
type Allocation struct {
	ID        uuid.UUID       `json:"id"`
	PaymentID *uuid.UUID      `json:"payment_id,omitempty"`
	DepositID *uuid.UUID      `json:"deposit_id,omitempty"`
	InvoiceID uuid.UUID       `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// CreditNote reverses an issued invoice in full.
type CreditNote struct {
	ID        uuid.UUID       `json:"id"`
	InvoiceID uuid.UUID       `json:"invoice_id"`
	ClientID  uuid.UUID       `json:"client_id"`
	Number    string          `json:"credit_note_number"`
	Reason    string          `json:"reason"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	VATAmount decimal.Decimal `json:"vat_amount"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

// OpenInvoice pairs an invoice with its outstanding balance at read time.
type OpenInvoice struct {
	Invoice
	Outstanding decimal.Decimal `json:"outstanding"`
}

// Sequence scopes for yearly document numbering.
const (
	SeqInvoice    = "invoice"
	SeqCreditNote = "credit_note"
)

// maxSequencePerYear caps yearly numbering at four digits.
const maxSequencePerYear = 9999

// FormatInvoiceNumber renders an invoice number, e.g. 2026/0042.
func FormatInvoiceNumber(year, n int) string {
	return fmt.Sprintf("%d/%04d", year, n)
}

// FormatCreditNoteNumber renders a credit note number, e.g. NC-2026/0003.
func FormatCreditNoteNumber(year, n int) string {
	return fmt.Sprintf("NC-%d/%04d", year, n)
}

// statusForOutstanding derives the invoice status from its balance.
func statusForOutstanding(total, outstanding decimal.Decimal) InvoiceStatus {
	switch {
	case outstanding.Sign() <= 0:
		return InvoiceStatusPaid
	case outstanding.LessThan(total):
		return InvoiceStatusPartiallyPaid
	default:
		return InvoiceStatusUnpaid
	}
}

// ListInvoicesRequest filters invoice listings.
type ListInvoicesRequest struct {
	ClientID uuid.UUID
	Status   InvoiceStatus
	FromDate time.Time
	ToDate   time.Time
	Limit    int
	Offset   int
}

// ListPaymentsRequest filters payment listings.
type ListPaymentsRequest struct {
	ClientID uuid.UUID
	FromDate time.Time
	ToDate   time.Time
	Limit    int
	Offset   int
}
