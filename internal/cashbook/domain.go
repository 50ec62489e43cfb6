package cashbook

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MethodTotals breaks a day's incoming payments down by method.
type MethodTotals struct {
	Cash         decimal.Decimal `json:"cash"`
	POS          decimal.Decimal `json:"pos"`
	BankTransfer decimal.Decimal `json:"bank_transfer"`
	Check        decimal.Decimal `json:"check"`
	Other        decimal.Decimal `json:"other"`
}

// Sum returns the total across all methods.
func (t MethodTotals) Sum() decimal.Decimal {
	return t.Cash.Add(t.POS).Add(t.BankTransfer).Add(t.Check).Add(t.Other)
}

// DaySummary is the computed cash picture of one calendar day. Payments are
// counted by payment date, deposits by deposit date and refunds by movement
// date, so every euro lands in exactly one day.
type DaySummary struct {
	CloseDate     time.Time       `json:"close_date"`
	InvoicedTotal decimal.Decimal `json:"invoiced_total"`
	InvoicedCount int             `json:"invoiced_count"`
	Payments      MethodTotals    `json:"payments"`
	PaymentsCount int             `json:"payments_count"`
	DepositsIn    decimal.Decimal `json:"deposits_in"`
	DepositsCount int             `json:"deposits_count"`
	RefundsOut    decimal.Decimal `json:"refunds_out"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
}

// Closing is a committed daily close. Once written the day is frozen: no
// payment, deposit or invoice may be booked into it.
type Closing struct {
	ID            uuid.UUID        `json:"id"`
	CloseDate     time.Time        `json:"close_date"`
	InvoicedTotal decimal.Decimal  `json:"invoiced_total"`
	InvoicedCount int              `json:"invoiced_count"`
	Payments      MethodTotals     `json:"payments"`
	PaymentsCount int              `json:"payments_count"`
	DepositsIn    decimal.Decimal  `json:"deposits_in"`
	DepositsCount int              `json:"deposits_count"`
	RefundsOut    decimal.Decimal  `json:"refunds_out"`
	GrandTotal    decimal.Decimal  `json:"grand_total"`
	CountedCash   *decimal.Decimal `json:"counted_cash,omitempty"`
	Discrepancy   *decimal.Decimal `json:"discrepancy,omitempty"`
	IsReconciled  bool             `json:"is_reconciled"`
	ReconciledAt  *time.Time       `json:"reconciled_at,omitempty"`
	ClosedBy      string           `json:"closed_by,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// HistoryRequest filters the closing history.
type HistoryRequest struct {
	FromDate time.Time
	ToDate   time.Time
	Limit    int
	Offset   int
}
