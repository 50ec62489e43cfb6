package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/officina-erp/officina-erp/internal/registry"
	"github.com/officina-erp/officina-erp/internal/shared"
	"github.com/officina-erp/officina-erp/internal/workorder"
)

// WorkOrderSnapshot is the row-locked view of a work order the generator
// copies from. Items and part usages are frozen at this point.
type WorkOrderSnapshot struct {
	ID         uuid.UUID
	ClientID   uuid.UUID
	Status     workorder.Status
	Items      []workorder.Item
	PartUsages []workorder.PartUsage
}

// Store defines billing data access outside transactions.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
	GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error)
	ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, error)
	ListInvoiceLines(ctx context.Context, invoiceID uuid.UUID) ([]InvoiceLine, error)
	OutstandingBalance(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error)
	AllocatedTotal(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	ListPayments(ctx context.Context, req ListPaymentsRequest) ([]Payment, error)
	ListCreditNotes(ctx context.Context, invoiceID uuid.UUID) ([]CreditNote, error)
}

// Tx exposes the operations available inside one atomic billing transaction.
// Implementations must pin every touched invoice with a row lock so the
// balance invariants survive concurrent requests.
type Tx interface {
	GetWorkOrderForInvoicing(ctx context.Context, id uuid.UUID) (*WorkOrderSnapshot, error)
	HasActiveInvoice(ctx context.Context, workOrderID uuid.UUID) (bool, error)
	NextSequence(ctx context.Context, scope string, year int) (int, error)
	InsertInvoice(ctx context.Context, inv *Invoice, lines []InvoiceLine) error
	MarkWorkOrderInvoiced(ctx context.Context, id uuid.UUID) (bool, error)

	GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	ListOpenInvoicesForUpdate(ctx context.Context, clientID uuid.UUID) ([]OpenInvoice, error)
	Outstanding(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error)
	InsertPayment(ctx context.Context, p *Payment) error
	InsertAllocation(ctx context.Context, a *Allocation) error
	SetInvoiceStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus) error

	InsertCreditNote(ctx context.Context, cn *CreditNote) error
	CancelInvoice(ctx context.Context, id uuid.UUID) (bool, error)

	DayClosed(ctx context.Context, day time.Time) (bool, error)
}

// StockNotifier is told about part consumption once an invoice commits.
type StockNotifier interface {
	NotifyPartsInvoiced(ctx context.Context, workOrderID uuid.UUID, usages []workorder.PartUsage) error
}

// Service handles invoice generation, payment allocation and credit notes.
type Service struct {
	store   Store
	clients registry.Directory
	stock   StockNotifier
	logger  *slog.Logger

	defaultVATRate decimal.Decimal
	defaultTerms   int

	now func() time.Time
}

// ServiceConfig carries billing policy defaults.
type ServiceConfig struct {
	DefaultVATRate          decimal.Decimal
	DefaultPaymentTermsDays int
}

// NewService builds a Service instance. stock may be nil when no ledger
// integration is configured.
func NewService(store Store, clients registry.Directory, stock StockNotifier, cfg ServiceConfig, logger *slog.Logger) *Service {
	terms := cfg.DefaultPaymentTermsDays
	if terms <= 0 {
		terms = 30
	}
	rate := cfg.DefaultVATRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(22)
	}
	return &Service{
		store:          store,
		clients:        clients,
		stock:          stock,
		logger:         logger,
		defaultVATRate: rate,
		defaultTerms:   terms,
		now:            time.Now,
	}
}

// GenerateOptions controls invoice generation.
type GenerateOptions struct {
	InvoiceDate    time.Time
	DueDate        time.Time
	BillToClientID *uuid.UUID
	VATRate        *decimal.Decimal
	ClaimNumber    string
	CustomerNotes  string
	InternalNotes  string
}

// Generate materializes an invoice from a completed work order. The invoice,
// its lines, the sequence increment and the work order transition commit as
// one unit or not at all.
func (s *Service) Generate(ctx context.Context, workOrderID uuid.UUID, opts GenerateOptions) (*Invoice, error) {
	invoiceDate := shared.Day(opts.InvoiceDate)
	if opts.InvoiceDate.IsZero() {
		invoiceDate = shared.Day(s.now())
	}

	var created *Invoice
	var usages []workorder.PartUsage

	err := s.store.WithTx(ctx, func(tx Tx) error {
		snap, err := tx.GetWorkOrderForInvoicing(ctx, workOrderID)
		if err != nil {
			return err
		}
		// Checked before the status gate so replaying a generate against an
		// order the first call flipped to invoiced reports Conflict, not a
		// state error.
		active, err := tx.HasActiveInvoice(ctx, workOrderID)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("workorder %s: already invoiced: %w", workOrderID, shared.ErrConflict)
		}

		if snap.Status != workorder.StatusCompleted {
			return fmt.Errorf("workorder %s: status %s, must be completed to invoice: %w",
				workOrderID, snap.Status, shared.ErrInvalidState)
		}

		closed, err := tx.DayClosed(ctx, invoiceDate)
		if err != nil {
			return err
		}
		if closed {
			return fmt.Errorf("cash day %s already closed: %w", invoiceDate.Format(shared.DateLayout), shared.ErrInvalidState)
		}

		payerID := snap.ClientID
		if opts.BillToClientID != nil {
			payerID = *opts.BillToClientID
		}
		payer, err := s.clients.Resolve(ctx, payerID)
		if err != nil {
			return err
		}

		vatRate, exempt, exemptionCode := s.effectiveVATRate(payer, opts.VATRate)

		lines := buildLines(snap, vatRate)
		subtotal, vatAmount, total := ComputeTotals(lines)
		if subtotal.Sign() <= 0 {
			return fmt.Errorf("workorder %s: nothing to invoice: %w", workOrderID, shared.ErrValidation)
		}

		dueDate := shared.Day(opts.DueDate)
		if opts.DueDate.IsZero() {
			terms := payer.PaymentTermsDays
			if terms <= 0 {
				terms = s.defaultTerms
			}
			dueDate = invoiceDate.AddDate(0, 0, terms)
		}

		seq, err := nextNumber(ctx, tx, SeqInvoice, invoiceDate.Year())
		if err != nil {
			return err
		}

		woID := workOrderID
		inv := &Invoice{
			ID:               uuid.New(),
			WorkOrderID:      &woID,
			ClientID:         payerID,
			BillToClientID:   opts.BillToClientID,
			Number:           FormatInvoiceNumber(invoiceDate.Year(), seq),
			InvoiceDate:      invoiceDate,
			DueDate:          dueDate,
			Status:           InvoiceStatusUnpaid,
			Subtotal:         subtotal,
			VATAmount:        vatAmount,
			Total:            total,
			VATExempt:        exempt,
			VATExemptionCode: exemptionCode,
			ClaimNumber:      opts.ClaimNumber,
			CustomerNotes:    opts.CustomerNotes,
			InternalNotes:    opts.InternalNotes,
		}
		for i := range lines {
			lines[i].InvoiceID = inv.ID
		}

		if err := tx.InsertInvoice(ctx, inv, lines); err != nil {
			return err
		}

		flipped, err := tx.MarkWorkOrderInvoiced(ctx, workOrderID)
		if err != nil {
			return err
		}
		if !flipped {
			return fmt.Errorf("workorder %s: invoiced concurrently: %w", workOrderID, shared.ErrConflict)
		}

		created = inv
		usages = snap.PartUsages
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("invoice generated",
		slog.String("invoice_number", created.Number),
		slog.String("work_order_id", workOrderID.String()),
		slog.String("total", created.Total.String()))

	if s.stock != nil && len(usages) > 0 {
		if err := s.stock.NotifyPartsInvoiced(ctx, workOrderID, usages); err != nil {
			// The invoice is committed; the stock ledger catches up via retry.
			s.logger.Warn("notify stock ledger", slog.Any("error", err))
		}
	}

	return created, nil
}

// nextNumber draws the next sequence number for scope/year and enforces the
// four digit yearly cap.
func nextNumber(ctx context.Context, tx Tx, scope string, year int) (int, error) {
	n, err := tx.NextSequence(ctx, scope, year)
	if err != nil {
		return 0, err
	}
	if n > maxSequencePerYear {
		return 0, fmt.Errorf("%s sequence exhausted for %d: %w", scope, year, shared.ErrConflict)
	}
	return n, nil
}

func (s *Service) effectiveVATRate(payer *registry.Client, override *decimal.Decimal) (rate decimal.Decimal, exempt bool, code string) {
	if payer.VATExempt || payer.IsForeign {
		return decimal.Zero, true, payer.VATExemptionCode
	}
	if override != nil {
		return *override, override.IsZero(), ""
	}
	if payer.DefaultVATRate != nil {
		return *payer.DefaultVATRate, payer.DefaultVATRate.IsZero(), ""
	}
	return s.defaultVATRate, false, ""
}

// buildLines copies work order charges verbatim into invoice lines.
func buildLines(snap *WorkOrderSnapshot, vatRate decimal.Decimal) []InvoiceLine {
	lines := make([]InvoiceLine, 0, len(snap.Items)+len(snap.PartUsages))
	n := 1
	for _, item := range snap.Items {
		lines = append(lines, InvoiceLine{
			ID:          uuid.New(),
			LineType:    item.ItemType,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			VATRate:     vatRate,
			LineNumber:  n,
		})
		n++
	}
	for _, pu := range snap.PartUsages {
		lines = append(lines, InvoiceLine{
			ID:          uuid.New(),
			LineType:    "part",
			Description: fmt.Sprintf("Part %s (x%s)", pu.PartID, pu.Quantity),
			Quantity:    pu.Quantity,
			UnitPrice:   pu.UnitPrice,
			VATRate:     vatRate,
			LineNumber:  n,
		})
		n++
	}
	return lines
}

// RecordPaymentInput bundles parameters for recording a payment.
type RecordPaymentInput struct {
	ClientID    uuid.UUID
	Amount      decimal.Decimal
	PaymentDate time.Time
	Method      PaymentMethod
	Reference   string
	Notes       string
	Strategy    AllocationStrategy
	Allocations []AllocationInput
}

// AllocationInput is one caller-supplied manual allocation.
type AllocationInput struct {
	InvoiceID uuid.UUID
	Amount    decimal.Decimal
}

// RecordPayment applies an incoming payment against one client's open
// invoices under the requested strategy. Every touched invoice is read and
// written inside a single transaction.
func (s *Service) RecordPayment(ctx context.Context, in RecordPaymentInput) (*Payment, error) {
	if in.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("payment amount must be positive: %w", shared.ErrValidation)
	}
	if !in.Method.Valid() {
		return nil, fmt.Errorf("unknown payment method %q: %w", in.Method, shared.ErrValidation)
	}

	paymentDate := shared.Day(in.PaymentDate)
	if in.PaymentDate.IsZero() {
		paymentDate = shared.Day(s.now())
	}
	if paymentDate.After(shared.Day(s.now())) {
		return nil, fmt.Errorf("payment date %s is in the future: %w", paymentDate.Format(shared.DateLayout), shared.ErrValidation)
	}

	switch in.Strategy {
	case StrategyManual:
		if len(in.Allocations) == 0 {
			return nil, fmt.Errorf("manual strategy requires allocations: %w", shared.ErrValidation)
		}
	case StrategyFIFO:
		if len(in.Allocations) > 0 {
			return nil, fmt.Errorf("fifo strategy does not accept allocations: %w", shared.ErrValidation)
		}
	default:
		return nil, fmt.Errorf("unknown allocation strategy %q: %w", in.Strategy, shared.ErrValidation)
	}

	if _, err := s.clients.Resolve(ctx, in.ClientID); err != nil {
		return nil, err
	}

	payment := &Payment{
		ID:          uuid.New(),
		ClientID:    in.ClientID,
		Amount:      in.Amount,
		PaymentDate: paymentDate,
		Method:      in.Method,
		Reference:   in.Reference,
		Notes:       in.Notes,
	}

	err := s.store.WithTx(ctx, func(tx Tx) error {
		closed, err := tx.DayClosed(ctx, paymentDate)
		if err != nil {
			return err
		}
		if closed {
			return fmt.Errorf("cash day %s already closed: %w", paymentDate.Format(shared.DateLayout), shared.ErrInvalidState)
		}

		var allocations []Allocation
		if in.Strategy == StrategyManual {
			allocations, err = s.allocateManual(ctx, tx, payment, in.Allocations)
		} else {
			allocations, err = s.allocateFIFO(ctx, tx, payment)
		}
		if err != nil {
			return err
		}

		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		for i := range allocations {
			if err := tx.InsertAllocation(ctx, &allocations[i]); err != nil {
				return err
			}
		}
		if err := s.refreshStatuses(ctx, tx, allocations); err != nil {
			return err
		}

		payment.Allocations = allocations
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment recorded",
		slog.String("payment_id", payment.ID.String()),
		slog.String("client_id", in.ClientID.String()),
		slog.String("amount", in.Amount.String()),
		slog.Int("allocations", len(payment.Allocations)))

	return payment, nil
}

// allocateManual validates caller-supplied pairs: invoices must belong to the
// client, each amount must fit the current outstanding balance and the sum
// must equal the payment amount exactly.
func (s *Service) allocateManual(ctx context.Context, tx Tx, payment *Payment, inputs []AllocationInput) ([]Allocation, error) {
	sum := decimal.Zero
	for _, a := range inputs {
		if a.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("allocation amount must be positive: %w", shared.ErrValidation)
		}
		sum = sum.Add(a.Amount)
	}
	if !sum.Equal(payment.Amount) {
		return nil, fmt.Errorf("allocation sum %s does not match payment amount %s: %w",
			sum, payment.Amount, shared.ErrValidation)
	}

	allocations := make([]Allocation, 0, len(inputs))
	for _, a := range inputs {
		inv, err := tx.GetInvoiceForUpdate(ctx, a.InvoiceID)
		if err != nil {
			return nil, err
		}
		if inv.ClientID != payment.ClientID {
			return nil, fmt.Errorf("invoice %s does not belong to client %s: %w",
				inv.Number, payment.ClientID, shared.ErrValidation)
		}
		if !inv.Status.Open() {
			return nil, fmt.Errorf("invoice %s is %s: %w", inv.Number, inv.Status, shared.ErrInvalidState)
		}
		outstanding, err := tx.Outstanding(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		if a.Amount.GreaterThan(outstanding) {
			return nil, fmt.Errorf("invoice %s: allocation %s exceeds outstanding %s: %w",
				inv.Number, a.Amount, outstanding, shared.ErrValidation)
		}
		pid := payment.ID
		allocations = append(allocations, Allocation{
			ID:        uuid.New(),
			PaymentID: &pid,
			InvoiceID: inv.ID,
			Amount:    a.Amount,
		})
	}
	return allocations, nil
}

// allocateFIFO greedily consumes the payment against open invoices ordered by
// invoice date then number. Any leftover is rejected: the engine never turns
// a payment surplus into silent client credit.
func (s *Service) allocateFIFO(ctx context.Context, tx Tx, payment *Payment) ([]Allocation, error) {
	open, err := tx.ListOpenInvoicesForUpdate(ctx, payment.ClientID)
	if err != nil {
		return nil, err
	}

	remaining := payment.Amount
	var allocations []Allocation
	for _, inv := range open {
		if remaining.Sign() <= 0 {
			break
		}
		if inv.Outstanding.Sign() <= 0 {
			continue
		}
		amount := decimal.Min(remaining, inv.Outstanding)
		pid := payment.ID
		allocations = append(allocations, Allocation{
			ID:        uuid.New(),
			PaymentID: &pid,
			InvoiceID: inv.ID,
			Amount:    amount,
		})
		remaining = remaining.Sub(amount)
	}

	if remaining.Sign() > 0 {
		return nil, fmt.Errorf("payment exceeds open balance by %s: %w", remaining, shared.ErrOverAllocation)
	}
	return allocations, nil
}

// refreshStatuses recomputes the status of every invoice touched by the new
// allocations from its post-write outstanding balance.
func (s *Service) refreshStatuses(ctx context.Context, tx Tx, allocations []Allocation) error {
	seen := make(map[uuid.UUID]bool, len(allocations))
	for _, a := range allocations {
		if seen[a.InvoiceID] {
			continue
		}
		seen[a.InvoiceID] = true

		inv, err := tx.GetInvoiceForUpdate(ctx, a.InvoiceID)
		if err != nil {
			return err
		}
		outstanding, err := tx.Outstanding(ctx, a.InvoiceID)
		if err != nil {
			return err
		}
		if outstanding.Sign() < 0 {
			return fmt.Errorf("invoice %s: outstanding balance went negative: %w", inv.Number, shared.ErrConflict)
		}
		if err := tx.SetInvoiceStatus(ctx, a.InvoiceID, statusForOutstanding(inv.Total, outstanding)); err != nil {
			return err
		}
	}
	return nil
}

// IssueCreditNote reverses an issued invoice in full and cancels it.
func (s *Service) IssueCreditNote(ctx context.Context, invoiceID uuid.UUID, reason string) (*CreditNote, error) {
	if reason == "" {
		return nil, fmt.Errorf("credit note reason required: %w", shared.ErrValidation)
	}

	var created *CreditNote
	err := s.store.WithTx(ctx, func(tx Tx) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == InvoiceStatusCancelled {
			return fmt.Errorf("invoice %s already cancelled: %w", inv.Number, shared.ErrConflict)
		}

		year := shared.Day(s.now()).Year()
		seq, err := nextNumber(ctx, tx, SeqCreditNote, year)
		if err != nil {
			return err
		}

		cn := &CreditNote{
			ID:        uuid.New(),
			InvoiceID: inv.ID,
			ClientID:  inv.ClientID,
			Number:    FormatCreditNoteNumber(year, seq),
			Reason:    reason,
			Subtotal:  inv.Subtotal,
			VATAmount: inv.VATAmount,
			Total:     inv.Total,
		}
		if err := tx.InsertCreditNote(ctx, cn); err != nil {
			return err
		}

		cancelled, err := tx.CancelInvoice(ctx, inv.ID)
		if err != nil {
			return err
		}
		if !cancelled {
			return fmt.Errorf("invoice %s cancelled concurrently: %w", inv.Number, shared.ErrConflict)
		}

		created = cn
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("credit note issued",
		slog.String("credit_note_number", created.Number),
		slog.String("invoice_id", invoiceID.String()),
		slog.String("total", created.Total.String()))

	return created, nil
}

// InvoiceDetail is an invoice with its lines and live balance.
type InvoiceDetail struct {
	Invoice
	Lines       []InvoiceLine   `json:"lines"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// GetInvoiceDetail returns an invoice with lines and balance.
func (s *Service) GetInvoiceDetail(ctx context.Context, id uuid.UUID) (*InvoiceDetail, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	lines, err := s.store.ListInvoiceLines(ctx, id)
	if err != nil {
		return nil, err
	}
	outstanding, err := s.store.OutstandingBalance(ctx, id)
	if err != nil {
		return nil, err
	}
	// Paid is the allocation history, not total minus outstanding: a
	// cancelled invoice has zero outstanding but keeps its recorded
	// allocations.
	paid, err := s.store.AllocatedTotal(ctx, id)
	if err != nil {
		return nil, err
	}
	return &InvoiceDetail{
		Invoice:     *inv,
		Lines:       lines,
		PaidAmount:  paid,
		Outstanding: outstanding,
	}, nil
}

// ListInvoices returns invoices matching the filter.
func (s *Service) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, error) {
	return s.store.ListInvoices(ctx, req)
}

// GetPayment returns one payment with its allocations.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.store.GetPayment(ctx, id)
}

// ListPayments returns payments matching the filter.
func (s *Service) ListPayments(ctx context.Context, req ListPaymentsRequest) ([]Payment, error) {
	return s.store.ListPayments(ctx, req)
}

// ListCreditNotes returns the credit notes issued against an invoice.
func (s *Service) ListCreditNotes(ctx context.Context, invoiceID uuid.UUID) ([]CreditNote, error) {
	return s.store.ListCreditNotes(ctx, invoiceID)
}
