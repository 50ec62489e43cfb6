package deposit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/officina-erp/officina-erp/internal/billing"
	"github.com/officina-erp/officina-erp/internal/registry"
	"github.com/officina-erp/officina-erp/internal/shared"
)

// Store defines deposit data access outside transactions.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
	GetDeposit(ctx context.Context, id uuid.UUID) (*Deposit, error)
	ListDeposits(ctx context.Context, req ListRequest) ([]Deposit, error)
}

// Tx covers one atomic deposit transaction, including the invoice side of
// an application.
type Tx interface {
	InsertDeposit(ctx context.Context, d *Deposit) error
	GetDepositForUpdate(ctx context.Context, id uuid.UUID) (*Deposit, error)
	MarkApplied(ctx context.Context, depositID, invoiceID uuid.UUID, applied, forfeited decimal.Decimal) (bool, error)
	MarkRefunded(ctx context.Context, depositID uuid.UUID, refundDate time.Time) (bool, error)
	RecordRefundOutflow(ctx context.Context, d *Deposit, refundDate time.Time) error

	GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*billing.Invoice, error)
	Outstanding(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error)
	InsertAllocation(ctx context.Context, a *billing.Allocation) error
	SetInvoiceStatus(ctx context.Context, id uuid.UUID, status billing.InvoiceStatus) error

	DayClosed(ctx context.Context, day time.Time) (bool, error)
}

// Service handles the deposit lifecycle.
type Service struct {
	store   Store
	clients registry.Directory
	logger  *slog.Logger

	now func() time.Time
}

// NewService builds a Service instance.
func NewService(store Store, clients registry.Directory, logger *slog.Logger) *Service {
	return &Service{store: store, clients: clients, logger: logger, now: time.Now}
}

// CreateInput bundles parameters for taking a deposit.
type CreateInput struct {
	ClientID    uuid.UUID
	WorkOrderID *uuid.UUID
	Amount      decimal.Decimal
	Method      billing.PaymentMethod
	DepositDate time.Time
	Notes       string
}

// Create records a new open deposit.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Deposit, error) {
	if in.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive: %w", shared.ErrValidation)
	}
	if !in.Method.Valid() {
		return nil, fmt.Errorf("unknown payment method %q: %w", in.Method, shared.ErrValidation)
	}

	depositDate := shared.Day(in.DepositDate)
	if in.DepositDate.IsZero() {
		depositDate = shared.Day(s.now())
	}
	if depositDate.After(shared.Day(s.now())) {
		return nil, fmt.Errorf("deposit date %s is in the future: %w", depositDate.Format(shared.DateLayout), shared.ErrValidation)
	}

	if _, err := s.clients.Resolve(ctx, in.ClientID); err != nil {
		return nil, err
	}

	d := &Deposit{
		ID:              uuid.New(),
		ClientID:        in.ClientID,
		WorkOrderID:     in.WorkOrderID,
		Amount:          in.Amount,
		Method:          in.Method,
		Status:          StatusOpen,
		DepositDate:     depositDate,
		AppliedAmount:   decimal.Zero,
		ForfeitedAmount: decimal.Zero,
		Notes:           in.Notes,
	}

	err := s.store.WithTx(ctx, func(tx Tx) error {
		closed, err := tx.DayClosed(ctx, depositDate)
		if err != nil {
			return err
		}
		if closed {
			return fmt.Errorf("cash day %s already closed: %w", depositDate.Format(shared.DateLayout), shared.ErrInvalidState)
		}
		return tx.InsertDeposit(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("deposit created",
		slog.String("deposit_id", d.ID.String()),
		slog.String("client_id", in.ClientID.String()),
		slog.String("amount", in.Amount.String()))

	return d, nil
}

// Apply consumes an open deposit against an invoice of the same client. The
// applied amount is capped at the invoice's outstanding balance; any excess
// is forfeited, never turned into credit.
func (s *Service) Apply(ctx context.Context, depositID, invoiceID uuid.UUID) (*Deposit, error) {
	var applied *Deposit

	err := s.store.WithTx(ctx, func(tx Tx) error {
		d, err := tx.GetDepositForUpdate(ctx, depositID)
		if err != nil {
			return err
		}
		if d.Status != StatusOpen {
			return fmt.Errorf("deposit %s is %s: %w", depositID, d.Status, shared.ErrConflict)
		}

		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.ClientID != d.ClientID {
			return fmt.Errorf("invoice %s does not belong to client %s: %w", inv.Number, d.ClientID, shared.ErrValidation)
		}
		if !inv.Status.Open() {
			return fmt.Errorf("invoice %s is %s: %w", inv.Number, inv.Status, shared.ErrInvalidState)
		}

		balance, err := tx.Outstanding(ctx, invoiceID)
		if err != nil {
			return err
		}
		amount := decimal.Min(d.Amount, balance)
		forfeited := d.Amount.Sub(amount)

		did := d.ID
		if err := tx.InsertAllocation(ctx, &billing.Allocation{
			ID:        uuid.New(),
			DepositID: &did,
			InvoiceID: invoiceID,
			Amount:    amount,
		}); err != nil {
			return err
		}

		remaining := balance.Sub(amount)
		if err := tx.SetInvoiceStatus(ctx, invoiceID, statusFor(inv.Total, remaining)); err != nil {
			return err
		}

		ok, err := tx.MarkApplied(ctx, depositID, invoiceID, amount, forfeited)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("deposit %s applied concurrently: %w", depositID, shared.ErrConflict)
		}

		d.Status = StatusApplied
		d.AppliedInvoiceID = &invoiceID
		d.AppliedAmount = amount
		d.ForfeitedAmount = forfeited
		applied = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("deposit applied",
		slog.String("deposit_id", depositID.String()),
		slog.String("invoice_id", invoiceID.String()),
		slog.String("applied", applied.AppliedAmount.String()),
		slog.String("forfeited", applied.ForfeitedAmount.String()))

	return applied, nil
}

func statusFor(total, balance decimal.Decimal) billing.InvoiceStatus {
	switch {
	case balance.Sign() <= 0:
		return billing.InvoiceStatusPaid
	case balance.LessThan(total):
		return billing.InvoiceStatusPartiallyPaid
	default:
		return billing.InvoiceStatusUnpaid
	}
}

// Refund returns an open deposit to the client and books the cash outflow.
func (s *Service) Refund(ctx context.Context, depositID uuid.UUID, refundDate time.Time) (*Deposit, error) {
	day := shared.Day(refundDate)
	if refundDate.IsZero() {
		day = shared.Day(s.now())
	}
	if day.After(shared.Day(s.now())) {
		return nil, fmt.Errorf("refund date %s is in the future: %w", day.Format(shared.DateLayout), shared.ErrValidation)
	}

	var refunded *Deposit
	err := s.store.WithTx(ctx, func(tx Tx) error {
		d, err := tx.GetDepositForUpdate(ctx, depositID)
		if err != nil {
			return err
		}
		if d.Status != StatusOpen {
			return fmt.Errorf("deposit %s is %s: %w", depositID, d.Status, shared.ErrConflict)
		}

		closed, err := tx.DayClosed(ctx, day)
		if err != nil {
			return err
		}
		if closed {
			return fmt.Errorf("cash day %s already closed: %w", day.Format(shared.DateLayout), shared.ErrInvalidState)
		}

		ok, err := tx.MarkRefunded(ctx, depositID, day)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("deposit %s refunded concurrently: %w", depositID, shared.ErrConflict)
		}
		if err := tx.RecordRefundOutflow(ctx, d, day); err != nil {
			return err
		}

		d.Status = StatusRefunded
		d.RefundDate = &day
		refunded = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("deposit refunded",
		slog.String("deposit_id", depositID.String()),
		slog.String("amount", refunded.Amount.String()))

	return refunded, nil
}

// Get returns one deposit.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Deposit, error) {
	return s.store.GetDeposit(ctx, id)
}

// List returns deposits matching the filter.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Deposit, error) {
	return s.store.ListDeposits(ctx, req)
}
