package cashbook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/officina-erp/officina-erp/internal/shared"
)

// closeLockTTL bounds how long a crashed close can hold the register lock.
const closeLockTTL = 30 * time.Second

// Store defines cashbook data access outside transactions.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
	Summarize(ctx context.Context, day time.Time) (*DaySummary, error)
	GetClosing(ctx context.Context, id uuid.UUID) (*Closing, error)
	GetClosingByDate(ctx context.Context, day time.Time) (*Closing, error)
	ListClosings(ctx context.Context, req HistoryRequest) ([]Closing, error)
}

// Tx covers one atomic cashbook transaction.
type Tx interface {
	Summarize(ctx context.Context, day time.Time) (*DaySummary, error)
	ClosingExists(ctx context.Context, day time.Time) (bool, error)
	InsertClosing(ctx context.Context, c *Closing) error
	GetClosingForUpdate(ctx context.Context, id uuid.UUID) (*Closing, error)
	SetReconciled(ctx context.Context, id uuid.UUID, counted, discrepancy decimal.Decimal, at time.Time) (bool, error)
}

// Service handles daily register closings.
type Service struct {
	store  Store
	locker *redis.Client
	logger *slog.Logger

	preview singleflight.Group
	now     func() time.Time
}

// NewService builds a Service instance. locker may be nil when no Redis is
// configured; the database unique constraint still guarantees one closing
// per day.
func NewService(store Store, locker *redis.Client, logger *slog.Logger) *Service {
	return &Service{store: store, locker: locker, logger: logger, now: time.Now}
}

// Preview computes the day summary without committing anything. Concurrent
// previews of the same day share one computation.
func (s *Service) Preview(ctx context.Context, day time.Time) (*DaySummary, error) {
	day = shared.Day(day)
	if day.IsZero() {
		day = shared.Day(s.now())
	}

	v, err, _ := s.preview.Do(day.Format(shared.DateLayout), func() (any, error) {
		return s.store.Summarize(ctx, day)
	})
	if err != nil {
		return nil, err
	}
	return v.(*DaySummary), nil
}

// Close freezes one calendar day: the summary is computed and persisted
// atomically, and from then on no money movement may be booked into that day.
func (s *Service) Close(ctx context.Context, day time.Time, closedBy, notes string) (*Closing, error) {
	day = shared.Day(day)
	if day.IsZero() {
		day = shared.Day(s.now())
	}
	if day.After(shared.Day(s.now())) {
		return nil, fmt.Errorf("cannot close future day %s: %w", day.Format(shared.DateLayout), shared.ErrValidation)
	}

	if s.locker != nil {
		key := shared.CashCloseLockKey(day)
		ok, err := s.locker.SetNX(ctx, key, "1", closeLockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("cashbook: acquire close lock: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("close already running for %s: %w", day.Format(shared.DateLayout), shared.ErrConflict)
		}
		defer s.locker.Del(context.WithoutCancel(ctx), key)
	}

	var closing *Closing
	err := s.store.WithTx(ctx, func(tx Tx) error {
		exists, err := tx.ClosingExists(ctx, day)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("day %s already closed: %w", day.Format(shared.DateLayout), shared.ErrConflict)
		}

		summary, err := tx.Summarize(ctx, day)
		if err != nil {
			return err
		}

		closing = &Closing{
			ID:            uuid.New(),
			CloseDate:     day,
			InvoicedTotal: summary.InvoicedTotal,
			InvoicedCount: summary.InvoicedCount,
			Payments:      summary.Payments,
			PaymentsCount: summary.PaymentsCount,
			DepositsIn:    summary.DepositsIn,
			DepositsCount: summary.DepositsCount,
			RefundsOut:    summary.RefundsOut,
			GrandTotal:    summary.GrandTotal,
			ClosedBy:      closedBy,
			Notes:         notes,
		}
		return tx.InsertClosing(ctx, closing)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("cash day closed",
		slog.String("close_date", day.Format(shared.DateLayout)),
		slog.String("grand_total", closing.GrandTotal.String()),
		slog.Int("payments_count", closing.PaymentsCount))

	return closing, nil
}

// Reconcile records the physically counted cash against a closing and
// computes the discrepancy versus the expected cash takings.
func (s *Service) Reconcile(ctx context.Context, closingID uuid.UUID, countedCash decimal.Decimal) (*Closing, error) {
	if countedCash.Sign() < 0 {
		return nil, fmt.Errorf("counted cash cannot be negative: %w", shared.ErrValidation)
	}

	var reconciled *Closing
	err := s.store.WithTx(ctx, func(tx Tx) error {
		c, err := tx.GetClosingForUpdate(ctx, closingID)
		if err != nil {
			return err
		}
		if c.IsReconciled {
			return fmt.Errorf("closing %s already reconciled: %w", c.CloseDate.Format(shared.DateLayout), shared.ErrConflict)
		}

		discrepancy := countedCash.Sub(c.Payments.Cash)
		at := s.now().UTC()

		ok, err := tx.SetReconciled(ctx, closingID, countedCash, discrepancy, at)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("closing reconciled concurrently: %w", shared.ErrConflict)
		}

		c.CountedCash = &countedCash
		c.Discrepancy = &discrepancy
		c.IsReconciled = true
		c.ReconciledAt = &at
		reconciled = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("closing reconciled",
		slog.String("close_date", reconciled.CloseDate.Format(shared.DateLayout)),
		slog.String("discrepancy", reconciled.Discrepancy.String()))

	return reconciled, nil
}

// Get returns one closing by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Closing, error) {
	return s.store.GetClosing(ctx, id)
}

// GetByDate returns the closing of one day.
func (s *Service) GetByDate(ctx context.Context, day time.Time) (*Closing, error) {
	return s.store.GetClosingByDate(ctx, shared.Day(day))
}

// History lists closings in chronological order.
func (s *Service) History(ctx context.Context, req HistoryRequest) ([]Closing, error) {
	return s.store.ListClosings(ctx, req)
}
