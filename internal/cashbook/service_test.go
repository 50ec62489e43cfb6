package cashbook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/officina-erp/officina-erp/internal/shared"
)

// memoryCashbook implements Store and Tx with canned day summaries.
type memoryCashbook struct {
	summaries map[string]*DaySummary
	closings  map[uuid.UUID]*Closing
}

func newMemoryCashbook() *memoryCashbook {
	return &memoryCashbook{
		summaries: make(map[string]*DaySummary),
		closings:  make(map[uuid.UUID]*Closing),
	}
}

func (m *memoryCashbook) WithTx(ctx context.Context, fn func(Tx) error) error {
	return fn(m)
}

func (m *memoryCashbook) Summarize(ctx context.Context, day time.Time) (*DaySummary, error) {
	key := shared.Day(day).Format(shared.DateLayout)
	if s, ok := m.summaries[key]; ok {
		copied := *s
		return &copied, nil
	}
	return &DaySummary{CloseDate: shared.Day(day)}, nil
}

func (m *memoryCashbook) ClosingExists(ctx context.Context, day time.Time) (bool, error) {
	for _, c := range m.closings {
		if c.CloseDate.Equal(shared.Day(day)) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryCashbook) InsertClosing(ctx context.Context, c *Closing) error {
	copied := *c
	m.closings[c.ID] = &copied
	return nil
}

func (m *memoryCashbook) GetClosing(ctx context.Context, id uuid.UUID) (*Closing, error) {
	return m.GetClosingForUpdate(ctx, id)
}

func (m *memoryCashbook) GetClosingByDate(ctx context.Context, day time.Time) (*Closing, error) {
	for _, c := range m.closings {
		if c.CloseDate.Equal(shared.Day(day)) {
			copied := *c
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("closing for %s: %w", day.Format(shared.DateLayout), shared.ErrNotFound)
}

func (m *memoryCashbook) ListClosings(ctx context.Context, req HistoryRequest) ([]Closing, error) {
	var out []Closing
	for _, c := range m.closings {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CloseDate.Before(out[j].CloseDate) })
	return out, nil
}

func (m *memoryCashbook) GetClosingForUpdate(ctx context.Context, id uuid.UUID) (*Closing, error) {
	c, ok := m.closings[id]
	if !ok {
		return nil, fmt.Errorf("closing %s: %w", id, shared.ErrNotFound)
	}
	copied := *c
	return &copied, nil
}

func (m *memoryCashbook) SetReconciled(ctx context.Context, id uuid.UUID, counted, discrepancy decimal.Decimal, at time.Time) (bool, error) {
	c, ok := m.closings[id]
	if !ok || c.IsReconciled {
		return false, nil
	}
	c.CountedCash = &counted
	c.Discrepancy = &discrepancy
	c.IsReconciled = true
	c.ReconciledAt = &at
	return true, nil
}

var testToday = time.Date(2026, 3, 15, 18, 30, 0, 0, time.UTC)

func newTestService(t *testing.T, store *memoryCashbook, locker *redis.Client) *Service {
	t.Helper()
	svc := NewService(store, locker, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return testToday }
	return svc
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedSummary(store *memoryCashbook, day time.Time) *DaySummary {
	s := &DaySummary{
		CloseDate:     shared.Day(day),
		InvoicedTotal: money("610.00"),
		InvoicedCount: 4,
		Payments: MethodTotals{
			Cash: money("320.00"),
			POS:  money("180.50"),
		},
		PaymentsCount: 5,
		DepositsIn:    money("100.00"),
		DepositsCount: 1,
		RefundsOut:    money("50.00"),
	}
	s.GrandTotal = s.Payments.Sum().Add(s.DepositsIn).Sub(s.RefundsOut)
	store.summaries[shared.Day(day).Format(shared.DateLayout)] = s
	return s
}

func TestPreviewComputesWithoutClosing(t *testing.T) {
	store := newMemoryCashbook()
	svc := newTestService(t, store, nil)
	seeded := seedSummary(store, testToday)

	summary, err := svc.Preview(context.Background(), testToday)
	require.NoError(t, err)
	require.True(t, summary.GrandTotal.Equal(seeded.GrandTotal))
	require.Equal(t, 5, summary.PaymentsCount)
	require.Empty(t, store.closings)
}

func TestCloseFreezesDay(t *testing.T) {
	store := newMemoryCashbook()
	svc := newTestService(t, store, nil)
	seedSummary(store, testToday)

	closing, err := svc.Close(context.Background(), testToday, "anna", "evening close")
	require.NoError(t, err)
	require.Equal(t, shared.Day(testToday), closing.CloseDate)
	require.True(t, closing.InvoicedTotal.Equal(money("610.00")))
	require.Equal(t, 4, closing.InvoicedCount)
	require.True(t, closing.Payments.Cash.Equal(money("320.00")))
	require.True(t, closing.GrandTotal.Equal(money("550.50")), closing.GrandTotal.String())
	require.Equal(t, "anna", closing.ClosedBy)
	require.False(t, closing.IsReconciled)

	_, err = svc.Close(context.Background(), testToday, "", "")
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestCloseRejectsFutureDay(t *testing.T) {
	svc := newTestService(t, newMemoryCashbook(), nil)

	_, err := svc.Close(context.Background(), testToday.AddDate(0, 0, 1), "", "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCloseLockContention(t *testing.T) {
	mr := miniredis.RunT(t)
	locker := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer locker.Close()

	store := newMemoryCashbook()
	svc := newTestService(t, store, locker)
	seedSummary(store, testToday)

	// Simulate a concurrent close holding the lock.
	require.NoError(t, locker.Set(context.Background(), shared.CashCloseLockKey(testToday), "1", time.Minute).Err())

	_, err := svc.Close(context.Background(), testToday, "", "")
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Empty(t, store.closings)

	// Lock released, close proceeds and drops its own lock afterwards.
	require.NoError(t, locker.Del(context.Background(), shared.CashCloseLockKey(testToday)).Err())
	_, err = svc.Close(context.Background(), testToday, "", "")
	require.NoError(t, err)
	require.False(t, mr.Exists(shared.CashCloseLockKey(testToday)))
}

func TestReconcileComputesDiscrepancy(t *testing.T) {
	store := newMemoryCashbook()
	svc := newTestService(t, store, nil)
	seedSummary(store, testToday)

	closing, err := svc.Close(context.Background(), testToday, "", "")
	require.NoError(t, err)

	reconciled, err := svc.Reconcile(context.Background(), closing.ID, money("310.00"))
	require.NoError(t, err)
	require.True(t, reconciled.IsReconciled)
	require.True(t, reconciled.Discrepancy.Equal(money("-10.00")), reconciled.Discrepancy.String())
	require.NotNil(t, reconciled.ReconciledAt)

	_, err = svc.Reconcile(context.Background(), closing.ID, money("320.00"))
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestReconcileValidation(t *testing.T) {
	svc := newTestService(t, newMemoryCashbook(), nil)

	_, err := svc.Reconcile(context.Background(), uuid.New(), money("-1.00"))
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Reconcile(context.Background(), uuid.New(), money("10.00"))
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestHistoryChronological(t *testing.T) {
	store := newMemoryCashbook()
	svc := newTestService(t, store, nil)

	for i := 3; i >= 1; i-- {
		day := shared.Day(testToday).AddDate(0, 0, -i)
		store.closings[uuid.New()] = &Closing{ID: uuid.New(), CloseDate: day}
	}

	closings, err := svc.History(context.Background(), HistoryRequest{})
	require.NoError(t, err)
	require.Len(t, closings, 3)
	for i := 1; i < len(closings); i++ {
		require.True(t, closings[i-1].CloseDate.Before(closings[i].CloseDate))
	}
}
