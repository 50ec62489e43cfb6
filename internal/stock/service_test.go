package stock

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryLedger struct {
	movements []Movement
}

func (m *memoryLedger) HasWorkOrderMovements(ctx context.Context, workOrderID uuid.UUID) (bool, error) {
	for _, mv := range m.movements {
		if mv.WorkOrderID != nil && *mv.WorkOrderID == workOrderID && mv.Type == MovementWorkOrderOut {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryLedger) InsertMovements(ctx context.Context, movements []Movement) error {
	m.movements = append(m.movements, movements...)
	return nil
}

func (m *memoryLedger) OnHand(ctx context.Context, partID uuid.UUID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, mv := range m.movements {
		if mv.PartID == partID {
			total = total.Add(mv.Quantity)
		}
	}
	return total, nil
}

func (m *memoryLedger) ListLowStock(ctx context.Context) ([]LowStockEntry, error) {
	return nil, nil
}

func newTestService(store Store) *Service {
	return NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRecordConsumptionNegatesQuantities(t *testing.T) {
	ledger := &memoryLedger{}
	svc := newTestService(ledger)

	partID := uuid.New()
	woID := uuid.New()

	// Seed incoming stock.
	require.NoError(t, ledger.InsertMovements(context.Background(), []Movement{
		{ID: uuid.New(), PartID: partID, Type: MovementPurchaseIn, Quantity: decimal.NewFromInt(10)},
	}))

	err := svc.RecordConsumption(context.Background(), woID, []Consumption{
		{PartID: partID, Quantity: decimal.NewFromInt(3)},
	})
	require.NoError(t, err)

	onHand, err := svc.OnHand(context.Background(), partID)
	require.NoError(t, err)
	require.True(t, onHand.Equal(decimal.NewFromInt(7)), onHand.String())
}

func TestRecordConsumptionIdempotent(t *testing.T) {
	ledger := &memoryLedger{}
	svc := newTestService(ledger)

	partID := uuid.New()
	woID := uuid.New()
	draws := []Consumption{{PartID: partID, Quantity: decimal.NewFromInt(2)}}

	require.NoError(t, svc.RecordConsumption(context.Background(), woID, draws))
	require.NoError(t, svc.RecordConsumption(context.Background(), woID, draws))

	require.Len(t, ledger.movements, 1)
	onHand, err := svc.OnHand(context.Background(), partID)
	require.NoError(t, err)
	require.True(t, onHand.Equal(decimal.NewFromInt(-2)), onHand.String())
}

func TestRecordConsumptionEmptyNoop(t *testing.T) {
	ledger := &memoryLedger{}
	svc := newTestService(ledger)

	require.NoError(t, svc.RecordConsumption(context.Background(), uuid.New(), nil))
	require.Empty(t, ledger.movements)
}
