package stock

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store defines stock ledger data access.
type Store interface {
	HasWorkOrderMovements(ctx context.Context, workOrderID uuid.UUID) (bool, error)
	InsertMovements(ctx context.Context, movements []Movement) error
	OnHand(ctx context.Context, partID uuid.UUID) (decimal.Decimal, error)
	ListLowStock(ctx context.Context) ([]LowStockEntry, error)
}

// Service maintains the parts ledger.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// RecordConsumption replays the part draws of an invoiced work order into
// the ledger. The operation is idempotent per work order so task retries
// never double-book.
func (s *Service) RecordConsumption(ctx context.Context, workOrderID uuid.UUID, draws []Consumption) error {
	if len(draws) == 0 {
		return nil
	}

	done, err := s.store.HasWorkOrderMovements(ctx, workOrderID)
	if err != nil {
		return err
	}
	if done {
		s.logger.Debug("stock consumption already recorded", slog.String("work_order_id", workOrderID.String()))
		return nil
	}

	movements := make([]Movement, 0, len(draws))
	for _, d := range draws {
		woID := workOrderID
		movements = append(movements, Movement{
			ID:          uuid.New(),
			PartID:      d.PartID,
			WorkOrderID: &woID,
			Type:        MovementWorkOrderOut,
			Quantity:    d.Quantity.Neg(),
		})
	}
	if err := s.store.InsertMovements(ctx, movements); err != nil {
		return err
	}

	s.logger.Info("stock consumption recorded",
		slog.String("work_order_id", workOrderID.String()),
		slog.Int("movements", len(movements)))
	return nil
}

// OnHand returns the current quantity of a part.
func (s *Service) OnHand(ctx context.Context, partID uuid.UUID) (decimal.Decimal, error) {
	return s.store.OnHand(ctx, partID)
}

// LowStock lists parts that fell below their reorder threshold.
func (s *Service) LowStock(ctx context.Context) ([]LowStockEntry, error) {
	return s.store.ListLowStock(ctx)
}
