package workorder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/officina-erp/officina-erp/internal/shared"
)

// Store defines data access methods for work orders.
type Store interface {
	GetWorkOrder(ctx context.Context, id uuid.UUID) (*WorkOrder, error)
	// UpdateStatus performs a conditional status change and reports whether a
	// row matched. A false return means the order moved under our feet.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error)
	ListWorkOrders(ctx context.Context, req ListRequest) ([]WorkOrder, error)
}

// Service owns the work order state machine.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Advance moves a work order to the requested target status. The target must
// be the legal next state on the chain; invoiced is reserved for invoice
// generation and archived is reachable only from invoiced.
func (s *Service) Advance(ctx context.Context, id uuid.UUID, target Status) (*WorkOrder, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("workorder: unknown status %q: %w", target, shared.ErrValidation)
	}

	wo, err := s.store.GetWorkOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if target == StatusInvoiced {
		return nil, fmt.Errorf("workorder %s: invoiced is set by invoice generation only: %w", wo.ID, ErrInvalidTransition)
	}
	if !wo.Status.CanTransitionTo(target) {
		return nil, fmt.Errorf("workorder %s: %s -> %s: %w", wo.ID, wo.Status, target, ErrInvalidTransition)
	}

	ok, err := s.store.UpdateStatus(ctx, id, wo.Status, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("workorder %s: status changed concurrently: %w", id, shared.ErrConflict)
	}

	s.logger.Info("work order advanced",
		slog.String("work_order_id", id.String()),
		slog.String("from", string(wo.Status)),
		slog.String("to", string(target)))

	return s.store.GetWorkOrder(ctx, id)
}

// EnsureEditable guards line item and part usage mutations: collaborators
// must call it before committing edits.
func (s *Service) EnsureEditable(ctx context.Context, id uuid.UUID) error {
	wo, err := s.store.GetWorkOrder(ctx, id)
	if err != nil {
		return err
	}
	if !wo.Status.Editable() {
		return fmt.Errorf("workorder %s: not editable in status %s: %w", id, wo.Status, shared.ErrInvalidState)
	}
	return nil
}

// Get returns a work order with its items and part usages.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*WorkOrder, error) {
	return s.store.GetWorkOrder(ctx, id)
}

// List returns work orders matching the filter.
func (s *Service) List(ctx context.Context, req ListRequest) ([]WorkOrder, error) {
	return s.store.ListWorkOrders(ctx, req)
}
