package workorder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/officina-erp/officina-erp/internal/shared"
)

type memoryStore struct {
	orders map[uuid.UUID]*WorkOrder

	// failNextCAS forces the conditional update to miss once.
	failNextCAS bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{orders: make(map[uuid.UUID]*WorkOrder)}
}

func (s *memoryStore) GetWorkOrder(ctx context.Context, id uuid.UUID) (*WorkOrder, error) {
	wo, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("workorder %s: %w", id, shared.ErrNotFound)
	}
	copied := *wo
	return &copied, nil
}

func (s *memoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	if s.failNextCAS {
		s.failNextCAS = false
		return false, nil
	}
	wo, ok := s.orders[id]
	if !ok || wo.Status != from {
		return false, nil
	}
	wo.Status = to
	wo.Version++
	return true, nil
}

func (s *memoryStore) ListWorkOrders(ctx context.Context, req ListRequest) ([]WorkOrder, error) {
	var out []WorkOrder
	for _, wo := range s.orders {
		if req.Status != "" && wo.Status != req.Status {
			continue
		}
		out = append(out, *wo)
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedOrder(store *memoryStore, status Status) uuid.UUID {
	id := uuid.New()
	store.orders[id] = &WorkOrder{ID: id, ClientID: uuid.New(), VehicleID: uuid.New(), Status: status, Version: 1}
	return id
}

func TestAdvanceFollowsChain(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, testLogger())
	id := seedOrder(store, StatusDraft)

	for _, target := range []Status{StatusInProgress, StatusWaitingParts, StatusCompleted} {
		wo, err := svc.Advance(context.Background(), id, target)
		require.NoError(t, err)
		require.Equal(t, target, wo.Status)
	}
}

func TestAdvanceSkipsWaitingParts(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, testLogger())
	id := seedOrder(store, StatusInProgress)

	wo, err := svc.Advance(context.Background(), id, StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, wo.Status)
}

func TestAdvanceRejectsUnknownStatus(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, testLogger())
	id := seedOrder(store, StatusDraft)

	_, err := svc.Advance(context.Background(), id, Status("cancelled"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAdvanceRejectsInvoicedTarget(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, testLogger())
	id := seedOrder(store, StatusCompleted)

	_, err := svc.Advance(context.Background(), id, StatusInvoiced)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Equal(t, StatusCompleted, store.orders[id].Status)
}

func TestAdvanceRejectsBackward(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, testLogger())
	id := seedOrder(store, StatusCompleted)

	_, err := svc.Advance(context.Background(), id, StatusDraft)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestAdvanceRejectsSkippingForward(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, testLogger())
	id := seedOrder(store, StatusDraft)

	_, err := svc.Advance(context.Background(), id, StatusCompleted)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestAdvanceArchivesInvoicedOrder(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, testLogger())
	id := seedOrder(store, StatusInvoiced)

	wo, err := svc.Advance(context.Background(), id, StatusArchived)
	require.NoError(t, err)
	require.Equal(t, StatusArchived, wo.Status)

	_, err = svc.Advance(context.Background(), id, StatusDraft)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestAdvanceConflictOnConcurrentChange(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, testLogger())
	id := seedOrder(store, StatusDraft)
	store.failNextCAS = true

	_, err := svc.Advance(context.Background(), id, StatusInProgress)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestAdvanceNotFound(t *testing.T) {
	svc := NewService(newMemoryStore(), testLogger())

	_, err := svc.Advance(context.Background(), uuid.New(), StatusInProgress)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestEnsureEditable(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, testLogger())

	draft := seedOrder(store, StatusDraft)
	require.NoError(t, svc.EnsureEditable(context.Background(), draft))

	inProgress := seedOrder(store, StatusInProgress)
	require.NoError(t, svc.EnsureEditable(context.Background(), inProgress))

	completed := seedOrder(store, StatusCompleted)
	err := svc.EnsureEditable(context.Background(), completed)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}
