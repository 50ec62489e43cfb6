package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/officina-erp/officina-erp/internal/jobs"
	"github.com/officina-erp/officina-erp/internal/stock"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeStockMovement replays part consumption of an invoiced work
	// order into the stock ledger.
	TaskTypeStockMovement = "stock:movement"
	// TaskTypeLowStockScan checks the catalog for parts below threshold.
	TaskTypeLowStockScan = "stock:low_scan"
)

// StockMovementPayload carries the part draws of one invoiced work order.
type StockMovementPayload struct {
	WorkOrderID uuid.UUID           `json:"work_order_id"`
	Draws       []stock.Consumption `json:"draws"`
}

// NewStockMovementTask constructs an Asynq task.
func NewStockMovementTask(payload StockMovementPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeStockMovement, data, asynq.Queue(QueueDefault), asynq.MaxRetry(10)), nil
}

// NewStockMovementHandler processes TaskTypeStockMovement tasks. Replays are
// idempotent on the stock side, so retries are safe.
func NewStockMovementHandler(svc *stock.Service, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("stock_movement")

		var payload StockMovementPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			_ = tracker.End(err)
			return asynq.SkipRetry
		}

		err := svc.RecordConsumption(ctx, payload.WorkOrderID, payload.Draws)
		if err != nil {
			logger.Warn("stock movement task",
				slog.String("work_order_id", payload.WorkOrderID.String()),
				slog.Any("error", err))
		}
		return tracker.End(err)
	}
}

// LowStockScanPayload carries scheduling metadata.
type LowStockScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLowStockScanTask constructs an Asynq task for the nightly scan.
func NewLowStockScanTask(at time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(LowStockScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLowStockScan, data, asynq.Queue(QueueDefault)), nil
}

// NewLowStockScanHandler processes TaskTypeLowStockScan tasks.
func NewLowStockScanHandler(svc *stock.Service, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("low_stock_scan")

		var payload LowStockScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			_ = tracker.End(err)
			return asynq.SkipRetry
		}

		entries, err := svc.LowStock(ctx)
		if err != nil {
			return tracker.End(err)
		}
		for _, e := range entries {
			logger.Warn("part below minimum stock",
				slog.String("part_code", e.Part.Code),
				slog.String("on_hand", e.OnHand.String()),
				slog.String("shortage", e.Shortage.String()))
		}
		logger.Info("low stock scan finished", slog.Int("flagged", len(entries)))
		return tracker.End(nil)
	}
}
