package stock

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementType enumerates stock movement causes.
type MovementType string

const (
	MovementWorkOrderOut MovementType = "work_order_out"
	MovementAdjustment   MovementType = "adjustment"
	MovementPurchaseIn   MovementType = "purchase_in"
)

// Movement is one signed change to a part's quantity on hand. Quantity is
// negative for outgoing movements.
type Movement struct {
	ID          uuid.UUID       `json:"id"`
	PartID      uuid.UUID       `json:"part_id"`
	WorkOrderID *uuid.UUID      `json:"work_order_id,omitempty"`
	Type        MovementType    `json:"movement_type"`
	Quantity    decimal.Decimal `json:"quantity"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Part is a catalog entry with a reorder threshold.
type Part struct {
	ID           uuid.UUID       `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	MinimumStock decimal.Decimal `json:"minimum_stock"`
}

// LowStockEntry pairs a part with its current quantity when it falls below
// the reorder threshold.
type LowStockEntry struct {
	Part     Part            `json:"part"`
	OnHand   decimal.Decimal `json:"on_hand"`
	Shortage decimal.Decimal `json:"shortage"`
}

// Consumption is one part draw to replay into the ledger.
type Consumption struct {
	PartID   uuid.UUID       `json:"part_id"`
	Quantity decimal.Decimal `json:"quantity"`
}
