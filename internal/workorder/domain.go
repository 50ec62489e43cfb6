package workorder

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/officina-erp/officina-erp/internal/shared"
)

// Status enumerates work order lifecycle stages.
type Status string

const (
	StatusDraft        Status = "draft"
	StatusInProgress   Status = "in_progress"
	StatusWaitingParts Status = "waiting_parts"
	StatusCompleted    Status = "completed"
	StatusInvoiced     Status = "invoiced"
	StatusArchived     Status = "archived"
)

// validTransitions is the forward-only chain. StatusInvoiced never appears as
// a target: only invoice generation performs completed→invoiced.
var validTransitions = map[Status][]Status{
	StatusDraft:        {StatusInProgress},
	StatusInProgress:   {StatusWaitingParts, StatusCompleted},
	StatusWaitingParts: {StatusCompleted},
	StatusCompleted:    {},
	StatusInvoiced:     {StatusArchived},
	StatusArchived:     {},
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransitionTo reports whether target is a legal next state for s.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Editable reports whether line items and part usages may still be changed.
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusInProgress
}

// ErrInvalidTransition is returned for any transition outside the chain.
var ErrInvalidTransition = fmt.Errorf("workorder: transition not allowed: %w", shared.ErrInvalidState)

// WorkOrder is a unit of repair work for one vehicle.
type WorkOrder struct {
	ID                 uuid.UUID   `json:"id"`
	ClientID           uuid.UUID   `json:"client_id"`
	VehicleID          uuid.UUID   `json:"vehicle_id"`
	Status             Status      `json:"status"`
	KmIn               int         `json:"km_in"`
	ProblemDescription string      `json:"problem_description,omitempty"`
	Diagnosis          string      `json:"diagnosis,omitempty"`
	Items              []Item      `json:"items,omitempty"`
	PartUsages         []PartUsage `json:"part_usages,omitempty"`
	Version            int64       `json:"version"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// Item is a labor or service line on a work order.
type Item struct {
	ID           uuid.UUID       `json:"id"`
	WorkOrderID  uuid.UUID       `json:"work_order_id"`
	ItemType     string          `json:"item_type"`
	Description  string          `json:"description"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TechnicianID *uuid.UUID      `json:"technician_id,omitempty"`
}

// PartUsage records a part consumed by a work order at a frozen unit price.
type PartUsage struct {
	ID          uuid.UUID       `json:"id"`
	WorkOrderID uuid.UUID       `json:"work_order_id"`
	PartID      uuid.UUID       `json:"part_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// ListRequest filters work order listings.
type ListRequest struct {
	Status   Status
	ClientID uuid.UUID
	Limit    int
	Offset   int
}
