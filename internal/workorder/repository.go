package workorder

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/officina-erp/officina-erp/internal/shared"
)

// Repository provides PostgreSQL backed persistence for work orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetWorkOrder retrieves a work order with items and part usages.
func (r *Repository) GetWorkOrder(ctx context.Context, id uuid.UUID) (*WorkOrder, error) {
	const query = `
		SELECT id, client_id, vehicle_id, status, km_in, problem_description, diagnosis,
			version, created_at, updated_at
		FROM work_orders
		WHERE id = $1`

	var wo WorkOrder
	var kmIn pgtype.Int4
	var problem, diagnosis pgtype.Text

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&wo.ID, &wo.ClientID, &wo.VehicleID, &wo.Status, &kmIn, &problem, &diagnosis,
		&wo.Version, &wo.CreatedAt, &wo.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("workorder %s: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	wo.KmIn = int(kmIn.Int32)
	wo.ProblemDescription = problem.String
	wo.Diagnosis = diagnosis.String

	if wo.Items, err = r.listItems(ctx, id); err != nil {
		return nil, err
	}
	if wo.PartUsages, err = r.listPartUsages(ctx, id); err != nil {
		return nil, err
	}
	return &wo, nil
}

func (r *Repository) listItems(ctx context.Context, workOrderID uuid.UUID) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, work_order_id, item_type, description, quantity, unit_price, technician_id
		FROM work_order_items
		WHERE work_order_id = $1
		ORDER BY created_at, id`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var techID pgtype.UUID
		if err := rows.Scan(&it.ID, &it.WorkOrderID, &it.ItemType, &it.Description, &it.Quantity, &it.UnitPrice, &techID); err != nil {
			return nil, err
		}
		if techID.Valid {
			tid := uuid.UUID(techID.Bytes)
			it.TechnicianID = &tid
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Repository) listPartUsages(ctx context.Context, workOrderID uuid.UUID) ([]PartUsage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, work_order_id, part_id, quantity, unit_price
		FROM part_usages
		WHERE work_order_id = $1
		ORDER BY created_at, id`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usages []PartUsage
	for rows.Next() {
		var pu PartUsage
		if err := rows.Scan(&pu.ID, &pu.WorkOrderID, &pu.PartID, &pu.Quantity, &pu.UnitPrice); err != nil {
			return nil, err
		}
		usages = append(usages, pu)
	}
	return usages, rows.Err()
}

// UpdateStatus performs a compare-and-set status change.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE work_orders
		SET status = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// ListWorkOrders returns work orders with optional filtering.
func (r *Repository) ListWorkOrders(ctx context.Context, req ListRequest) ([]WorkOrder, error) {
	query := `
		SELECT id, client_id, vehicle_id, status, km_in, problem_description, diagnosis,
			version, created_at, updated_at
		FROM work_orders
		WHERE 1=1`

	args := []any{}
	argNum := 1

	if req.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(req.Status))
		argNum++
	}
	if req.ClientID != uuid.Nil {
		query += fmt.Sprintf(" AND client_id = $%d", argNum)
		args = append(args, req.ClientID)
		argNum++
	}

	query += " ORDER BY created_at DESC"

	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, req.Limit)
		argNum++
	}
	if req.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, req.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []WorkOrder
	for rows.Next() {
		var wo WorkOrder
		var kmIn pgtype.Int4
		var problem, diagnosis pgtype.Text
		if err := rows.Scan(&wo.ID, &wo.ClientID, &wo.VehicleID, &wo.Status, &kmIn, &problem, &diagnosis,
			&wo.Version, &wo.CreatedAt, &wo.UpdatedAt); err != nil {
			return nil, err
		}
		wo.KmIn = int(kmIn.Int32)
		wo.ProblemDescription = problem.String
		wo.Diagnosis = diagnosis.String
		orders = append(orders, wo)
	}
	return orders, rows.Err()
}
