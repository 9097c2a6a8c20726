package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/infrastructure/persistence/sqlite"
)

const orderColumns = `
	o.id, o.code, o.customer_name, o.workflow_type_id, o.status_id, s.code,
	o.total_processes, o.completed_processes, o.lifecycle_completion_sent,
	o.version, o.created_at, o.updated_at
`

// OrderRepository implements port.OrderRepository
type OrderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *sql.DB, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new order at version 1
func (r *OrderRepository) Create(ctx context.Context, order *entity.Order) error {
	query := `
		INSERT INTO orders (
			code, customer_name, workflow_type_id, status_id,
			total_processes, completed_processes, lifecycle_completion_sent, version
		) VALUES (?, ?, ?, ?, ?, 0, 0, 1)
	`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		order.Code,
		order.CustomerName,
		order.WorkflowTypeID,
		order.StatusID,
		order.TotalProcesses,
	)
	if err != nil {
		r.logger.Error("Failed to create order", zap.String("code", order.Code), zap.Error(err))
		return fmt.Errorf("failed to create order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	order.ID = id
	order.Version = 1
	order.CompletedProcesses = 0
	order.LifecycleCompletionSent = false
	return nil
}

// GetByID retrieves an order by ID
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders o JOIN workflow_statuses s ON s.id = o.status_id
		WHERE o.id = ?`

	order, err := scanOrder(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get order by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetByCode retrieves an order by its issued code
func (r *OrderRepository) GetByCode(ctx context.Context, code string) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders o JOIN workflow_statuses s ON s.id = o.status_id
		WHERE o.code = ?`

	order, err := scanOrder(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order by code: %w", err)
	}
	return order, nil
}

// List returns orders newest first
func (r *OrderRepository) List(ctx context.Context, limit, offset int) ([]*entity.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders o JOIN workflow_statuses s ON s.id = o.status_id
		ORDER BY o.id DESC LIMIT ? OFFSET ?`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*entity.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// UpdateStatus applies a status change guarded by the row version
func (r *OrderRepository) UpdateStatus(ctx context.Context, id, expectedVersion, statusID int64) error {
	res, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, `
		UPDATE orders SET status_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?
	`, statusID, id, expectedVersion)
	if err != nil {
		r.logger.Error("Failed to update order status", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return expectOneRow(res, "order", id)
}

// IncrementCompletedProcesses atomically bumps completed_processes, refusing to pass the total
func (r *OrderRepository) IncrementCompletedProcesses(ctx context.Context, id int64) (int, int, error) {
	var completed, total int
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, `
		UPDATE orders SET completed_processes = completed_processes + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND completed_processes < total_processes
		RETURNING completed_processes, total_processes
	`, id).Scan(&completed, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: order %d", port.ErrCounterOverflow, id)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment completed processes: %w", err)
	}
	return completed, total, nil
}

// MarkLifecycleCompletionSent flips the flag once; later calls report false
func (r *OrderRepository) MarkLifecycleCompletionSent(ctx context.Context, id int64) (bool, error) {
	res, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, `
		UPDATE orders SET lifecycle_completion_sent = 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND lifecycle_completion_sent = 0
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark lifecycle completion: %w", err)
	}
	return flipped(res)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*entity.Order, error) {
	var o entity.Order
	err := row.Scan(
		&o.ID,
		&o.Code,
		&o.CustomerName,
		&o.WorkflowTypeID,
		&o.StatusID,
		&o.StatusCode,
		&o.TotalProcesses,
		&o.CompletedProcesses,
		&o.LifecycleCompletionSent,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

var _ port.OrderRepository = (*OrderRepository)(nil)
