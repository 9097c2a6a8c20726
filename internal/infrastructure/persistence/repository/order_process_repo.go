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

const orderProcessColumns = `
	p.id, p.order_id, p.process_id, p.workflow_type_id, p.status_id, s.code,
	p.run_config_workflow_type_id, p.run_lifecycle_workflow_type_id, p.batch_count,
	p.total_runs, p.config_completed_runs, p.lifecycle_completed_runs,
	p.version, p.created_at, p.updated_at
`

// OrderProcessRepository implements port.OrderProcessRepository
type OrderProcessRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOrderProcessRepository creates a new order process repository
func NewOrderProcessRepository(db *sql.DB, logger *zap.Logger) *OrderProcessRepository {
	return &OrderProcessRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the process and its ordered template list
func (r *OrderProcessRepository) Create(ctx context.Context, p *entity.OrderProcess) error {
	q := sqlite.Executor(ctx, r.db)

	result, err := q.ExecContext(ctx, `
		INSERT INTO order_processes (
			order_id, process_id, workflow_type_id, status_id,
			run_config_workflow_type_id, run_lifecycle_workflow_type_id,
			batch_count, total_runs, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
	`,
		p.OrderID,
		p.ProcessID,
		p.WorkflowTypeID,
		p.StatusID,
		p.RunConfigWorkflowTypeID,
		p.RunLifecycleWorkflowTypeID,
		p.BatchCount,
		p.TotalRuns,
	)
	if err != nil {
		r.logger.Error("Failed to create order process", zap.Int64("order_id", p.OrderID), zap.Error(err))
		return fmt.Errorf("failed to create order process: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	for i, templateID := range p.TemplateIDs {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO order_process_templates (order_process_id, template_id, position) VALUES (?, ?, ?)
		`, id, templateID, i); err != nil {
			return fmt.Errorf("failed to attach template %s: %w", templateID, err)
		}
	}

	p.ID = id
	p.Version = 1
	return nil
}

// GetByID retrieves an order process by ID
func (r *OrderProcessRepository) GetByID(ctx context.Context, id int64) (*entity.OrderProcess, error) {
	q := sqlite.Executor(ctx, r.db)
	query := `SELECT ` + orderProcessColumns + `
		FROM order_processes p JOIN workflow_statuses s ON s.id = p.status_id
		WHERE p.id = ?`

	p, err := scanOrderProcess(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get order process by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get order process: %w", err)
	}

	if p.TemplateIDs, err = r.templateIDs(ctx, q, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// ListByOrder returns the processes of an order in creation order
func (r *OrderProcessRepository) ListByOrder(ctx context.Context, orderID int64) ([]*entity.OrderProcess, error) {
	q := sqlite.Executor(ctx, r.db)
	query := `SELECT ` + orderProcessColumns + `
		FROM order_processes p JOIN workflow_statuses s ON s.id = p.status_id
		WHERE p.order_id = ? ORDER BY p.id`

	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order processes: %w", err)
	}

	var processes []*entity.OrderProcess
	for rows.Next() {
		p, err := scanOrderProcess(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order process: %w", err)
		}
		processes = append(processes, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range processes {
		if p.TemplateIDs, err = r.templateIDs(ctx, q, p.ID); err != nil {
			return nil, err
		}
	}
	return processes, nil
}

// UpdateStatus applies a status change guarded by the row version
func (r *OrderProcessRepository) UpdateStatus(ctx context.Context, id, expectedVersion, statusID int64) error {
	res, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, `
		UPDATE order_processes SET status_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?
	`, statusID, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update order process status: %w", err)
	}
	return expectOneRow(res, "order process", id)
}

// IncrementConfigCompleted atomically bumps config_completed_runs
func (r *OrderProcessRepository) IncrementConfigCompleted(ctx context.Context, id int64) (int, int, error) {
	return r.increment(ctx, id, "config_completed_runs")
}

// IncrementLifecycleCompleted atomically bumps lifecycle_completed_runs
func (r *OrderProcessRepository) IncrementLifecycleCompleted(ctx context.Context, id int64) (int, int, error) {
	return r.increment(ctx, id, "lifecycle_completed_runs")
}

// increment runs a single UPDATE ... RETURNING so the read of the new value
// cannot interleave with another writer
func (r *OrderProcessRepository) increment(ctx context.Context, id int64, column string) (int, int, error) {
	query := fmt.Sprintf(`
		UPDATE order_processes SET %[1]s = %[1]s + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND %[1]s < total_runs
		RETURNING %[1]s, total_runs
	`, column)

	var completed, total int
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id).Scan(&completed, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: order process %d %s", port.ErrCounterOverflow, id, column)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment %s: %w", column, err)
	}
	return completed, total, nil
}

func (r *OrderProcessRepository) templateIDs(ctx context.Context, q sqlite.Querier, id int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT template_id FROM order_process_templates WHERE order_process_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load process templates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var templateID string
		if err := rows.Scan(&templateID); err != nil {
			return nil, err
		}
		ids = append(ids, templateID)
	}
	return ids, rows.Err()
}

func scanOrderProcess(row rowScanner) (*entity.OrderProcess, error) {
	var p entity.OrderProcess
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.ProcessID,
		&p.WorkflowTypeID,
		&p.StatusID,
		&p.StatusCode,
		&p.RunConfigWorkflowTypeID,
		&p.RunLifecycleWorkflowTypeID,
		&p.BatchCount,
		&p.TotalRuns,
		&p.ConfigCompletedRuns,
		&p.LifecycleCompletedRuns,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

var _ port.OrderProcessRepository = (*OrderProcessRepository)(nil)
