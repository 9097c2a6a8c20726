package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/infrastructure/persistence/sqlite"
)

const processRunColumns = `
	r.id, r.order_process_id, r.run_number, r.template_id, r.display_name,
	r.config_workflow_type_id, r.config_status_id, cs.code,
	r.lifecycle_workflow_type_id, r.lifecycle_status_id, ls.code,
	r.fields, r.version, r.created_at, r.updated_at
`

const processRunJoins = `
	JOIN workflow_statuses cs ON cs.id = r.config_status_id
	JOIN workflow_statuses ls ON ls.id = r.lifecycle_status_id
`

// ProcessRunRepository implements port.ProcessRunRepository
type ProcessRunRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewProcessRunRepository creates a new process run repository
func NewProcessRunRepository(db *sql.DB, logger *zap.Logger) *ProcessRunRepository {
	return &ProcessRunRepository{
		db:     db,
		logger: logger,
	}
}

// CreateBatch inserts runs; a duplicate (order_process_id, run_number) fails the whole batch
func (r *ProcessRunRepository) CreateBatch(ctx context.Context, runs []*entity.ProcessRun) error {
	q := sqlite.Executor(ctx, r.db)
	query := `
		INSERT INTO process_runs (
			order_process_id, run_number, template_id, display_name,
			config_workflow_type_id, config_status_id,
			lifecycle_workflow_type_id, lifecycle_status_id,
			fields, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`

	for _, run := range runs {
		fields, err := encodeFields(run.Fields)
		if err != nil {
			return err
		}

		result, err := q.ExecContext(ctx, query,
			run.OrderProcessID,
			run.RunNumber,
			run.TemplateID,
			run.DisplayName,
			run.ConfigWorkflowTypeID,
			run.ConfigStatusID,
			run.LifecycleWorkflowTypeID,
			run.LifecycleStatusID,
			fields,
		)
		if err != nil {
			r.logger.Error("Failed to create process run",
				zap.Int64("order_process_id", run.OrderProcessID),
				zap.Int("run_number", run.RunNumber),
				zap.Error(err))
			return fmt.Errorf("failed to create process run %d: %w", run.RunNumber, err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		run.ID = id
		run.Version = 1
	}
	return nil
}

// GetByID retrieves a run by ID
func (r *ProcessRunRepository) GetByID(ctx context.Context, id int64) (*entity.ProcessRun, error) {
	query := `SELECT ` + processRunColumns + ` FROM process_runs r ` + processRunJoins + ` WHERE r.id = ?`

	run, err := scanProcessRun(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get process run by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get process run: %w", err)
	}
	return run, nil
}

// ListByOrderProcess returns runs ordered by run number
func (r *ProcessRunRepository) ListByOrderProcess(ctx context.Context, orderProcessID int64) ([]*entity.ProcessRun, error) {
	query := `SELECT ` + processRunColumns + ` FROM process_runs r ` + processRunJoins + `
		WHERE r.order_process_id = ? ORDER BY r.run_number`
	return r.list(ctx, query, orderProcessID)
}

// ListByOrder returns all runs of an order ordered by process then run number
func (r *ProcessRunRepository) ListByOrder(ctx context.Context, orderID int64) ([]*entity.ProcessRun, error) {
	query := `SELECT ` + processRunColumns + ` FROM process_runs r ` + processRunJoins + `
		JOIN order_processes p ON p.id = r.order_process_id
		WHERE p.order_id = ? ORDER BY r.order_process_id, r.run_number`
	return r.list(ctx, query, orderID)
}

// CountByOrderProcess counts existing runs of a process
func (r *ProcessRunRepository) CountByOrderProcess(ctx context.Context, orderProcessID int64) (int, error) {
	var n int
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM process_runs WHERE order_process_id = ?`, orderProcessID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count process runs: %w", err)
	}
	return n, nil
}

// UpdateConfigStatus moves the configuration workflow, guarded by version
func (r *ProcessRunRepository) UpdateConfigStatus(ctx context.Context, id, expectedVersion, statusID int64) error {
	res, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, `
		UPDATE process_runs SET config_status_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?
	`, statusID, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update run config status: %w", err)
	}
	return expectOneRow(res, "process run", id)
}

// UpdateLifecycleStatus moves the lifecycle workflow, guarded by version
func (r *ProcessRunRepository) UpdateLifecycleStatus(ctx context.Context, id, expectedVersion, statusID int64) error {
	res, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, `
		UPDATE process_runs SET lifecycle_status_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?
	`, statusID, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update run lifecycle status: %w", err)
	}
	return expectOneRow(res, "process run", id)
}

// UpdateFields replaces the stored field values, guarded by version
func (r *ProcessRunRepository) UpdateFields(ctx context.Context, id, expectedVersion int64, fields map[string]entity.FieldValue) error {
	encoded, err := encodeFields(fields)
	if err != nil {
		return err
	}

	res, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, `
		UPDATE process_runs SET fields = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?
	`, encoded, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update run fields: %w", err)
	}
	return expectOneRow(res, "process run", id)
}

func (r *ProcessRunRepository) list(ctx context.Context, query string, arg int64) ([]*entity.ProcessRun, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list process runs: %w", err)
	}
	defer rows.Close()

	var runs []*entity.ProcessRun
	for rows.Next() {
		run, err := scanProcessRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan process run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func encodeFields(fields map[string]entity.FieldValue) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode run fields: %w", err)
	}
	return string(data), nil
}

func scanProcessRun(row rowScanner) (*entity.ProcessRun, error) {
	var run entity.ProcessRun
	var fields string
	err := row.Scan(
		&run.ID,
		&run.OrderProcessID,
		&run.RunNumber,
		&run.TemplateID,
		&run.DisplayName,
		&run.ConfigWorkflowTypeID,
		&run.ConfigStatusID,
		&run.ConfigStatusCode,
		&run.LifecycleWorkflowTypeID,
		&run.LifecycleStatusID,
		&run.LifecycleStatusCode,
		&fields,
		&run.Version,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Fields = make(map[string]entity.FieldValue)
	if err := json.Unmarshal([]byte(fields), &run.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields of run %d: %w", run.ID, err)
	}
	return &run, nil
}

var _ port.ProcessRunRepository = (*ProcessRunRepository)(nil)
