package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/domain/workflow"
	"github.com/garyjia/prodflow/internal/infrastructure/persistence/sqlite"
)

// WorkflowRepository implements port.WorkflowDefinitionRepository
type WorkflowRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow definition repository
func NewWorkflowRepository(db *sql.DB, logger *zap.Logger) *WorkflowRepository {
	return &WorkflowRepository{
		db:     db,
		logger: logger,
	}
}

// Sync upserts types and statuses and replaces each type's transitions.
// Call it inside a transaction.
func (r *WorkflowRepository) Sync(ctx context.Context, defs []*workflow.Definition) error {
	q := sqlite.Executor(ctx, r.db)

	for _, d := range defs {
		_, err := q.ExecContext(ctx, `
			INSERT INTO workflow_types (id, code, scope, name) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET code = excluded.code, scope = excluded.scope, name = excluded.name
		`, d.ID, d.Code, string(d.Scope), d.Name)
		if err != nil {
			r.logger.Error("Failed to sync workflow type", zap.String("code", d.Code), zap.Error(err))
			return fmt.Errorf("failed to sync workflow type %s: %w", d.Code, err)
		}

		// Clear initial flags first so the one-initial index holds while statuses are rewritten
		if _, err := q.ExecContext(ctx, `UPDATE workflow_statuses SET is_initial = 0 WHERE workflow_type_id = ?`, d.ID); err != nil {
			return fmt.Errorf("failed to reset initial status of %s: %w", d.Code, err)
		}

		for _, s := range d.Statuses() {
			_, err := q.ExecContext(ctx, `
				INSERT INTO workflow_statuses (id, workflow_type_id, code, name, position, is_initial, is_terminal)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					code = excluded.code, name = excluded.name, position = excluded.position,
					is_initial = excluded.is_initial, is_terminal = excluded.is_terminal
			`, s.ID, d.ID, s.Code, s.Name, s.Position, boolToInt(s.IsInitial), boolToInt(s.IsTerminal))
			if err != nil {
				return fmt.Errorf("failed to sync status %s of %s: %w", s.Code, d.Code, err)
			}
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM workflow_transitions WHERE workflow_type_id = ?`, d.ID); err != nil {
			return fmt.Errorf("failed to clear transitions of %s: %w", d.Code, err)
		}
		for _, t := range d.Transitions() {
			_, err := q.ExecContext(ctx, `
				INSERT INTO workflow_transitions (workflow_type_id, from_status_id, to_status_id) VALUES (?, ?, ?)
			`, d.ID, t.FromStatusID, t.ToStatusID)
			if err != nil {
				return fmt.Errorf("failed to sync transition of %s: %w", d.Code, err)
			}
		}
	}

	r.logger.Info("Workflow catalog synced", zap.Int("workflow_types", len(defs)))
	return nil
}

// Load rebuilds definitions from the stored tables
func (r *WorkflowRepository) Load(ctx context.Context) ([]*workflow.Definition, error) {
	q := sqlite.Executor(ctx, r.db)

	builders := make(map[int64]*workflow.Builder)
	codes := make(map[int64]map[int64]string)
	var order []int64

	rows, err := q.QueryContext(ctx, `SELECT id, code, scope, name FROM workflow_types ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow types: %w", err)
	}
	for rows.Next() {
		var id int64
		var code, scope, name string
		if err := rows.Scan(&id, &code, &scope, &name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan workflow type: %w", err)
		}
		builders[id] = workflow.NewBuilder(id, code, workflow.Scope(scope)).Named(name)
		codes[id] = make(map[int64]string)
		order = append(order, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, `
		SELECT id, workflow_type_id, code, name, is_initial, is_terminal
		FROM workflow_statuses ORDER BY workflow_type_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow statuses: %w", err)
	}
	for rows.Next() {
		var s workflow.Status
		var typeID int64
		if err := rows.Scan(&s.ID, &typeID, &s.Code, &s.Name, &s.IsInitial, &s.IsTerminal); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan workflow status: %w", err)
		}
		if b, ok := builders[typeID]; ok {
			b.Status(s)
			codes[typeID][s.ID] = s.Code
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, `SELECT workflow_type_id, from_status_id, to_status_id FROM workflow_transitions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow transitions: %w", err)
	}
	for rows.Next() {
		var typeID, from, to int64
		if err := rows.Scan(&typeID, &from, &to); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan workflow transition: %w", err)
		}
		if b, ok := builders[typeID]; ok {
			b.Configure(codes[typeID][from]).Permit(codes[typeID][to])
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	defs := make([]*workflow.Definition, 0, len(order))
	for _, id := range order {
		d, err := builders[id].Build()
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, nil
}

var _ port.WorkflowDefinitionRepository = (*WorkflowRepository)(nil)
