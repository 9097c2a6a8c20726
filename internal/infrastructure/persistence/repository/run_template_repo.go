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

// RunTemplateRepository implements port.RunTemplateRepository
type RunTemplateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRunTemplateRepository creates a new run template repository
func NewRunTemplateRepository(db *sql.DB, logger *zap.Logger) *RunTemplateRepository {
	return &RunTemplateRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert creates or replaces a template
func (r *RunTemplateRepository) Upsert(ctx context.Context, tmpl *entity.RunTemplate) error {
	fields, err := json.Marshal(tmpl.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode template fields: %w", err)
	}

	_, err = sqlite.Executor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO run_templates (id, process_id, name, formula, fields)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			process_id = excluded.process_id,
			name = excluded.name,
			formula = excluded.formula,
			fields = excluded.fields,
			updated_at = CURRENT_TIMESTAMP
	`, tmpl.ID, tmpl.ProcessID, tmpl.Name, tmpl.Formula, string(fields))
	if err != nil {
		r.logger.Error("Failed to upsert run template", zap.String("id", tmpl.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert run template: %w", err)
	}
	return nil
}

// GetByID retrieves a template by ID
func (r *RunTemplateRepository) GetByID(ctx context.Context, id string) (*entity.RunTemplate, error) {
	row := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, process_id, name, formula, fields, created_at, updated_at
		FROM run_templates WHERE id = ?
	`, id)

	tmpl, err := scanRunTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run template: %w", err)
	}
	return tmpl, nil
}

// List returns templates, optionally restricted to one process
func (r *RunTemplateRepository) List(ctx context.Context, processID string) ([]*entity.RunTemplate, error) {
	query := `SELECT id, process_id, name, formula, fields, created_at, updated_at FROM run_templates`
	var args []interface{}
	if processID != "" {
		query += ` WHERE process_id = ?`
		args = append(args, processID)
	}
	query += ` ORDER BY id`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run templates: %w", err)
	}
	defer rows.Close()

	var templates []*entity.RunTemplate
	for rows.Next() {
		tmpl, err := scanRunTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run template: %w", err)
		}
		templates = append(templates, tmpl)
	}
	return templates, rows.Err()
}

func scanRunTemplate(row rowScanner) (*entity.RunTemplate, error) {
	var tmpl entity.RunTemplate
	var fields string
	if err := row.Scan(&tmpl.ID, &tmpl.ProcessID, &tmpl.Name, &tmpl.Formula, &fields, &tmpl.CreatedAt, &tmpl.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &tmpl.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields of template %s: %w", tmpl.ID, err)
	}
	return &tmpl, nil
}

var _ port.RunTemplateRepository = (*RunTemplateRepository)(nil)
