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

// BillingContextRepository implements port.BillingContextRepository
type BillingContextRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBillingContextRepository creates a new billing context repository
func NewBillingContextRepository(db *sql.DB, logger *zap.Logger) *BillingContextRepository {
	return &BillingContextRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a context and its member orders.
// An order can own only one ORDER context.
func (r *BillingContextRepository) Create(ctx context.Context, bc *entity.BillingContext) error {
	q := sqlite.Executor(ctx, r.db)

	var primary sql.NullInt64
	if bc.Type == entity.ContextOrder && len(bc.OrderIDs) == 1 {
		primary = sql.NullInt64{Int64: bc.OrderIDs[0], Valid: true}
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO billing_contexts (type, name, description, primary_order_id) VALUES (?, ?, ?, ?)
	`, string(bc.Type), bc.Name, bc.Description, primary)
	if sqlite.IsUniqueViolation(err) {
		return fmt.Errorf("%w: order %d already has a billing context", port.ErrInvalidContext, primary.Int64)
	}
	if err != nil {
		r.logger.Error("Failed to create billing context", zap.String("name", bc.Name), zap.Error(err))
		return fmt.Errorf("failed to create billing context: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	for _, orderID := range bc.OrderIDs {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO billing_context_orders (context_id, order_id) VALUES (?, ?)
		`, id, orderID); err != nil {
			return fmt.Errorf("failed to add order %d to billing context: %w", orderID, err)
		}
	}

	bc.ID = id
	return nil
}

// GetByID retrieves a context with its member orders
func (r *BillingContextRepository) GetByID(ctx context.Context, id int64) (*entity.BillingContext, error) {
	return r.getOne(ctx, `
		SELECT id, type, name, description, created_at FROM billing_contexts WHERE id = ?
	`, id)
}

// GetByOrderID retrieves the ORDER context of an order
func (r *BillingContextRepository) GetByOrderID(ctx context.Context, orderID int64) (*entity.BillingContext, error) {
	return r.getOne(ctx, `
		SELECT id, type, name, description, created_at FROM billing_contexts
		WHERE type = 'ORDER' AND primary_order_id = ?
	`, orderID)
}

// List returns contexts newest first
func (r *BillingContextRepository) List(ctx context.Context, limit, offset int) ([]*entity.BillingContext, error) {
	q := sqlite.Executor(ctx, r.db)
	rows, err := q.QueryContext(ctx, `
		SELECT id, type, name, description, created_at FROM billing_contexts
		ORDER BY id DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list billing contexts: %w", err)
	}

	var contexts []*entity.BillingContext
	for rows.Next() {
		bc, err := scanBillingContext(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan billing context: %w", err)
		}
		contexts = append(contexts, bc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, bc := range contexts {
		if bc.OrderIDs, err = r.orderIDs(ctx, q, bc.ID); err != nil {
			return nil, err
		}
	}
	return contexts, nil
}

func (r *BillingContextRepository) getOne(ctx context.Context, query string, arg int64) (*entity.BillingContext, error) {
	q := sqlite.Executor(ctx, r.db)

	bc, err := scanBillingContext(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing context: %w", err)
	}

	if bc.OrderIDs, err = r.orderIDs(ctx, q, bc.ID); err != nil {
		return nil, err
	}
	return bc, nil
}

func (r *BillingContextRepository) orderIDs(ctx context.Context, q sqlite.Querier, contextID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT order_id FROM billing_context_orders WHERE context_id = ? ORDER BY order_id
	`, contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to load billing context orders: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanBillingContext(row rowScanner) (*entity.BillingContext, error) {
	var bc entity.BillingContext
	var contextType string
	if err := row.Scan(&bc.ID, &contextType, &bc.Name, &bc.Description, &bc.CreatedAt); err != nil {
		return nil, err
	}
	bc.Type = entity.ContextType(contextType)
	return &bc, nil
}

var _ port.BillingContextRepository = (*BillingContextRepository)(nil)
