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

// SequenceRepository implements port.SequenceStore on SQLite.
// The upsert runs as its own autocommit statement; SQLite's single writer lock
// serialises concurrent callers and the busy timeout queues them.
type SequenceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSequenceRepository creates a new fiscal sequence store
func NewSequenceRepository(db *sql.DB, logger *zap.Logger) *SequenceRepository {
	return &SequenceRepository{
		db:     db,
		logger: logger,
	}
}

// Increment issues the next value for (prefix, fiscalYear). The first value is 1.
func (r *SequenceRepository) Increment(ctx context.Context, prefix, fiscalYear string) (int64, error) {
	// A business transaction already holds the write lock; issuing from a
	// second connection would wait on ourselves.
	if sqlite.InTransaction(ctx) {
		return 0, port.ErrSequenceInTransaction
	}

	var issued int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO fiscal_sequences (prefix, fiscal_year, next_value) VALUES (?, ?, 2)
		ON CONFLICT(prefix, fiscal_year) DO UPDATE SET
			next_value = fiscal_sequences.next_value + 1,
			updated_at = CURRENT_TIMESTAMP
		RETURNING next_value - 1
	`, prefix, fiscalYear).Scan(&issued)
	if sqlite.IsBusy(err) || sqlite.IsUniqueViolation(err) {
		return 0, fmt.Errorf("%w: %s %s: %v", port.ErrDuplicateSequence, prefix, fiscalYear, err)
	}
	if err != nil {
		r.logger.Error("Failed to increment fiscal sequence",
			zap.String("prefix", prefix),
			zap.String("fiscal_year", fiscalYear),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment fiscal sequence: %w", err)
	}
	return issued, nil
}

// Current returns the stored counter, or nil before the first issue
func (r *SequenceRepository) Current(ctx context.Context, prefix, fiscalYear string) (*entity.FiscalSequence, error) {
	seq := entity.FiscalSequence{Prefix: prefix, FiscalYear: fiscalYear}
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, `
		SELECT next_value FROM fiscal_sequences WHERE prefix = ? AND fiscal_year = ?
	`, prefix, fiscalYear).Scan(&seq.NextValue)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read fiscal sequence: %w", err)
	}
	return &seq, nil
}

var _ port.SequenceStore = (*SequenceRepository)(nil)
