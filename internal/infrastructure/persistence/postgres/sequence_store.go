// Package postgres provides the PostgreSQL fiscal sequence backend.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/domain/entity"
)

//go:embed schema.sql
var schema string

// SQLSTATE codes that mean another caller won the row
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// NewPool opens and pings a connection pool
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// SequenceStore implements port.SequenceStore on PostgreSQL. The upsert takes
// the row lock, so concurrent callers queue on it instead of retrying.
type SequenceStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewSequenceStore creates a new PostgreSQL sequence store
func NewSequenceStore(pool *pgxpool.Pool, logger *zap.Logger) *SequenceStore {
	return &SequenceStore{
		pool:   pool,
		logger: logger,
	}
}

// EnsureSchema creates the sequence table if it does not exist
func (s *SequenceStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create fiscal_sequences: %w", err)
	}
	return nil
}

// Increment issues the next value for (prefix, fiscalYear). The first value is 1.
func (s *SequenceStore) Increment(ctx context.Context, prefix, fiscalYear string) (int64, error) {
	var issued int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO fiscal_sequences (prefix, fiscal_year, next_value) VALUES ($1, $2, 2)
		ON CONFLICT (prefix, fiscal_year) DO UPDATE SET
			next_value = fiscal_sequences.next_value + 1,
			updated_at = now()
		RETURNING next_value - 1
	`, prefix, fiscalYear).Scan(&issued)
	if err != nil {
		if isConflict(err) {
			return 0, fmt.Errorf("%w: %s %s: %v", port.ErrDuplicateSequence, prefix, fiscalYear, err)
		}
		s.logger.Error("Failed to increment fiscal sequence",
			zap.String("prefix", prefix),
			zap.String("fiscal_year", fiscalYear),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment fiscal sequence: %w", err)
	}
	return issued, nil
}

// Current returns the stored counter, or nil before the first issue
func (s *SequenceStore) Current(ctx context.Context, prefix, fiscalYear string) (*entity.FiscalSequence, error) {
	seq := entity.FiscalSequence{Prefix: prefix, FiscalYear: fiscalYear}
	err := s.pool.QueryRow(ctx, `
		SELECT next_value FROM fiscal_sequences WHERE prefix = $1 AND fiscal_year = $2
	`, prefix, fiscalYear).Scan(&seq.NextValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read fiscal sequence: %w", err)
	}
	return &seq, nil
}

func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected:
		return true
	}
	return false
}

var _ port.SequenceStore = (*SequenceStore)(nil)
