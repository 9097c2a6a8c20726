package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/infrastructure/persistence/sqlite"
)

const snapshotColumns = `
	id, context_id, version, intent, currency, result, inputs, lines, is_latest, created_at
`

// BillingSnapshotRepository implements port.BillingSnapshotRepository.
// Rows are append-only; schema triggers reject any update other than clearing is_latest.
type BillingSnapshotRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBillingSnapshotRepository creates a new billing snapshot repository
func NewBillingSnapshotRepository(db *sql.DB, logger *zap.Logger) *BillingSnapshotRepository {
	return &BillingSnapshotRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends a snapshot. Result is stored with two decimal places.
func (r *BillingSnapshotRepository) Insert(ctx context.Context, snap *entity.BillingSnapshot) error {
	inputs, err := json.Marshal(snap.Inputs)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot inputs: %w", err)
	}
	lines, err := json.Marshal(snap.Lines)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot lines: %w", err)
	}

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO billing_snapshots (context_id, version, intent, currency, result, inputs, lines, is_latest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snap.ContextID,
		snap.Version,
		string(snap.Intent),
		snap.Currency,
		snap.Result.StringFixed(2),
		string(inputs),
		string(lines),
		boolToInt(snap.IsLatest),
	)
	if sqlite.IsUniqueViolation(err) {
		return fmt.Errorf("%w: context %d version %d", port.ErrStaleSnapshotVersion, snap.ContextID, snap.Version)
	}
	if err != nil {
		r.logger.Error("Failed to insert billing snapshot",
			zap.Int64("context_id", snap.ContextID),
			zap.Int("version", snap.Version),
			zap.Error(err))
		return fmt.Errorf("failed to insert billing snapshot: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	snap.ID = id
	return nil
}

// ClearLatest demotes the latest snapshot only if it is still expectedVersion
func (r *BillingSnapshotRepository) ClearLatest(ctx context.Context, contextID int64, expectedVersion int) (bool, error) {
	res, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, `
		UPDATE billing_snapshots SET is_latest = 0
		WHERE context_id = ? AND is_latest = 1 AND version = ?
	`, contextID, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("failed to clear latest snapshot: %w", err)
	}
	return flipped(res)
}

// GetLatest returns the snapshot flagged latest, or nil
func (r *BillingSnapshotRepository) GetLatest(ctx context.Context, contextID int64) (*entity.BillingSnapshot, error) {
	return r.getOne(ctx, `SELECT `+snapshotColumns+` FROM billing_snapshots WHERE context_id = ? AND is_latest = 1`, contextID)
}

// GetByVersion returns one historical snapshot, or nil
func (r *BillingSnapshotRepository) GetByVersion(ctx context.Context, contextID int64, version int) (*entity.BillingSnapshot, error) {
	return r.getOne(ctx, `SELECT `+snapshotColumns+` FROM billing_snapshots WHERE context_id = ? AND version = ?`, contextID, version)
}

// ListByContext returns the full history in version order
func (r *BillingSnapshotRepository) ListByContext(ctx context.Context, contextID int64) ([]*entity.BillingSnapshot, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM billing_snapshots WHERE context_id = ? ORDER BY version`, contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to list billing snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*entity.BillingSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan billing snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (r *BillingSnapshotRepository) getOne(ctx context.Context, query string, args ...interface{}) (*entity.BillingSnapshot, error) {
	snap, err := scanSnapshot(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing snapshot: %w", err)
	}
	return snap, nil
}

func scanSnapshot(row rowScanner) (*entity.BillingSnapshot, error) {
	var snap entity.BillingSnapshot
	var intent, result, inputs, lines string

	err := row.Scan(
		&snap.ID,
		&snap.ContextID,
		&snap.Version,
		&intent,
		&snap.Currency,
		&result,
		&inputs,
		&lines,
		&snap.IsLatest,
		&snap.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	snap.Intent = entity.Intent(intent)
	if snap.Result, err = decimal.NewFromString(result); err != nil {
		return nil, fmt.Errorf("invalid stored result %q: %w", result, err)
	}
	if err := json.Unmarshal([]byte(inputs), &snap.Inputs); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(lines), &snap.Lines); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot lines: %w", err)
	}
	return &snap, nil
}

var _ port.BillingSnapshotRepository = (*BillingSnapshotRepository)(nil)
