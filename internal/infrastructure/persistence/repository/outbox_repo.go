package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/domain/event"
	"github.com/garyjia/prodflow/internal/infrastructure/persistence/sqlite"
)

const outboxColumns = `
	e.id, e.event_id, e.event_type, e.aggregate_type, e.aggregate_id, e.payload,
	e.correlation_id, e.processed, e.attempts, e.last_error, e.next_attempt_at,
	e.parked, e.created_at, e.processed_at
`

// OutboxRepository implements port.OutboxRepository.
// next_attempt_at is stored as unix milliseconds so due-time comparison stays numeric.
type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends an event; it joins the caller's transaction when ctx carries one
func (r *OutboxRepository) Insert(ctx context.Context, evt *event.Event) error {
	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO outbox_events (
			event_id, event_type, aggregate_type, aggregate_id, payload,
			correlation_id, next_attempt_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		evt.EventID,
		string(evt.Type),
		string(evt.AggregateType),
		evt.AggregateID,
		string(evt.Payload),
		evt.CorrelationID,
		toMillis(evt.NextAttemptAt),
		evt.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert outbox event",
			zap.String("event_type", string(evt.Type)),
			zap.Int64("aggregate_id", evt.AggregateID),
			zap.Error(err))
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	evt.ID = id
	return nil
}

// GetByID retrieves an event by row id
func (r *OutboxRepository) GetByID(ctx context.Context, id int64) (*event.Event, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox_events e WHERE e.id = ?`
	evt, err := scanEvent(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox event: %w", err)
	}
	return evt, nil
}

// ListPending returns the head event of each aggregate that is due.
// An unprocessed earlier event, parked or backing off, holds back the rest of its aggregate.
func (r *OutboxRepository) ListPending(ctx context.Context, now time.Time, limit int) ([]*event.Event, error) {
	query := `SELECT ` + outboxColumns + `
		FROM outbox_events e
		WHERE e.processed = 0 AND e.parked = 0 AND e.next_attempt_at <= ?
		  AND NOT EXISTS (
			SELECT 1 FROM outbox_events p
			WHERE p.aggregate_type = e.aggregate_type
			  AND p.aggregate_id = e.aggregate_id
			  AND p.processed = 0
			  AND p.id < e.id
		  )
		ORDER BY e.id
		LIMIT ?`
	return r.list(ctx, query, toMillis(now), limit)
}

// MarkProcessed claims the event; false means another drainer already did
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id int64) (bool, error) {
	res, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, `
		UPDATE outbox_events SET processed = 1, processed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND processed = 0
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark outbox event processed: %w", err)
	}
	return flipped(res)
}

// RecordFailure stores the attempt count, error and next due time
func (r *OutboxRepository) RecordFailure(ctx context.Context, id int64, attempts int, lastErr string, nextAttemptAt time.Time, park bool) error {
	_, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, `
		UPDATE outbox_events SET attempts = ?, last_error = ?, next_attempt_at = ?, parked = ?
		WHERE id = ? AND processed = 0
	`, attempts, lastErr, toMillis(nextAttemptAt), boolToInt(park), id)
	if err != nil {
		r.logger.Error("Failed to record outbox failure", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to record outbox failure: %w", err)
	}
	return nil
}

// ListParked returns parked events oldest first
func (r *OutboxRepository) ListParked(ctx context.Context, limit int) ([]*event.Event, error) {
	query := `SELECT ` + outboxColumns + `
		FROM outbox_events e WHERE e.parked = 1 AND e.processed = 0
		ORDER BY e.id LIMIT ?`
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list parked events: %w", err)
	}
	return collectEvents(rows)
}

// Requeue unparks an event and resets its retry budget
func (r *OutboxRepository) Requeue(ctx context.Context, id int64) (bool, error) {
	res, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, `
		UPDATE outbox_events SET parked = 0, attempts = 0, next_attempt_at = 0, last_error = ''
		WHERE id = ? AND parked = 1 AND processed = 0
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to requeue outbox event: %w", err)
	}
	return flipped(res)
}

// ListByAggregate returns every event of one aggregate in enqueue order
func (r *OutboxRepository) ListByAggregate(ctx context.Context, aggregateType entity.AggregateType, aggregateID int64) ([]*event.Event, error) {
	query := `SELECT ` + outboxColumns + `
		FROM outbox_events e WHERE e.aggregate_type = ? AND e.aggregate_id = ?
		ORDER BY e.id`
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, string(aggregateType), aggregateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregate events: %w", err)
	}
	return collectEvents(rows)
}

// Stats counts events by state
func (r *OutboxRepository) Stats(ctx context.Context) (*port.OutboxStats, error) {
	var stats port.OutboxStats
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN processed = 0 AND parked = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN processed = 0 AND parked = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN processed = 1 THEN 1 ELSE 0 END), 0)
		FROM outbox_events
	`).Scan(&stats.Pending, &stats.Parked, &stats.Processed)
	if err != nil {
		return nil, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return &stats, nil
}

func (r *OutboxRepository) list(ctx context.Context, query string, args ...interface{}) ([]*event.Event, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending events: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]*event.Event, error) {
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

func scanEvent(row rowScanner) (*event.Event, error) {
	var evt event.Event
	var eventType, aggregateType, payload string
	var nextAttempt int64
	var processedAt sql.NullTime

	err := row.Scan(
		&evt.ID,
		&evt.EventID,
		&eventType,
		&aggregateType,
		&evt.AggregateID,
		&payload,
		&evt.CorrelationID,
		&evt.Processed,
		&evt.Attempts,
		&evt.LastError,
		&nextAttempt,
		&evt.Parked,
		&evt.CreatedAt,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	evt.Type = event.Type(eventType)
	evt.AggregateType = entity.AggregateType(aggregateType)
	evt.Payload = []byte(payload)
	if nextAttempt > 0 {
		evt.NextAttemptAt = time.UnixMilli(nextAttempt).UTC()
	}
	if processedAt.Valid {
		evt.ProcessedAt = &processedAt.Time
	}
	return &evt, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

var _ port.OutboxRepository = (*OutboxRepository)(nil)
