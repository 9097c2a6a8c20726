package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/garyjia/prodflow/internal/application/dispatcher"
	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/domain/event"
)

var (
	// ErrDrainInProgress is returned when Drain is called while another drain runs in this process
	ErrDrainInProgress = errors.New("outbox drain already in progress")

	// ErrEventNotParked is returned when requeueing an event that is not parked
	ErrEventNotParked = errors.New("outbox event is not parked")

	errAlreadyClaimed = errors.New("event already processed")
)

// Config tunes the relay
type Config struct {
	BatchSize      int
	MaxRounds      int
	HandlerTimeout time.Duration
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the relay defaults
func DefaultConfig() Config {
	return Config{
		BatchSize:      100,
		MaxRounds:      10,
		HandlerTimeout: 30 * time.Second,
		MaxAttempts:    8,
		BaseBackoff:    time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

// DrainResult counts what one drain did
type DrainResult struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Parked    int `json:"parked"`
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeParked
)

type aggregateKey struct {
	kind entity.AggregateType
	id   int64
}

// Relay drains the outbox into the dispatcher. Delivery is at-least-once:
// the processed flag and the handler's writes commit in one transaction.
type Relay struct {
	repo       port.OutboxRepository
	txManager  port.TransactionManager
	dispatcher dispatcher.Dispatcher
	alerter    port.Alerter
	logger     port.Logger
	cfg        Config
	now        func() time.Time
	running    atomic.Bool
}

// RelayOption configures the relay
type RelayOption func(*Relay)

// WithClock overrides the time source
func WithClock(now func() time.Time) RelayOption {
	return func(r *Relay) {
		r.now = now
	}
}

// WithAlerter sets where parked events are reported
func WithAlerter(a port.Alerter) RelayOption {
	return func(r *Relay) {
		r.alerter = a
	}
}

// NewRelay creates a new outbox relay
func NewRelay(
	repo port.OutboxRepository,
	txManager port.TransactionManager,
	d dispatcher.Dispatcher,
	logger port.Logger,
	cfg Config,
	opts ...RelayOption,
) *Relay {
	defaults := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaults.MaxRounds
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaults.HandlerTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}

	r := &Relay{
		repo:       repo,
		txManager:  txManager,
		dispatcher: d,
		logger:     logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Drain dispatches due events until the outbox is empty, nothing progresses,
// or MaxRounds is reached. A failing event blocks the rest of its aggregate
// for the remainder of the drain so per-aggregate order holds.
func (r *Relay) Drain(ctx context.Context) (*DrainResult, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrDrainInProgress
	}
	defer r.running.Store(false)

	result := &DrainResult{}
	blocked := make(map[aggregateKey]bool)

	for round := 0; round < r.cfg.MaxRounds; round++ {
		events, err := r.repo.ListPending(ctx, r.now(), r.cfg.BatchSize)
		if err != nil {
			return result, fmt.Errorf("failed to list pending events: %w", err)
		}
		if len(events) == 0 {
			break
		}

		progressed := false
		for _, evt := range events {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			key := aggregateKey{kind: evt.AggregateType, id: evt.AggregateID}
			if blocked[key] {
				continue
			}

			switch r.process(ctx, evt) {
			case outcomeProcessed:
				result.Processed++
				progressed = true
			case outcomeSkipped:
				result.Skipped++
				progressed = true
			case outcomeFailed:
				result.Failed++
				blocked[key] = true
			case outcomeParked:
				result.Parked++
				blocked[key] = true
			}
		}

		if !progressed {
			break
		}
	}

	if result.Processed+result.Skipped+result.Failed+result.Parked > 0 {
		r.logger.Info("Outbox drained",
			"processed", result.Processed,
			"skipped", result.Skipped,
			"failed", result.Failed,
			"parked", result.Parked,
		)
	}
	return result, nil
}

func (r *Relay) process(ctx context.Context, evt *event.Event) outcome {
	switch evt.Type.Kind() {
	case event.KindUnknown:
		r.logger.Warn("Skipping outbox event of unknown type",
			"outbox_id", evt.ID,
			"event_type", evt.Type,
			"aggregate_type", evt.AggregateType,
			"aggregate_id", evt.AggregateID,
		)
		return r.acknowledge(ctx, evt)
	case event.KindDeprecated:
		r.logger.Info("Acknowledging retired outbox event type",
			"outbox_id", evt.ID,
			"event_type", evt.Type,
		)
		return r.acknowledge(ctx, evt)
	}

	err := r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		claimed, err := r.repo.MarkProcessed(txCtx, evt.ID)
		if err != nil {
			return err
		}
		if !claimed {
			return errAlreadyClaimed
		}

		handlerCtx, cancel := context.WithTimeout(WithCorrelationID(txCtx, evt.CorrelationID), r.cfg.HandlerTimeout)
		defer cancel()

		if err := r.dispatcher.Dispatch(handlerCtx, evt); err != nil {
			return err
		}
		if err := handlerCtx.Err(); err != nil {
			return fmt.Errorf("handler exceeded %s: %w", r.cfg.HandlerTimeout, err)
		}
		return nil
	})

	switch {
	case err == nil:
		return outcomeProcessed
	case errors.Is(err, errAlreadyClaimed):
		return outcomeSkipped
	}
	return r.fail(ctx, evt, err)
}

// acknowledge marks an event processed without dispatching it
func (r *Relay) acknowledge(ctx context.Context, evt *event.Event) outcome {
	if _, err := r.repo.MarkProcessed(ctx, evt.ID); err != nil {
		r.logger.Error("Failed to acknowledge outbox event", "outbox_id", evt.ID, "error", err)
		return outcomeFailed
	}
	return outcomeSkipped
}

func (r *Relay) fail(ctx context.Context, evt *event.Event, cause error) outcome {
	attempts := evt.Attempts + 1
	park := attempts >= r.cfg.MaxAttempts
	next := r.now().Add(r.Backoff(attempts))

	if err := r.repo.RecordFailure(ctx, evt.ID, attempts, cause.Error(), next, park); err != nil {
		r.logger.Error("Failed to record outbox failure", "outbox_id", evt.ID, "error", err)
		return outcomeFailed
	}

	evt.Attempts = attempts
	evt.LastError = cause.Error()
	evt.Parked = park

	if park {
		if r.alerter != nil {
			r.alerter.Alert(ctx, evt, cause)
		}
		return outcomeParked
	}

	r.logger.Warn("Outbox handler failed, will retry",
		"outbox_id", evt.ID,
		"event_type", evt.Type,
		"attempts", attempts,
		"next_attempt_at", next,
		"error", cause,
	)
	return outcomeFailed
}

// Backoff returns the delay before retry number attempts: base * 2^(attempts-1), capped
func (r *Relay) Backoff(attempts int) time.Duration {
	if attempts < 1 || r.cfg.BaseBackoff <= 0 {
		return 0
	}
	delay := r.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= r.cfg.MaxBackoff {
			return r.cfg.MaxBackoff
		}
	}
	return delay
}

// Parked lists events waiting for manual intervention
func (r *Relay) Parked(ctx context.Context, limit int) ([]*event.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.repo.ListParked(ctx, limit)
}

// Requeue returns a parked event to the pending set with a fresh retry budget
func (r *Relay) Requeue(ctx context.Context, id int64) error {
	ok, err := r.repo.Requeue(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrEventNotParked, id)
	}
	r.logger.Info("Outbox event requeued", "outbox_id", id)
	return nil
}

// Stats reports backlog counts
func (r *Relay) Stats(ctx context.Context) (*port.OutboxStats, error) {
	return r.repo.Stats(ctx)
}
