package port

import (
	"context"

	"github.com/garyjia/prodflow/internal/domain/event"
)

// EventPublisher enqueues outbox events inside the caller's transaction
type EventPublisher interface {
	Publish(ctx context.Context, evt *event.Event) error
}

// Alerter surfaces parked outbox events to operators
type Alerter interface {
	Alert(ctx context.Context, evt *event.Event, cause error)
}

// Logger interface for minimal logging dependency; utils.KVLogger satisfies it
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
