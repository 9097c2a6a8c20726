package outbox

import (
	"context"

	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/domain/event"
)

type correlationKey struct{}

// WithCorrelationID tags ctx so events published under it join the chain
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the chain id carried by ctx, or ""
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Publisher writes events to the outbox table in the caller's transaction
type Publisher struct {
	repo port.OutboxRepository
}

// NewPublisher creates a new outbox publisher
func NewPublisher(repo port.OutboxRepository) *Publisher {
	return &Publisher{repo: repo}
}

// Publish implements port.EventPublisher
func (p *Publisher) Publish(ctx context.Context, evt *event.Event) error {
	return p.repo.Insert(ctx, evt)
}

// Enqueue builds and publishes an event, inheriting the correlation id from ctx
func (p *Publisher) Enqueue(ctx context.Context, eventType event.Type, aggregateType entity.AggregateType, aggregateID int64, payload any) (*event.Event, error) {
	evt, err := event.NewEventWithCorrelation(eventType, aggregateType, aggregateID, payload, CorrelationID(ctx))
	if err != nil {
		return nil, err
	}
	if err := p.Publish(ctx, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

var _ port.EventPublisher = (*Publisher)(nil)
