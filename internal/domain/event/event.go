package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/prodflow/internal/domain/entity"
)

// Event is a row of the transactional outbox
type Event struct {
	ID            int64                `json:"id"`
	EventID       string               `json:"event_id"`
	Type          Type                 `json:"type"`
	AggregateType entity.AggregateType `json:"aggregate_type"`
	AggregateID   int64                `json:"aggregate_id"`
	Payload       json.RawMessage      `json:"payload"`
	CorrelationID string               `json:"correlation_id"`
	Processed     bool                 `json:"processed"`
	Attempts      int                  `json:"attempts"`
	LastError     string               `json:"last_error,omitempty"`
	NextAttemptAt time.Time            `json:"next_attempt_at"`
	Parked        bool                 `json:"parked"`
	CreatedAt     time.Time            `json:"created_at"`
	ProcessedAt   *time.Time           `json:"processed_at,omitempty"`
}

// NewEvent creates an unsaved event with a fresh event id and correlation id
func NewEvent(eventType Type, aggregateType entity.AggregateType, aggregateID int64, payload any) (*Event, error) {
	return NewEventWithCorrelation(eventType, aggregateType, aggregateID, payload, uuid.NewString())
}

// NewEventWithCorrelation creates an event linked to an existing correlation chain
func NewEventWithCorrelation(eventType Type, aggregateType entity.AggregateType, aggregateID int64, payload any, correlationID string) (*Event, error) {
	if !eventType.IsValid() {
		return nil, fmt.Errorf("cannot enqueue event type %q", eventType)
	}
	if !aggregateType.IsValid() {
		return nil, fmt.Errorf("invalid aggregate type %q", aggregateType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	return &Event{
		EventID:       uuid.NewString(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       raw,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v
func (e *Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload of event %d: %w", e.Type, e.ID, err)
	}
	return nil
}
