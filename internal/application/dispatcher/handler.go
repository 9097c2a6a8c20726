package dispatcher

import (
	"context"

	"github.com/garyjia/prodflow/internal/domain/event"
)

// Handler processes one outbox event. It runs inside the transaction that
// marks the event processed, so returning an error rolls both back.
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name        string
	EventType   event.Type
	Handler     Handler
	Description string
}
