package outbox

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/domain/event"
)

// LogAlerter reports parked events at error level
type LogAlerter struct {
	logger *zap.Logger
}

// NewLogAlerter creates an alerter that writes to the structured log
func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

// Alert implements port.Alerter
func (a *LogAlerter) Alert(ctx context.Context, evt *event.Event, cause error) {
	a.logger.Error("Outbox event parked, manual intervention required",
		zap.Int64("outbox_id", evt.ID),
		zap.String("event_id", evt.EventID),
		zap.String("event_type", evt.Type.String()),
		zap.String("aggregate_type", string(evt.AggregateType)),
		zap.Int64("aggregate_id", evt.AggregateID),
		zap.Int("attempts", evt.Attempts),
		zap.String("correlation_id", evt.CorrelationID),
		zap.Error(cause),
	)
}

var _ port.Alerter = (*LogAlerter)(nil)
