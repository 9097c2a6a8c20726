package workflow

import (
	"context"
	"errors"

	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/domain/event"
	domainwf "github.com/garyjia/prodflow/internal/domain/workflow"
)

// ErrWorkflowMismatch is returned when the workflow type does not drive the aggregate
var ErrWorkflowMismatch = errors.New("workflow type does not apply to aggregate")

// TransitionResult describes one applied edge
type TransitionResult struct {
	AggregateType  entity.AggregateType `json:"aggregate_type"`
	AggregateID    int64                `json:"aggregate_id"`
	WorkflowTypeID int64                `json:"workflow_type_id"`
	From           domainwf.Status      `json:"from"`
	To             domainwf.Status      `json:"to"`
	Trigger        domainwf.Trigger     `json:"trigger"`
}

// WorkflowEngine applies workflow transitions to aggregates
type WorkflowEngine interface {
	// ApplyTransition moves the aggregate along the single edge leaving its
	// current status in workflowTypeID. The status update, counter
	// propagation and outbox events commit together or not at all.
	ApplyTransition(ctx context.Context, aggregateType entity.AggregateType, aggregateID, workflowTypeID int64, trigger domainwf.Trigger) (*TransitionResult, error)

	// AdvanceToTerminal applies transitions until the aggregate reaches a
	// terminal status. An aggregate already terminal yields no results.
	AdvanceToTerminal(ctx context.Context, aggregateType entity.AggregateType, aggregateID, workflowTypeID int64, trigger domainwf.Trigger) ([]*TransitionResult, error)

	// CurrentStatus returns the aggregate's status in workflowTypeID
	CurrentStatus(ctx context.Context, aggregateType entity.AggregateType, aggregateID, workflowTypeID int64) (domainwf.Status, error)
}

// Enqueuer writes outbox events in the caller's transaction
type Enqueuer interface {
	Enqueue(ctx context.Context, eventType event.Type, aggregateType entity.AggregateType, aggregateID int64, payload any) (*event.Event, error)
}
