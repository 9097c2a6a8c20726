package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/domain/event"
	domainwf "github.com/garyjia/prodflow/internal/domain/workflow"
)

type engineImpl struct {
	catalog   *domainwf.Catalog
	orders    port.OrderRepository
	processes port.OrderProcessRepository
	runs      port.ProcessRunRepository
	outbox    Enqueuer
	txManager port.TransactionManager
	logger    port.Logger
}

// NewEngine creates a new workflow engine
func NewEngine(
	catalog *domainwf.Catalog,
	orders port.OrderRepository,
	processes port.OrderProcessRepository,
	runs port.ProcessRunRepository,
	outbox Enqueuer,
	txManager port.TransactionManager,
	logger port.Logger,
) WorkflowEngine {
	return &engineImpl{
		catalog:   catalog,
		orders:    orders,
		processes: processes,
		runs:      runs,
		outbox:    outbox,
		txManager: txManager,
		logger:    logger,
	}
}

// current is the aggregate state a transition starts from
type current struct {
	statusID int64
	version  int64
	update   func(ctx context.Context, toStatusID int64) error
	onFinal  func(ctx context.Context) error
}

// ApplyTransition implements WorkflowEngine
func (e *engineImpl) ApplyTransition(
	ctx context.Context,
	aggregateType entity.AggregateType,
	aggregateID, workflowTypeID int64,
	trigger domainwf.Trigger,
) (*TransitionResult, error) {
	if !trigger.IsValid() {
		return nil, fmt.Errorf("unknown trigger %q", trigger)
	}
	def, err := e.catalog.Get(workflowTypeID)
	if err != nil {
		return nil, err
	}

	var result *TransitionResult
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		cur, err := e.load(txCtx, aggregateType, aggregateID, def)
		if err != nil {
			return err
		}

		from, err := def.StatusByID(cur.statusID)
		if err != nil {
			return err
		}
		to, err := def.Next(cur.statusID)
		if err != nil {
			return fmt.Errorf("%s %d: %w", aggregateType, aggregateID, err)
		}

		if err := cur.update(txCtx, to.ID); err != nil {
			return err
		}

		_, err = e.outbox.Enqueue(txCtx, event.TypeStatusChanged, aggregateType, aggregateID, event.StatusChangedPayload{
			WorkflowTypeID: def.ID,
			From:           from.Code,
			To:             to.Code,
			Trigger:        trigger,
		})
		if err != nil {
			return fmt.Errorf("failed to enqueue status change: %w", err)
		}

		if to.IsTerminal {
			if err := cur.onFinal(txCtx); err != nil {
				return err
			}
		}

		result = &TransitionResult{
			AggregateType:  aggregateType,
			AggregateID:    aggregateID,
			WorkflowTypeID: def.ID,
			From:           from,
			To:             to,
			Trigger:        trigger,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Transition applied",
		"aggregate_type", aggregateType,
		"aggregate_id", aggregateID,
		"workflow", def.Code,
		"from", result.From.Code,
		"to", result.To.Code,
		"trigger", trigger,
	)
	return result, nil
}

// AdvanceToTerminal implements WorkflowEngine
func (e *engineImpl) AdvanceToTerminal(
	ctx context.Context,
	aggregateType entity.AggregateType,
	aggregateID, workflowTypeID int64,
	trigger domainwf.Trigger,
) ([]*TransitionResult, error) {
	def, err := e.catalog.Get(workflowTypeID)
	if err != nil {
		return nil, err
	}

	var results []*TransitionResult
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		// Bounded by the number of statuses; the catalog forbids cycles through terminals
		// but not cycles in general.
		for range def.Statuses() {
			status, err := e.CurrentStatus(txCtx, aggregateType, aggregateID, workflowTypeID)
			if err != nil {
				return err
			}
			if status.IsTerminal {
				return nil
			}

			res, err := e.ApplyTransition(txCtx, aggregateType, aggregateID, workflowTypeID, trigger)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return fmt.Errorf("%w: %s %d did not reach a terminal status in %s", domainwf.ErrInvalidTransition, aggregateType, aggregateID, def.Code)
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// CurrentStatus implements WorkflowEngine
func (e *engineImpl) CurrentStatus(ctx context.Context, aggregateType entity.AggregateType, aggregateID, workflowTypeID int64) (domainwf.Status, error) {
	def, err := e.catalog.Get(workflowTypeID)
	if err != nil {
		return domainwf.Status{}, err
	}
	cur, err := e.load(ctx, aggregateType, aggregateID, def)
	if err != nil {
		return domainwf.Status{}, err
	}
	return def.StatusByID(cur.statusID)
}

// load resolves the aggregate and binds the status column def drives
func (e *engineImpl) load(ctx context.Context, aggregateType entity.AggregateType, id int64, def *domainwf.Definition) (*current, error) {
	switch aggregateType {
	case entity.AggregateOrder:
		o, err := e.orders.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if o == nil {
			return nil, fmt.Errorf("%w: order %d", port.ErrUnknownAggregate, id)
		}
		if o.WorkflowTypeID != def.ID {
			return nil, fmt.Errorf("%w: order %d uses workflow %d, not %s", ErrWorkflowMismatch, id, o.WorkflowTypeID, def.Code)
		}
		return &current{
			statusID: o.StatusID,
			version:  o.Version,
			update: func(ctx context.Context, to int64) error {
				return e.orders.UpdateStatus(ctx, o.ID, o.Version, to)
			},
			onFinal: func(ctx context.Context) error { return e.orderCompleted(ctx, o) },
		}, nil

	case entity.AggregateOrderProcess:
		p, err := e.processes.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("%w: order process %d", port.ErrUnknownAggregate, id)
		}
		if p.WorkflowTypeID != def.ID {
			return nil, fmt.Errorf("%w: order process %d uses workflow %d, not %s", ErrWorkflowMismatch, id, p.WorkflowTypeID, def.Code)
		}
		return &current{
			statusID: p.StatusID,
			version:  p.Version,
			update: func(ctx context.Context, to int64) error {
				return e.processes.UpdateStatus(ctx, p.ID, p.Version, to)
			},
			onFinal: func(ctx context.Context) error { return e.processCompleted(ctx, p) },
		}, nil

	case entity.AggregateProcessRun:
		run, err := e.runs.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if run == nil {
			return nil, fmt.Errorf("%w: process run %d", port.ErrUnknownAggregate, id)
		}
		switch def.ID {
		case run.ConfigWorkflowTypeID:
			return &current{
				statusID: run.ConfigStatusID,
				version:  run.Version,
				update: func(ctx context.Context, to int64) error {
					return e.runs.UpdateConfigStatus(ctx, run.ID, run.Version, to)
				},
				onFinal: func(ctx context.Context) error { return e.runConfigCompleted(ctx, run) },
			}, nil
		case run.LifecycleWorkflowTypeID:
			return &current{
				statusID: run.LifecycleStatusID,
				version:  run.Version,
				update: func(ctx context.Context, to int64) error {
					return e.runs.UpdateLifecycleStatus(ctx, run.ID, run.Version, to)
				},
				onFinal: func(ctx context.Context) error { return e.runLifecycleCompleted(ctx, run) },
			}, nil
		}
		return nil, fmt.Errorf("%w: process run %d is not driven by %s", ErrWorkflowMismatch, id, def.Code)
	}

	return nil, fmt.Errorf("%w: aggregate type %q", port.ErrUnknownAggregate, aggregateType)
}

// runLifecycleCompleted counts the run toward its process; the increment that
// reaches the total is the only one that requests the process transition
func (e *engineImpl) runLifecycleCompleted(ctx context.Context, run *entity.ProcessRun) error {
	completed, total, err := e.processes.IncrementLifecycleCompleted(ctx, run.OrderProcessID)
	if err != nil {
		return err
	}
	if completed != total {
		return nil
	}

	_, err = e.outbox.Enqueue(ctx, event.TypeOrderProcessLifecycleTransitionRequested,
		entity.AggregateOrderProcess, run.OrderProcessID,
		event.TransitionRequestedPayload{
			TargetID: run.OrderProcessID,
			Reason:   domainwf.TriggerAllRunsCompleted,
			Count:    completed,
			Total:    total,
		})
	return err
}

// runConfigCompleted counts configuration completeness only; it never feeds
// order completion
func (e *engineImpl) runConfigCompleted(ctx context.Context, run *entity.ProcessRun) error {
	completed, total, err := e.processes.IncrementConfigCompleted(ctx, run.OrderProcessID)
	if err != nil {
		return err
	}
	if completed != total {
		return nil
	}

	_, err = e.outbox.Enqueue(ctx, event.TypeOrderProcessConfigCompleted,
		entity.AggregateOrderProcess, run.OrderProcessID,
		event.TransitionRequestedPayload{
			TargetID: run.OrderProcessID,
			Reason:   domainwf.TriggerConfigComplete,
			Count:    completed,
			Total:    total,
		})
	return err
}

func (e *engineImpl) processCompleted(ctx context.Context, p *entity.OrderProcess) error {
	completed, total, err := e.orders.IncrementCompletedProcesses(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if completed != total {
		return nil
	}

	sent, err := e.orders.MarkLifecycleCompletionSent(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if !sent {
		return nil
	}

	_, err = e.outbox.Enqueue(ctx, event.TypeOrderLifecycleTransitionRequested,
		entity.AggregateOrder, p.OrderID,
		event.TransitionRequestedPayload{
			TargetID: p.OrderID,
			Reason:   domainwf.TriggerAllProcessesCompleted,
			Count:    completed,
			Total:    total,
		})
	return err
}

func (e *engineImpl) orderCompleted(ctx context.Context, o *entity.Order) error {
	_, err := e.outbox.Enqueue(ctx, event.TypeOrderCompleted, entity.AggregateOrder, o.ID,
		event.OrderCompletedPayload{OrderID: o.ID, OrderCode: o.Code})
	return err
}
