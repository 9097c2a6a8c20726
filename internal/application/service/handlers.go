package service

import (
	"context"
	"fmt"

	"github.com/garyjia/prodflow/internal/application/billing"
	"github.com/garyjia/prodflow/internal/application/dispatcher"
	"github.com/garyjia/prodflow/internal/application/port"
	appwf "github.com/garyjia/prodflow/internal/application/workflow"
	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/domain/event"
	"github.com/garyjia/prodflow/internal/domain/workflow"
)

// EventHandlers reacts to outbox events. Every handler tolerates redelivery.
type EventHandlers struct {
	catalog   *workflow.Catalog
	orders    OrderService
	orderRepo port.OrderRepository
	processes port.OrderProcessRepository
	engine    appwf.WorkflowEngine
	billing   *billing.Service
	logger    port.Logger
}

// NewEventHandlers creates the outbox event handlers
func NewEventHandlers(
	catalog *workflow.Catalog,
	orders OrderService,
	orderRepo port.OrderRepository,
	processes port.OrderProcessRepository,
	engine appwf.WorkflowEngine,
	billingService *billing.Service,
	logger port.Logger,
) *EventHandlers {
	return &EventHandlers{
		catalog:   catalog,
		orders:    orders,
		orderRepo: orderRepo,
		processes: processes,
		engine:    engine,
		billing:   billingService,
		logger:    logger,
	}
}

// Register subscribes every handler
func (h *EventHandlers) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeOrderCreated, "create_runs", h.OnOrderCreated)
	d.SubscribeNamed(event.TypeOrderProcessLifecycleTransitionRequested, "advance_order_process", h.OnOrderProcessTransitionRequested)
	d.SubscribeNamed(event.TypeOrderProcessConfigCompleted, "order_process_configured", h.OnOrderProcessConfigCompleted)
	d.SubscribeNamed(event.TypeOrderLifecycleTransitionRequested, "advance_order", h.OnOrderTransitionRequested)
	d.SubscribeNamed(event.TypeOrderCompleted, "draft_order_billing", h.OnOrderCompleted)
	d.SubscribeNamed(event.TypeStatusChanged, "status_audit", h.OnStatusChanged)
}

// OnOrderCreated creates the runs of a new order
func (h *EventHandlers) OnOrderCreated(ctx context.Context, evt *event.Event) error {
	var payload event.OrderCreatedPayload
	if err := evt.Decode(&payload); err != nil {
		return err
	}
	_, err := h.orders.CreateRuns(ctx, payload.OrderID, payload.OrderProcessIDs)
	return err
}

// OnOrderProcessTransitionRequested walks an order process to its terminal status
func (h *EventHandlers) OnOrderProcessTransitionRequested(ctx context.Context, evt *event.Event) error {
	var payload event.TransitionRequestedPayload
	if err := evt.Decode(&payload); err != nil {
		return err
	}
	p, err := h.processes.GetByID(ctx, payload.TargetID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: order process %d", port.ErrUnknownAggregate, payload.TargetID)
	}

	results, err := h.engine.AdvanceToTerminal(ctx, entity.AggregateOrderProcess, p.ID, p.WorkflowTypeID, payload.Reason)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		h.logger.Info("Order process already terminal", "order_process_id", p.ID, "status", p.StatusCode)
	}
	return nil
}

// OnOrderProcessConfigCompleted moves an order process out of its initial
// status once every run is configured. It never moves it onto a terminal
// status, so configuration alone cannot complete an order.
func (h *EventHandlers) OnOrderProcessConfigCompleted(ctx context.Context, evt *event.Event) error {
	var payload event.TransitionRequestedPayload
	if err := evt.Decode(&payload); err != nil {
		return err
	}
	p, err := h.processes.GetByID(ctx, payload.TargetID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: order process %d", port.ErrUnknownAggregate, payload.TargetID)
	}

	def, err := h.catalog.Get(p.WorkflowTypeID)
	if err != nil {
		return err
	}
	current, err := def.StatusByID(p.StatusID)
	if err != nil {
		return err
	}
	if !current.IsInitial {
		return nil
	}
	next, err := def.Next(current.ID)
	if err != nil || next.IsTerminal {
		h.logger.Info("Configuration complete, no intermediate status to enter",
			"order_process_id", p.ID, "status", current.Code)
		return nil
	}

	_, err = h.engine.ApplyTransition(ctx, entity.AggregateOrderProcess, p.ID, p.WorkflowTypeID, workflow.TriggerConfigComplete)
	return err
}

// OnOrderTransitionRequested walks an order to its terminal status
func (h *EventHandlers) OnOrderTransitionRequested(ctx context.Context, evt *event.Event) error {
	var payload event.TransitionRequestedPayload
	if err := evt.Decode(&payload); err != nil {
		return err
	}
	order, err := h.orderRepo.GetByID(ctx, payload.TargetID)
	if err != nil {
		return err
	}
	if order == nil {
		return fmt.Errorf("%w: order %d", port.ErrUnknownAggregate, payload.TargetID)
	}

	_, err = h.engine.AdvanceToTerminal(ctx, entity.AggregateOrder, order.ID, order.WorkflowTypeID, payload.Reason)
	return err
}

// OnOrderCompleted creates the first billing draft of a completed order
func (h *EventHandlers) OnOrderCompleted(ctx context.Context, evt *event.Event) error {
	var payload event.OrderCompletedPayload
	if err := evt.Decode(&payload); err != nil {
		return err
	}

	bc, err := h.billing.EnsureOrderContext(ctx, payload.OrderID)
	if err != nil {
		return err
	}
	latest, err := h.billing.GetLatest(ctx, bc.ID)
	if err != nil {
		return err
	}
	if latest != nil {
		h.logger.Info("Billing snapshot already exists", "order_id", payload.OrderID, "context_id", bc.ID, "version", latest.Version)
		return nil
	}

	_, err = h.billing.CreateDraft(ctx, bc.ID, nil)
	return err
}

// OnStatusChanged records the transition audit trail
func (h *EventHandlers) OnStatusChanged(ctx context.Context, evt *event.Event) error {
	var payload event.StatusChangedPayload
	if err := evt.Decode(&payload); err != nil {
		return err
	}
	h.logger.Info("Status changed",
		"aggregate_type", evt.AggregateType,
		"aggregate_id", evt.AggregateID,
		"from", payload.From,
		"to", payload.To,
		"trigger", payload.Trigger,
		"correlation_id", evt.CorrelationID,
	)
	return nil
}
