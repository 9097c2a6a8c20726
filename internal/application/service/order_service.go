package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/domain/event"
	"github.com/garyjia/prodflow/internal/domain/workflow"
)

// OrderCodePrefix is the fiscal sequence prefix of order codes
const OrderCodePrefix = "ORD"

// CodeIssuer issues fiscal sequence codes outside any transaction
type CodeIssuer interface {
	NextCode(ctx context.Context, prefix string) (string, error)
}

// EventEnqueuer writes outbox events in the caller's transaction
type EventEnqueuer interface {
	Enqueue(ctx context.Context, eventType event.Type, aggregateType entity.AggregateType, aggregateID int64, payload any) (*event.Event, error)
}

// WorkflowDefaults names the workflow types used when a request leaves one out
type WorkflowDefaults struct {
	Order        string `mapstructure:"order"`
	OrderProcess string `mapstructure:"order_process"`
	RunConfig    string `mapstructure:"run_config"`
	RunLifecycle string `mapstructure:"run_lifecycle"`
}

// DefaultWorkflows matches the built-in catalog
func DefaultWorkflows() WorkflowDefaults {
	return WorkflowDefaults{
		Order:        "ORDER_STANDARD",
		OrderProcess: "ORDER_PROCESS_STANDARD",
		RunConfig:    "RUN_CONFIG",
		RunLifecycle: "RUN_LIFECYCLE",
	}
}

// ProcessSpec describes one process of a new order
type ProcessSpec struct {
	ProcessID         string   `json:"process_id"`
	Workflow          string   `json:"workflow,omitempty"`
	RunConfigWorkflow string   `json:"run_config_workflow,omitempty"`
	RunLifecycle      string   `json:"run_lifecycle_workflow,omitempty"`
	TemplateIDs       []string `json:"template_ids"`
	BatchCount        int      `json:"batch_count"`
}

// PlaceOrderInput describes a new order
type PlaceOrderInput struct {
	CustomerName string        `json:"customer_name"`
	Workflow     string        `json:"workflow,omitempty"`
	Processes    []ProcessSpec `json:"processes"`
}

// OrderDetails is an order with its processes
type OrderDetails struct {
	Order     *entity.Order          `json:"order"`
	Processes []*entity.OrderProcess `json:"processes"`
}

// OrderService places and reads orders
type OrderService interface {
	PlaceOrder(ctx context.Context, in PlaceOrderInput) (*OrderDetails, error)
	GetOrder(ctx context.Context, id int64) (*OrderDetails, error)
	GetOrderByCode(ctx context.Context, code string) (*OrderDetails, error)
	ListOrders(ctx context.Context, limit, offset int) ([]*entity.Order, error)

	// CreateRuns creates the runs of each listed process. A process that
	// already has runs is left alone.
	CreateRuns(ctx context.Context, orderID int64, orderProcessIDs []int64) (int, error)
}

type orderServiceImpl struct {
	catalog   *workflow.Catalog
	orders    port.OrderRepository
	processes port.OrderProcessRepository
	runs      port.ProcessRunRepository
	templates port.RunTemplateRepository
	codes     CodeIssuer
	outbox    EventEnqueuer
	txManager port.TransactionManager
	defaults  WorkflowDefaults
	logger    port.Logger
}

// NewOrderService creates a new OrderService
func NewOrderService(
	catalog *workflow.Catalog,
	orders port.OrderRepository,
	processes port.OrderProcessRepository,
	runs port.ProcessRunRepository,
	templates port.RunTemplateRepository,
	codes CodeIssuer,
	outbox EventEnqueuer,
	txManager port.TransactionManager,
	defaults WorkflowDefaults,
	logger port.Logger,
) OrderService {
	return &orderServiceImpl{
		catalog:   catalog,
		orders:    orders,
		processes: processes,
		runs:      runs,
		templates: templates,
		codes:     codes,
		outbox:    outbox,
		txManager: txManager,
		defaults:  defaults,
		logger:    logger,
	}
}

// PlaceOrder validates the request, issues an order code and creates the
// order, its processes and the ORDER_CREATED event in one transaction
func (s *orderServiceImpl) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*OrderDetails, error) {
	customer := strings.TrimSpace(in.CustomerName)
	if customer == "" {
		return nil, fmt.Errorf("%w: customer name is required", ErrInvalidOrder)
	}
	if len(in.Processes) == 0 {
		return nil, fmt.Errorf("%w: at least one process is required", ErrInvalidOrder)
	}

	orderDef, err := s.resolve(in.Workflow, s.defaults.Order, workflow.ScopeOrder)
	if err != nil {
		return nil, err
	}

	processes := make([]*entity.OrderProcess, 0, len(in.Processes))
	for i, spec := range in.Processes {
		p, err := s.buildProcess(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("process %d: %w", i+1, err)
		}
		processes = append(processes, p)
	}

	// Issued before the transaction; a rollback below leaves a gap.
	code, err := s.codes.NextCode(ctx, OrderCodePrefix)
	if err != nil {
		return nil, fmt.Errorf("issue order code: %w", err)
	}

	order := &entity.Order{
		Code:           code,
		CustomerName:   customer,
		WorkflowTypeID: orderDef.ID,
		StatusID:       orderDef.InitialStatus().ID,
		StatusCode:     orderDef.InitialStatus().Code,
		TotalProcesses: len(processes),
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.orders.Create(txCtx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		ids := make([]int64, 0, len(processes))
		for _, p := range processes {
			p.OrderID = order.ID
			if err := s.processes.Create(txCtx, p); err != nil {
				return fmt.Errorf("create order process %s: %w", p.ProcessID, err)
			}
			ids = append(ids, p.ID)
		}

		_, err := s.outbox.Enqueue(txCtx, event.TypeOrderCreated, entity.AggregateOrder, order.ID, event.OrderCreatedPayload{
			OrderID:         order.ID,
			OrderCode:       order.Code,
			OrderProcessIDs: ids,
		})
		return err
	})
	if err != nil {
		s.logger.Error("Failed to place order", "error", err, "code", code)
		return nil, err
	}

	s.logger.Info("Order placed", "id", order.ID, "code", order.Code, "processes", len(processes))
	return &OrderDetails{Order: order, Processes: processes}, nil
}

func (s *orderServiceImpl) buildProcess(ctx context.Context, spec ProcessSpec) (*entity.OrderProcess, error) {
	if strings.TrimSpace(spec.ProcessID) == "" {
		return nil, fmt.Errorf("%w: process id is required", ErrInvalidOrder)
	}
	if spec.BatchCount < 1 {
		return nil, fmt.Errorf("%w: batch count must be at least 1", ErrInvalidOrder)
	}
	if len(spec.TemplateIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one run template is required", ErrInvalidOrder)
	}
	for _, id := range spec.TemplateIDs {
		tmpl, err := s.templates.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if tmpl == nil {
			return nil, fmt.Errorf("%w: %s", port.ErrTemplateNotFound, id)
		}
		if tmpl.ProcessID != spec.ProcessID {
			return nil, fmt.Errorf("%w: template %s belongs to process %s", ErrInvalidOrder, id, tmpl.ProcessID)
		}
	}

	processDef, err := s.resolve(spec.Workflow, s.defaults.OrderProcess, workflow.ScopeOrderProcess)
	if err != nil {
		return nil, err
	}
	configDef, err := s.resolve(spec.RunConfigWorkflow, s.defaults.RunConfig, workflow.ScopeRunConfig)
	if err != nil {
		return nil, err
	}
	lifecycleDef, err := s.resolve(spec.RunLifecycle, s.defaults.RunLifecycle, workflow.ScopeRunLifecycle)
	if err != nil {
		return nil, err
	}

	templateIDs := make([]string, len(spec.TemplateIDs))
	copy(templateIDs, spec.TemplateIDs)

	return &entity.OrderProcess{
		ProcessID:                  spec.ProcessID,
		WorkflowTypeID:             processDef.ID,
		StatusID:                   processDef.InitialStatus().ID,
		StatusCode:                 processDef.InitialStatus().Code,
		RunConfigWorkflowTypeID:    configDef.ID,
		RunLifecycleWorkflowTypeID: lifecycleDef.ID,
		BatchCount:                 spec.BatchCount,
		TemplateIDs:                templateIDs,
		TotalRuns:                  len(templateIDs) * spec.BatchCount,
	}, nil
}

// resolve looks up a workflow by code, falling back to def, and checks its scope
func (s *orderServiceImpl) resolve(code, def string, scope workflow.Scope) (*workflow.Definition, error) {
	if code == "" {
		code = def
	}
	d, err := s.catalog.ByCode(code)
	if err != nil {
		return nil, err
	}
	if d.Scope != scope {
		return nil, fmt.Errorf("%w: workflow %s has scope %s, need %s", ErrInvalidOrder, code, d.Scope, scope)
	}
	return d, nil
}

// CreateRuns implements OrderService
func (s *orderServiceImpl) CreateRuns(ctx context.Context, orderID int64, orderProcessIDs []int64) (int, error) {
	created := 0
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, id := range orderProcessIDs {
			p, err := s.processes.GetByID(txCtx, id)
			if err != nil {
				return err
			}
			if p == nil || p.OrderID != orderID {
				return fmt.Errorf("%w: order process %d of order %d", port.ErrUnknownAggregate, id, orderID)
			}

			existing, err := s.runs.CountByOrderProcess(txCtx, p.ID)
			if err != nil {
				return err
			}
			if existing > 0 {
				s.logger.Info("Runs already exist, skipping", "order_process_id", p.ID, "runs", existing)
				continue
			}

			runs, err := s.buildRuns(txCtx, p)
			if err != nil {
				return err
			}
			if err := s.runs.CreateBatch(txCtx, runs); err != nil {
				return err
			}
			created += len(runs)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("Process runs created", "order_id", orderID, "runs", created)
	return created, nil
}

// buildRuns numbers runs batch by batch, templates in declared order
func (s *orderServiceImpl) buildRuns(ctx context.Context, p *entity.OrderProcess) ([]*entity.ProcessRun, error) {
	configDef, err := s.catalog.Get(p.RunConfigWorkflowTypeID)
	if err != nil {
		return nil, err
	}
	lifecycleDef, err := s.catalog.Get(p.RunLifecycleWorkflowTypeID)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(p.TemplateIDs))
	for _, id := range p.TemplateIDs {
		tmpl, err := s.templates.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if tmpl == nil {
			return nil, fmt.Errorf("%w: %s", port.ErrTemplateNotFound, id)
		}
		names[id] = tmpl.Name
	}

	runs := make([]*entity.ProcessRun, 0, p.TotalRuns)
	n := 0
	for batch := 1; batch <= p.BatchCount; batch++ {
		for _, id := range p.TemplateIDs {
			n++
			runs = append(runs, &entity.ProcessRun{
				OrderProcessID:          p.ID,
				RunNumber:               n,
				TemplateID:              id,
				DisplayName:             fmt.Sprintf("%s #%d", names[id], batch),
				ConfigWorkflowTypeID:    configDef.ID,
				ConfigStatusID:          configDef.InitialStatus().ID,
				LifecycleWorkflowTypeID: lifecycleDef.ID,
				LifecycleStatusID:       lifecycleDef.InitialStatus().ID,
				Fields:                  map[string]entity.FieldValue{},
			})
		}
	}
	if len(runs) != p.TotalRuns {
		return nil, fmt.Errorf("order process %d: built %d runs, expected %d", p.ID, len(runs), p.TotalRuns)
	}
	return runs, nil
}

// GetOrder implements OrderService
func (s *orderServiceImpl) GetOrder(ctx context.Context, id int64) (*OrderDetails, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.details(ctx, order, fmt.Sprintf("order %d", id))
}

// GetOrderByCode implements OrderService
func (s *orderServiceImpl) GetOrderByCode(ctx context.Context, code string) (*OrderDetails, error) {
	order, err := s.orders.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.details(ctx, order, "order "+code)
}

func (s *orderServiceImpl) details(ctx context.Context, order *entity.Order, what string) (*OrderDetails, error) {
	if order == nil {
		return nil, fmt.Errorf("%w: %s", port.ErrUnknownAggregate, what)
	}
	processes, err := s.processes.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &OrderDetails{Order: order, Processes: processes}, nil
}

// ListOrders implements OrderService
func (s *orderServiceImpl) ListOrders(ctx context.Context, limit, offset int) ([]*entity.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.orders.List(ctx, limit, offset)
}
