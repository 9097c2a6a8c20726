package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/prodflow/internal/application/billing"
	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/application/service"
	appwf "github.com/garyjia/prodflow/internal/application/workflow"
	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/domain/event"
	"github.com/garyjia/prodflow/internal/domain/workflow"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// BillingService is the billing surface exposed over HTTP
type BillingService interface {
	CreateContext(ctx context.Context, in billing.CreateContextInput) (*entity.BillingContext, error)
	GetContext(ctx context.Context, contextID int64) (*entity.BillingContext, error)
	CreateDraft(ctx context.Context, contextID int64, inputs billing.RunInputs) (*entity.BillingSnapshot, error)
	Finalize(ctx context.Context, contextID int64) (*entity.BillingSnapshot, error)
	GetLatest(ctx context.Context, contextID int64) (*entity.BillingSnapshot, error)
	History(ctx context.Context, contextID int64) ([]*entity.BillingSnapshot, error)
	Export(ctx context.Context, contextID int64, version int) ([]byte, string, error)
}

// OutboxAdmin exposes outbox inspection and manual requeue
type OutboxAdmin interface {
	Stats(ctx context.Context) (*port.OutboxStats, error)
	Parked(ctx context.Context, limit int) ([]*event.Event, error)
	Requeue(ctx context.Context, id int64) error
}

// Dependencies are the application services behind the HTTP adapter
type Dependencies struct {
	Orders    service.OrderService
	Runs      service.RunService
	Templates service.TemplateService
	Billing   BillingService
	Engine    appwf.WorkflowEngine
	Outbox    OutboxAdmin

	// Health reports overall health and component details; optional
	Health func(ctx context.Context) (bool, interface{})

	// Wake is called after every successful write; optional
	Wake func()
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// ListRequest represents paging query parameters
type ListRequest struct {
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
	Code   string `form:"code"`
}

// TransitionRequest asks the engine to move an aggregate one edge
type TransitionRequest struct {
	AggregateType  entity.AggregateType `json:"aggregate_type" binding:"required"`
	AggregateID    int64                `json:"aggregate_id" binding:"required"`
	WorkflowTypeID int64                `json:"workflow_type_id" binding:"required"`
	Trigger        workflow.Trigger     `json:"trigger"`
}

// DraftRequest carries per-run numeric inputs; empty prices every run from its stored fields
type DraftRequest struct {
	Inputs billing.RunInputs `json:"inputs"`
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

func pathID(c *gin.Context, name string) (int64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", errBadRequest, name, raw)
	}
	return id, nil
}

func bindJSON(c *gin.Context, v interface{}) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if h.deps.Health != nil {
		healthy, details := h.deps.Health(c.Request.Context())
		resp.Components = details
		if !healthy {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, Response{Success: status == http.StatusOK, Data: resp})
}

// PlaceOrder handles POST /api/orders
func (h *Handlers) PlaceOrder(c *gin.Context) {
	var req service.PlaceOrderInput
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	details, err := h.deps.Orders.PlaceOrder(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, details)
}

// ListOrders handles GET /api/orders; with ?code= it returns that single order
func (h *Handlers) ListOrders(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: invalid query parameters", errBadRequest))
		return
	}

	if req.Code != "" {
		details, err := h.deps.Orders.GetOrderByCode(c.Request.Context(), req.Code)
		if err != nil {
			h.fail(c, err)
			return
		}
		ok(c, http.StatusOK, details)
		return
	}

	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	orders, err := h.deps.Orders.ListOrders(c.Request.Context(), req.Limit, req.Offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, orders)
}

// GetOrder handles GET /api/orders/:id
func (h *Handlers) GetOrder(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	details, err := h.deps.Orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, details)
}

// ListOrderRuns handles GET /api/orders/:id/runs
func (h *Handlers) ListOrderRuns(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	runs, err := h.deps.Runs.ListOrderRuns(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, runs)
}

// GetRun handles GET /api/runs/:id
func (h *Handlers) GetRun(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	run, err := h.deps.Runs.GetRun(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, run)
}

// SubmitFields handles POST /api/runs/:id/fields
func (h *Handlers) SubmitFields(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var req service.SubmitFieldsInput
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	run, err := h.deps.Runs.SubmitFields(c.Request.Context(), id, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, run)
}

// ApplyTransition handles POST /api/transitions
func (h *Handlers) ApplyTransition(c *gin.Context) {
	var req TransitionRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	if req.Trigger == "" {
		req.Trigger = workflow.TriggerManual
	}
	if !req.AggregateType.IsValid() || !req.Trigger.IsValid() {
		h.fail(c, fmt.Errorf("%w: unknown aggregate type or trigger", errBadRequest))
		return
	}

	result, err := h.deps.Engine.ApplyTransition(c.Request.Context(), req.AggregateType, req.AggregateID, req.WorkflowTypeID, req.Trigger)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

// ListTemplates handles GET /api/templates?process_id=
func (h *Handlers) ListTemplates(c *gin.Context) {
	templates, err := h.deps.Templates.ListTemplates(c.Request.Context(), c.Query("process_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, templates)
}

// GetTemplate handles GET /api/templates/:id
func (h *Handlers) GetTemplate(c *gin.Context) {
	tmpl, err := h.deps.Templates.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, tmpl)
}

// SaveTemplate handles PUT /api/templates/:id
func (h *Handlers) SaveTemplate(c *gin.Context) {
	var tmpl entity.RunTemplate
	if err := bindJSON(c, &tmpl); err != nil {
		h.fail(c, err)
		return
	}
	tmpl.ID = c.Param("id")
	if err := h.deps.Templates.SaveTemplate(c.Request.Context(), &tmpl); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, tmpl)
}

// CreateBillingContext handles POST /api/billing/contexts
func (h *Handlers) CreateBillingContext(c *gin.Context) {
	var req billing.CreateContextInput
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	bc, err := h.deps.Billing.CreateContext(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, bc)
}

// GetBillingContext handles GET /api/billing/contexts/:id
func (h *Handlers) GetBillingContext(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	bc, err := h.deps.Billing.GetContext(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, bc)
}

// CreateDraft handles POST /api/billing/contexts/:id/drafts
func (h *Handlers) CreateDraft(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var req DraftRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			h.fail(c, err)
			return
		}
	}
	snap, err := h.deps.Billing.CreateDraft(c.Request.Context(), id, req.Inputs)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, snap)
}

// Finalize handles POST /api/billing/contexts/:id/finalize
func (h *Handlers) Finalize(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	snap, err := h.deps.Billing.Finalize(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, snap)
}

// GetLatestSnapshot handles GET /api/billing/contexts/:id/latest
func (h *Handlers) GetLatestSnapshot(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	snap, err := h.deps.Billing.GetLatest(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if snap == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: port.ErrNoSnapshot.Error()})
		return
	}
	ok(c, http.StatusOK, snap)
}

// ListSnapshots handles GET /api/billing/contexts/:id/snapshots
func (h *Handlers) ListSnapshots(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	history, err := h.deps.Billing.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, history)
}

// ExportSnapshot handles GET /api/billing/contexts/:id/export?version=
func (h *Handlers) ExportSnapshot(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	version := 0
	if raw := c.Query("version"); raw != "" {
		version, err = strconv.Atoi(raw)
		if err != nil || version < 0 {
			h.fail(c, fmt.Errorf("%w: invalid version %q", errBadRequest, raw))
			return
		}
	}

	data, name, err := h.deps.Billing.Export(c.Request.Context(), id, version)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// OutboxStats handles GET /api/outbox/stats
func (h *Handlers) OutboxStats(c *gin.Context) {
	stats, err := h.deps.Outbox.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, stats)
}

// ListParked handles GET /api/outbox/parked
func (h *Handlers) ListParked(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: invalid query parameters", errBadRequest))
		return
	}
	events, err := h.deps.Outbox.Parked(c.Request.Context(), req.Limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, events)
}

// RequeueEvent handles POST /api/outbox/parked/:id/requeue
func (h *Handlers) RequeueEvent(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.deps.Outbox.Requeue(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"id": id, "requeued": true})
}
