package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/application/billing"
	"github.com/garyjia/prodflow/internal/application/dispatcher"
	"github.com/garyjia/prodflow/internal/application/outbox"
	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/application/sequence"
	"github.com/garyjia/prodflow/internal/application/service"
	appwf "github.com/garyjia/prodflow/internal/application/workflow"
	"github.com/garyjia/prodflow/internal/billing/formula"
	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/domain/workflow"
	"github.com/garyjia/prodflow/internal/testutil"
	"github.com/garyjia/prodflow/pkg/utils"
)

type apiFixture struct {
	env    *testutil.Env
	router *gin.Engine
	relay  *outbox.Relay
	wakes  int
}

func newAPI(t *testing.T) *apiFixture {
	env := testutil.NewEnv(t)
	logger := utils.NewKVLogger(zap.NewNop())
	publisher := outbox.NewPublisher(env.Outbox)

	engine := appwf.NewEngine(env.Catalog, env.Orders, env.Processes, env.Runs, publisher, env.Tx, logger)
	codes := sequence.NewGenerator(env.Sequences, logger)
	orders := service.NewOrderService(env.Catalog, env.Orders, env.Processes, env.Runs, env.Templates,
		codes, publisher, env.Tx, service.DefaultWorkflows(), logger)
	billingSvc := billing.NewService(env.Contexts, env.Snapshots, env.Orders, env.Runs, env.Templates, env.Tx, logger)

	d := dispatcher.NewDispatcher()
	service.NewEventHandlers(env.Catalog, orders, env.Orders, env.Processes, engine, billingSvc, logger).Register(d)
	relay := outbox.NewRelay(env.Outbox, env.Tx, d, logger, outbox.DefaultConfig())

	f := &apiFixture{env: env, relay: relay}
	server := NewServer(ServerConfig{Mode: gin.TestMode}, Dependencies{
		Orders:    orders,
		Runs:      service.NewRunService(env.Runs, env.Templates, engine, env.Tx, logger),
		Templates: service.NewTemplateService(env.Templates, logger),
		Billing:   billingSvc,
		Engine:    engine,
		Outbox:    relay,
		Wake:      func() { f.wakes++ },
	}, logger)
	f.router = server.Router()
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp Response
	if w.Header().Get("Content-Type") != xlsxContentType {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

// decode re-marshals resp.Data into v
func decode(t *testing.T, resp Response, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func (f *apiFixture) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 10; i++ {
		res, err := f.relay.Drain(context.Background())
		require.NoError(t, err)
		require.Zero(t, res.Failed)
		if res.Processed == 0 {
			return
		}
	}
}

func TestHealthCheck(t *testing.T) {
	f := newAPI(t)
	w, resp := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
}

func TestOrdersAPI(t *testing.T) {
	f := newAPI(t)

	w, resp := f.do(t, http.MethodPut, "/api/templates/FLYER", entity.RunTemplate{
		ProcessID: "OFFSET",
		Name:      "Flyer",
		Formula:   "quantity * rate",
		Fields: []entity.FieldDef{
			{Key: "quantity", Type: entity.FieldNumber, Required: true},
			{Key: "unit_rate", Type: entity.FieldNumber, Required: true, Alias: "rate"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, resp.Error)

	w, resp = f.do(t, http.MethodPut, "/api/templates/BROKEN", entity.RunTemplate{Name: "Broken", Formula: "quantity *"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.False(t, resp.Success)

	w, resp = f.do(t, http.MethodPost, "/api/orders", service.PlaceOrderInput{
		CustomerName: "Acme Print",
		Processes:    []service.ProcessSpec{{ProcessID: "OFFSET", TemplateIDs: []string{"FLYER"}, BatchCount: 2}},
	})
	require.Equal(t, http.StatusCreated, w.Code, resp.Error)
	var placed service.OrderDetails
	decode(t, resp, &placed)
	assert.NotZero(t, placed.Order.ID)

	w, resp = f.do(t, http.MethodGet, "/api/orders?code="+placed.Order.Code, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var byCode service.OrderDetails
	decode(t, resp, &byCode)
	assert.Equal(t, placed.Order.ID, byCode.Order.ID)

	w, _ = f.do(t, http.MethodGet, fmt.Sprintf("/api/orders/%d", placed.Order.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp = f.do(t, http.MethodGet, "/api/orders/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)

	w, _ = f.do(t, http.MethodGet, "/api/orders/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/orders", service.PlaceOrderInput{CustomerName: "Acme"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	f.drain(t)
	w, resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/orders/%d/runs", placed.Order.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var runs []entity.ProcessRun
	decode(t, resp, &runs)
	require.Len(t, runs, 2)

	w, resp = f.do(t, http.MethodPost, fmt.Sprintf("/api/runs/%d/fields", runs[0].ID), map[string]interface{}{
		"values":   map[string]interface{}{"quantity": "ten"},
		"complete": false,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, resp.Error)

	w, resp = f.do(t, http.MethodPost, fmt.Sprintf("/api/runs/%d/fields", runs[0].ID), map[string]interface{}{
		"values":   map[string]interface{}{"quantity": 100, "unit_rate": 0.35},
		"complete": true,
	})
	require.Equal(t, http.StatusOK, w.Code, resp.Error)

	w, resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/runs/%d", runs[0].ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var run entity.ProcessRun
	decode(t, resp, &run)
	assert.Equal(t, "CONFIGURED", run.ConfigStatusCode)
}

func TestTransitionsAPI(t *testing.T) {
	f := newAPI(t)
	f.env.SeedTemplate(t, "T1", "P1", "quantity * rate")
	seeded := f.env.SeedOrder(t, "ORD1/25-26", 1, 1, "T1")
	orderWF := f.env.Definition(t, testutil.OrderWorkflow)

	req := TransitionRequest{
		AggregateType:  entity.AggregateOrder,
		AggregateID:    seeded.Order.ID,
		WorkflowTypeID: orderWF.ID,
	}

	w, resp := f.do(t, http.MethodPost, "/api/transitions", req)
	require.Equal(t, http.StatusOK, w.Code, resp.Error)
	var result appwf.TransitionResult
	decode(t, resp, &result)
	assert.Equal(t, "PLACED", result.From.Code)
	assert.Equal(t, "IN_PRODUCTION", result.To.Code)
	assert.Equal(t, workflow.TriggerManual, result.Trigger)

	w, _ = f.do(t, http.MethodPost, "/api/transitions", req)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = f.do(t, http.MethodPost, "/api/transitions", req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, resp.Error, workflow.ErrInvalidTransition.Error())

	req.AggregateID = 999
	w, _ = f.do(t, http.MethodPost, "/api/transitions", req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req.Trigger = "TELEPORT"
	w, _ = f.do(t, http.MethodPost, "/api/transitions", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBillingAPI(t *testing.T) {
	f := newAPI(t)
	f.env.SeedTemplate(t, "T1", "P1", "quantity * rate")
	seeded := f.env.SeedOrder(t, "ORD1/25-26", 1, 2, "T1")
	ctx := context.Background()
	for _, run := range seeded.Runs[seeded.Processes[0].ID] {
		require.NoError(t, f.env.Runs.UpdateFields(ctx, run.ID, run.Version, map[string]entity.FieldValue{
			"quantity":  entity.NumberValue(testDecimal("4")),
			"unit_rate": entity.NumberValue(testDecimal("2.5")),
		}))
	}

	w, resp := f.do(t, http.MethodPost, "/api/billing/contexts", billing.CreateContextInput{
		Type:     entity.ContextOrder,
		OrderIDs: []int64{seeded.Order.ID},
	})
	require.Equal(t, http.StatusCreated, w.Code, resp.Error)
	var bc entity.BillingContext
	decode(t, resp, &bc)
	base := fmt.Sprintf("/api/billing/contexts/%d", bc.ID)

	w, _ = f.do(t, http.MethodGet, base+"/latest", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodPost, base+"/finalize", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, resp = f.do(t, http.MethodPost, base+"/drafts", nil)
	require.Equal(t, http.StatusCreated, w.Code, resp.Error)
	var draft entity.BillingSnapshot
	decode(t, resp, &draft)
	assert.Equal(t, 1, draft.Version)
	assert.Equal(t, "20.00", draft.Result.StringFixed(2))

	w, resp = f.do(t, http.MethodPost, base+"/finalize", nil)
	require.Equal(t, http.StatusCreated, w.Code, resp.Error)
	var final entity.BillingSnapshot
	decode(t, resp, &final)
	assert.Equal(t, 2, final.Version)
	assert.Equal(t, entity.IntentFinal, final.Intent)

	w, resp = f.do(t, http.MethodGet, base+"/snapshots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []entity.BillingSnapshot
	decode(t, resp, &history)
	assert.Len(t, history, 2)

	w, _ = f.do(t, http.MethodGet, base+"/export?version=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "-v1-DRAFT.xlsx")
	assert.NotEmpty(t, w.Body.Bytes())

	w, _ = f.do(t, http.MethodGet, base+"/export?version=-2", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/billing/contexts/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/billing/contexts", billing.CreateContextInput{Type: entity.ContextGroup, Name: "Q2"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestOutboxAPI(t *testing.T) {
	f := newAPI(t)

	w, resp := f.do(t, http.MethodGet, "/api/outbox/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats port.OutboxStats
	decode(t, resp, &stats)
	assert.Zero(t, stats.Pending)

	w, _ = f.do(t, http.MethodGet, "/api/outbox/parked", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/outbox/parked/42/requeue", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestWakeAfterSuccessfulWrites(t *testing.T) {
	f := newAPI(t)

	f.do(t, http.MethodGet, "/api/orders", nil)
	f.do(t, http.MethodPost, "/api/orders", service.PlaceOrderInput{})
	assert.Zero(t, f.wakes)

	f.do(t, http.MethodPut, "/api/templates/T9", entity.RunTemplate{ProcessID: "P9", Name: "Nine"})
	assert.Equal(t, 1, f.wakes)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", errBadRequest), http.StatusBadRequest},
		{fmt.Errorf("order 1: %w", port.ErrUnknownAggregate), http.StatusNotFound},
		{port.ErrContextNotFound, http.StatusNotFound},
		{workflow.ErrUnknownWorkflowType, http.StatusNotFound},
		{fmt.Errorf("run 3: %w", port.ErrStaleAggregate), http.StatusConflict},
		{port.ErrStaleSnapshotVersion, http.StatusConflict},
		{fmt.Errorf("ORDER 1: %w", workflow.ErrInvalidTransition), http.StatusUnprocessableEntity},
		{&formula.Error{Kind: formula.KindDivisionByZero, Formula: "a/b", Msg: "division by zero"}, http.StatusUnprocessableEntity},
		{entity.ErrFieldValidation, http.StatusUnprocessableEntity},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func testDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
