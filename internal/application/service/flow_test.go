package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/application/billing"
	"github.com/garyjia/prodflow/internal/application/dispatcher"
	"github.com/garyjia/prodflow/internal/application/outbox"
	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/application/sequence"
	appwf "github.com/garyjia/prodflow/internal/application/workflow"
	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/domain/event"
	"github.com/garyjia/prodflow/internal/domain/workflow"
	"github.com/garyjia/prodflow/internal/testutil"
	"github.com/garyjia/prodflow/pkg/utils"
)

type flow struct {
	env      *testutil.Env
	engine   appwf.WorkflowEngine
	codes    *sequence.Generator
	orders   OrderService
	runs     RunService
	billing  *billing.Service
	handlers *EventHandlers
	relay    *outbox.Relay
}

func newFlow(t *testing.T) *flow {
	env := testutil.NewEnv(t)
	logger := utils.NewKVLogger(zap.NewNop())
	publisher := outbox.NewPublisher(env.Outbox)

	f := &flow{env: env}
	f.engine = appwf.NewEngine(env.Catalog, env.Orders, env.Processes, env.Runs, publisher, env.Tx, logger)
	f.codes = sequence.NewGenerator(env.Sequences, logger, sequence.WithClock(func() time.Time {
		return time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	}))
	f.orders = NewOrderService(env.Catalog, env.Orders, env.Processes, env.Runs, env.Templates,
		f.codes, publisher, env.Tx, DefaultWorkflows(), logger)
	f.runs = NewRunService(env.Runs, env.Templates, f.engine, env.Tx, logger)
	f.billing = billing.NewService(env.Contexts, env.Snapshots, env.Orders, env.Runs, env.Templates, env.Tx, logger)
	f.handlers = NewEventHandlers(env.Catalog, f.orders, env.Orders, env.Processes, f.engine, f.billing, logger)

	d := dispatcher.NewDispatcher()
	f.handlers.Register(d)
	f.relay = outbox.NewRelay(env.Outbox, env.Tx, d, logger, outbox.DefaultConfig())
	return f
}

// drainAll drains until a pass delivers nothing; any failure fails the test
func (f *flow) drainAll(t *testing.T) int {
	t.Helper()
	total := 0
	for i := 0; i < 20; i++ {
		res, err := f.relay.Drain(context.Background())
		require.NoError(t, err)
		require.Zero(t, res.Failed, "outbox handler failed")
		require.Zero(t, res.Parked, "outbox event parked")
		if res.Processed == 0 {
			return total
		}
		total += res.Processed
	}
	t.Fatal("outbox did not settle")
	return total
}

func raw(v string) json.RawMessage {
	return json.RawMessage(v)
}

func twoProcessOrder() PlaceOrderInput {
	return PlaceOrderInput{
		CustomerName: "  Acme Print ",
		Processes: []ProcessSpec{
			{ProcessID: "P1", TemplateIDs: []string{"T1"}, BatchCount: 2},
			{ProcessID: "P2", TemplateIDs: []string{"T2"}, BatchCount: 1},
		},
	}
}

func TestOrderFlow_PlacementToBillingDraft(t *testing.T) {
	f := newFlow(t)
	ctx := context.Background()
	f.env.SeedTemplate(t, "T1", "P1", "quantity * rate")
	f.env.SeedTemplate(t, "T2", "P2", "quantity * rate")

	placed, err := f.orders.PlaceOrder(ctx, twoProcessOrder())
	require.NoError(t, err)
	order := placed.Order
	assert.Equal(t, "ORD1/25-26", order.Code)
	assert.Equal(t, "Acme Print", order.CustomerName)
	assert.Equal(t, "PLACED", order.StatusCode)
	assert.Equal(t, 2, order.TotalProcesses)
	require.Len(t, placed.Processes, 2)
	assert.Equal(t, 2, placed.Processes[0].TotalRuns)
	assert.Equal(t, 1, placed.Processes[1].TotalRuns)

	f.drainAll(t)

	runs, err := f.runs.ListOrderRuns(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "Template T1 #1", runs[0].DisplayName)
	assert.Equal(t, "Template T1 #2", runs[1].DisplayName)
	assert.Equal(t, "Template T2 #1", runs[2].DisplayName)
	for _, r := range runs {
		assert.Equal(t, "AWAITING_INPUT", r.ConfigStatusCode)
		assert.Equal(t, "QUEUED", r.LifecycleStatusCode)
	}

	values := map[int64]map[string]json.RawMessage{
		runs[0].ID: {"quantity": raw(`10`), "unit_rate": raw(`"2.5"`)},
		runs[1].ID: {"quantity": raw(`10`), "unit_rate": raw(`2.5`), "notes": raw(`"second pass"`)},
		runs[2].ID: {"quantity": raw(`4`), "unit_rate": raw(`1.25`)},
	}
	for _, r := range runs {
		updated, err := f.runs.SubmitFields(ctx, r.ID, SubmitFieldsInput{Values: values[r.ID], Complete: true})
		require.NoError(t, err)
		assert.Equal(t, "CONFIGURED", updated.ConfigStatusCode)
	}
	f.drainAll(t)

	details, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	for _, p := range details.Processes {
		assert.Equal(t, "RUNNING", p.StatusCode, "process %s", p.ProcessID)
		assert.Equal(t, p.TotalRuns, p.ConfigCompletedRuns)
	}
	assert.Equal(t, "PLACED", details.Order.StatusCode)
	assert.Zero(t, details.Order.CompletedProcesses)

	for _, r := range runs {
		results, err := f.engine.AdvanceToTerminal(ctx, entity.AggregateProcessRun, r.ID, r.LifecycleWorkflowTypeID, workflow.TriggerManual)
		require.NoError(t, err)
		assert.Len(t, results, 3)
	}
	f.drainAll(t)

	details, err = f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", details.Order.StatusCode)
	assert.Equal(t, 2, details.Order.CompletedProcesses)
	assert.True(t, details.Order.LifecycleCompletionSent)
	for _, p := range details.Processes {
		assert.Equal(t, "DONE", p.StatusCode)
	}

	bc, err := f.billing.EnsureOrderContext(ctx, order.ID)
	require.NoError(t, err)
	latest, err := f.billing.GetLatest(ctx, bc.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 1, latest.Version)
	assert.Equal(t, entity.IntentDraft, latest.Intent)
	assert.Equal(t, "55.00", latest.Result.StringFixed(billing.TotalScale))
	require.Len(t, latest.Lines, 3)

	stats, err := f.relay.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Parked)

	completed, err := f.env.Outbox.ListByAggregate(ctx, entity.AggregateOrder, order.ID)
	require.NoError(t, err)
	var orderCompleted []*event.Event
	for _, e := range completed {
		if e.Type == event.TypeOrderCompleted {
			orderCompleted = append(orderCompleted, e)
		}
	}
	require.Len(t, orderCompleted, 1)

	// Redelivery leaves billing untouched.
	require.NoError(t, f.handlers.OnOrderCompleted(ctx, orderCompleted[0]))
	history, err := f.billing.History(ctx, bc.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestOrderCreated_RedeliveryDoesNotDuplicateRuns(t *testing.T) {
	f := newFlow(t)
	ctx := context.Background()
	f.env.SeedTemplate(t, "T1", "P1", "quantity * rate")
	f.env.SeedTemplate(t, "T2", "P2", "")

	placed, err := f.orders.PlaceOrder(ctx, twoProcessOrder())
	require.NoError(t, err)

	created, err := f.env.Outbox.ListByAggregate(ctx, entity.AggregateOrder, placed.Order.ID)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, event.TypeOrderCreated, created[0].Type)

	f.drainAll(t)
	require.NoError(t, f.handlers.OnOrderCreated(ctx, created[0]))

	n, err := f.orders.CreateRuns(ctx, placed.Order.ID, []int64{placed.Processes[0].ID, placed.Processes[1].ID})
	require.NoError(t, err)
	assert.Zero(t, n)

	runs, err := f.runs.ListOrderRuns(ctx, placed.Order.ID)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestCreateRuns_RejectsForeignProcess(t *testing.T) {
	f := newFlow(t)
	ctx := context.Background()
	f.env.SeedTemplate(t, "T1", "P1", "quantity * rate")
	f.env.SeedTemplate(t, "T2", "P2", "")

	a, err := f.orders.PlaceOrder(ctx, twoProcessOrder())
	require.NoError(t, err)
	b, err := f.orders.PlaceOrder(ctx, twoProcessOrder())
	require.NoError(t, err)
	assert.Equal(t, "ORD2/25-26", b.Order.Code)

	_, err = f.orders.CreateRuns(ctx, a.Order.ID, []int64{b.Processes[0].ID})
	assert.ErrorIs(t, err, port.ErrUnknownAggregate)
}

func TestPlaceOrder_Validation(t *testing.T) {
	f := newFlow(t)
	ctx := context.Background()
	f.env.SeedTemplate(t, "T1", "P1", "quantity * rate")

	valid := func() ProcessSpec {
		return ProcessSpec{ProcessID: "P1", TemplateIDs: []string{"T1"}, BatchCount: 1}
	}

	tests := []struct {
		name    string
		input   PlaceOrderInput
		wantErr error
	}{
		{
			name:    "missing customer",
			input:   PlaceOrderInput{CustomerName: " ", Processes: []ProcessSpec{valid()}},
			wantErr: ErrInvalidOrder,
		},
		{
			name:    "no processes",
			input:   PlaceOrderInput{CustomerName: "Acme"},
			wantErr: ErrInvalidOrder,
		},
		{
			name: "zero batches",
			input: PlaceOrderInput{CustomerName: "Acme", Processes: []ProcessSpec{
				{ProcessID: "P1", TemplateIDs: []string{"T1"}},
			}},
			wantErr: ErrInvalidOrder,
		},
		{
			name: "template of another process",
			input: PlaceOrderInput{CustomerName: "Acme", Processes: []ProcessSpec{
				{ProcessID: "P9", TemplateIDs: []string{"T1"}, BatchCount: 1},
			}},
			wantErr: ErrInvalidOrder,
		},
		{
			name: "unknown template",
			input: PlaceOrderInput{CustomerName: "Acme", Processes: []ProcessSpec{
				{ProcessID: "P1", TemplateIDs: []string{"NOPE"}, BatchCount: 1},
			}},
			wantErr: port.ErrTemplateNotFound,
		},
		{
			name:    "workflow of the wrong scope",
			input:   PlaceOrderInput{CustomerName: "Acme", Workflow: "RUN_CONFIG", Processes: []ProcessSpec{valid()}},
			wantErr: ErrInvalidOrder,
		},
		{
			name:    "unknown workflow",
			input:   PlaceOrderInput{CustomerName: "Acme", Workflow: "ORDER_EXPRESS", Processes: []ProcessSpec{valid()}},
			wantErr: workflow.ErrUnknownWorkflowType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orders.PlaceOrder(ctx, tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Rejected requests never consume an order number.
	next, err := f.codes.Current(ctx, OrderCodePrefix)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)
}

func TestSubmitFields_Validation(t *testing.T) {
	f := newFlow(t)
	ctx := context.Background()
	f.env.SeedTemplate(t, "T1", "P1", "quantity * rate")
	seeded := f.env.SeedOrder(t, "ORD7/25-26", 1, 1, "T1")
	run := seeded.Runs[seeded.Processes[0].ID][0]

	_, err := f.runs.SubmitFields(ctx, run.ID, SubmitFieldsInput{Values: map[string]json.RawMessage{"colour": raw(`"red"`)}})
	assert.ErrorIs(t, err, entity.ErrFieldValidation)

	_, err = f.runs.SubmitFields(ctx, run.ID, SubmitFieldsInput{Values: map[string]json.RawMessage{"quantity": raw(`"ten"`)}})
	assert.ErrorIs(t, err, entity.ErrFieldValidation)

	partial, err := f.runs.SubmitFields(ctx, run.ID, SubmitFieldsInput{Values: map[string]json.RawMessage{"quantity": raw(`12`)}})
	require.NoError(t, err)
	assert.Equal(t, "AWAITING_INPUT", partial.ConfigStatusCode)

	_, err = f.runs.SubmitFields(ctx, run.ID, SubmitFieldsInput{Complete: true})
	assert.ErrorIs(t, err, entity.ErrFieldValidation)

	done, err := f.runs.SubmitFields(ctx, run.ID, SubmitFieldsInput{
		Values:   map[string]json.RawMessage{"unit_rate": raw(`3`)},
		Complete: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "CONFIGURED", done.ConfigStatusCode)
	assert.Equal(t, "12", done.Fields["quantity"].Number.String())

	_, err = f.runs.SubmitFields(ctx, 9999, SubmitFieldsInput{})
	assert.ErrorIs(t, err, port.ErrUnknownAggregate)
}
