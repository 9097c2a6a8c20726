package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/application/dispatcher"
	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/domain/event"
	"github.com/garyjia/prodflow/internal/domain/workflow"
	"github.com/garyjia/prodflow/internal/testutil"
	"github.com/garyjia/prodflow/pkg/utils"
)

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []*event.Event
}

func (a *recordingAlerter) Alert(ctx context.Context, evt *event.Event, cause error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, evt)
}

type relayFixture struct {
	env       *testutil.Env
	publisher *Publisher
	disp      dispatcher.Dispatcher
	relay     *Relay
	alerter   *recordingAlerter
	now       time.Time
}

func newRelayFixture(t *testing.T, cfg Config) *relayFixture {
	env := testutil.NewEnv(t)
	f := &relayFixture{
		env:       env,
		publisher: NewPublisher(env.Outbox),
		disp:      dispatcher.NewDispatcher(),
		alerter:   &recordingAlerter{},
		now:       time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.relay = NewRelay(env.Outbox, env.Tx, f.disp, utils.NewKVLogger(zap.NewNop()), cfg,
		WithClock(func() time.Time { return f.now }),
		WithAlerter(f.alerter),
	)
	return f
}

func (f *relayFixture) enqueue(t *testing.T, aggID int64, to string) *event.Event {
	t.Helper()
	evt, err := f.publisher.Enqueue(context.Background(), event.TypeStatusChanged, entity.AggregateOrder, aggID,
		event.StatusChangedPayload{WorkflowTypeID: 1, From: "A", To: to, Trigger: workflow.TriggerManual})
	require.NoError(t, err)
	return evt
}

func payloadTo(t *testing.T, evt *event.Event) string {
	var p event.StatusChangedPayload
	require.NoError(t, evt.Decode(&p))
	return p.To
}

func TestDrain_DeliversInOrderPerAggregate(t *testing.T) {
	f := newRelayFixture(t, DefaultConfig())
	ctx := context.Background()

	var seen []string
	f.disp.Subscribe(event.TypeStatusChanged, func(ctx context.Context, evt *event.Event) error {
		seen = append(seen, payloadTo(t, evt))
		return nil
	})

	f.enqueue(t, 1, "a1")
	f.enqueue(t, 1, "a2")
	f.enqueue(t, 2, "b1")
	f.enqueue(t, 1, "a3")

	res, err := f.relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Processed)

	var agg1 []string
	for _, s := range seen {
		if s[0] == 'a' {
			agg1 = append(agg1, s)
		}
	}
	assert.Equal(t, []string{"a1", "a2", "a3"}, agg1)
	assert.Contains(t, seen, "b1")

	stats, err := f.relay.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 4, stats.Processed)

	res, err = f.relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Len(t, seen, 4)
}

func TestDrain_RetriesWithBackoffAndHoldsAggregate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseBackoff = time.Second
	cfg.MaxBackoff = time.Minute
	f := newRelayFixture(t, cfg)
	ctx := context.Background()

	failures := 1
	var seen []string
	f.disp.Subscribe(event.TypeStatusChanged, func(ctx context.Context, evt *event.Event) error {
		if failures > 0 {
			failures--
			return errors.New("printer offline")
		}
		seen = append(seen, payloadTo(t, evt))
		return nil
	})

	first := f.enqueue(t, 1, "a1")
	f.enqueue(t, 1, "a2")
	f.enqueue(t, 2, "b1")

	res, err := f.relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, []string{"b1"}, seen)

	stored, err := f.env.Outbox.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, stored.Processed)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, "printer offline", stored.LastError)
	assert.Equal(t, f.now.Add(time.Second).UnixMilli(), stored.NextAttemptAt.UnixMilli())

	// Not yet due: the whole aggregate waits.
	res, err = f.relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)

	f.now = f.now.Add(2 * time.Second)
	res, err = f.relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, []string{"b1", "a1", "a2"}, seen)
}

func TestDrain_ParksAfterMaxAttemptsAndRequeues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.BaseBackoff = time.Second
	cfg.MaxBackoff = time.Minute
	f := newRelayFixture(t, cfg)
	ctx := context.Background()

	broken := true
	f.disp.Subscribe(event.TypeStatusChanged, func(ctx context.Context, evt *event.Event) error {
		if broken {
			return errors.New("bad payload")
		}
		return nil
	})

	evt := f.enqueue(t, 1, "a1")
	f.enqueue(t, 1, "a2")

	for i := 0; i < 3; i++ {
		_, err := f.relay.Drain(ctx)
		require.NoError(t, err)
		f.now = f.now.Add(time.Hour)
	}

	require.Len(t, f.alerter.alerts, 1)
	assert.Equal(t, evt.ID, f.alerter.alerts[0].ID)
	assert.Equal(t, 3, f.alerter.alerts[0].Attempts)

	parked, err := f.relay.Parked(ctx, 10)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Equal(t, evt.ID, parked[0].ID)

	res, err := f.relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{}, *res)

	stats, err := f.relay.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Parked)

	broken = false
	require.NoError(t, f.relay.Requeue(ctx, evt.ID))
	assert.ErrorIs(t, f.relay.Requeue(ctx, evt.ID), ErrEventNotParked)

	res, err = f.relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Len(t, f.alerter.alerts, 1)
}

func TestDrain_UnknownAndRetiredTypesAreAcknowledged(t *testing.T) {
	f := newRelayFixture(t, DefaultConfig())
	ctx := context.Background()

	var delivered int
	f.disp.Subscribe(event.TypeStatusChanged, func(ctx context.Context, evt *event.Event) error {
		delivered++
		return nil
	})

	for _, typ := range []event.Type{"LEGACY_PING", event.TypeRunFieldsUpdated} {
		require.NoError(t, f.env.Outbox.Insert(ctx, &event.Event{
			EventID:       uuid.NewString(),
			Type:          typ,
			AggregateType: entity.AggregateOrder,
			AggregateID:   1,
			Payload:       json.RawMessage(`{}`),
			CorrelationID: uuid.NewString(),
			CreatedAt:     f.now,
		}))
	}
	f.enqueue(t, 1, "a1")

	res, err := f.relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, delivered)
}

func TestDrain_ActiveTypeWithoutHandlerIsRetried(t *testing.T) {
	f := newRelayFixture(t, DefaultConfig())
	ctx := context.Background()

	evt := f.enqueue(t, 1, "a1")

	res, err := f.relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	stored, err := f.env.Outbox.GetByID(ctx, evt.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.LastError, dispatcher.ErrNoHandler.Error())
}

func TestDrain_HandlerFailureRollsBackItsWrites(t *testing.T) {
	f := newRelayFixture(t, DefaultConfig())
	ctx := context.Background()

	f.disp.Subscribe(event.TypeOrderCompleted, func(ctx context.Context, evt *event.Event) error {
		if _, err := f.publisher.Enqueue(ctx, event.TypeStatusChanged, entity.AggregateOrder, 9,
			event.StatusChangedPayload{From: "X", To: "Y", Trigger: workflow.TriggerManual}); err != nil {
			return err
		}
		return errors.New("downstream failed")
	})

	_, err := f.publisher.Enqueue(ctx, event.TypeOrderCompleted, entity.AggregateOrder, 1, event.OrderCompletedPayload{OrderID: 1})
	require.NoError(t, err)

	res, err := f.relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	events, err := f.env.Outbox.ListByAggregate(ctx, entity.AggregateOrder, 9)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDrain_HandlerTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HandlerTimeout = 20 * time.Millisecond
	f := newRelayFixture(t, cfg)
	ctx := context.Background()

	f.disp.Subscribe(event.TypeStatusChanged, func(ctx context.Context, evt *event.Event) error {
		<-ctx.Done()
		return ctx.Err()
	})
	evt := f.enqueue(t, 1, "a1")

	res, err := f.relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	stored, err := f.env.Outbox.GetByID(ctx, evt.ID)
	require.NoError(t, err)
	assert.False(t, stored.Processed)
	assert.Contains(t, stored.LastError, context.DeadlineExceeded.Error())
}

func TestDrain_PropagatesCorrelationAndIsSingleFlight(t *testing.T) {
	f := newRelayFixture(t, DefaultConfig())
	ctx := context.Background()

	var nestedErr error
	f.disp.Subscribe(event.TypeOrderCompleted, func(ctx context.Context, evt *event.Event) error {
		assert.Equal(t, evt.CorrelationID, CorrelationID(ctx))
		_, nestedErr = f.relay.Drain(ctx)
		_, err := f.publisher.Enqueue(ctx, event.TypeStatusChanged, entity.AggregateOrder, 5,
			event.StatusChangedPayload{From: "A", To: "B", Trigger: workflow.TriggerManual})
		return err
	})
	f.disp.Subscribe(event.TypeStatusChanged, func(ctx context.Context, evt *event.Event) error {
		return nil
	})

	origin, err := f.publisher.Enqueue(WithCorrelationID(ctx, "req-42"), event.TypeOrderCompleted, entity.AggregateOrder, 1, event.OrderCompletedPayload{OrderID: 1})
	require.NoError(t, err)
	assert.Equal(t, "req-42", origin.CorrelationID)

	res, err := f.relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.ErrorIs(t, nestedErr, ErrDrainInProgress)

	followUps, err := f.env.Outbox.ListByAggregate(ctx, entity.AggregateOrder, 5)
	require.NoError(t, err)
	require.Len(t, followUps, 1)
	assert.Equal(t, "req-42", followUps[0].CorrelationID)
}

func TestMarkProcessed_ClaimsOnce(t *testing.T) {
	f := newRelayFixture(t, DefaultConfig())
	ctx := context.Background()
	evt := f.enqueue(t, 1, "a1")

	ok, err := f.env.Outbox.MarkProcessed(ctx, evt.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.env.Outbox.MarkProcessed(ctx, evt.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackoff(t *testing.T) {
	r := NewRelay(nil, nil, nil, utils.NewKVLogger(zap.NewNop()), Config{BaseBackoff: time.Second, MaxBackoff: 10 * time.Second})

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{30, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := r.Backoff(tt.attempts); got != tt.want {
			t.Errorf("Backoff(%d) = %s, want %s", tt.attempts, got, tt.want)
		}
	}
}
