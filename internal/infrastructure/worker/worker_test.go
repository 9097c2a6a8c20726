package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/application/outbox"
)

type countingDrainer struct {
	calls atomic.Int32
	err   error
}

func (d *countingDrainer) Drain(ctx context.Context) (*outbox.DrainResult, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return &outbox.DrainResult{Processed: 2, Failed: 1}, nil
}

func TestOutboxWorker_DrainsOnTick(t *testing.T) {
	d := &countingDrainer{}
	w := NewOutboxWorker(OutboxWorkerConfig{PollInterval: 5 * time.Millisecond}, d, zap.NewNop())

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	assert.Eventually(t, func() bool { return d.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	stats := w.Stats()
	assert.False(t, stats.Running)
	assert.GreaterOrEqual(t, stats.Drains, 3)
	assert.Equal(t, stats.Drains*2, stats.Processed)
	assert.Equal(t, stats.Drains, stats.Failed)

	after := d.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, d.calls.Load())
}

func TestOutboxWorker_WakeDrainsImmediately(t *testing.T) {
	d := &countingDrainer{}
	w := NewOutboxWorker(OutboxWorkerConfig{PollInterval: time.Hour}, d, zap.NewNop())
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	w.Wake()
	assert.Eventually(t, func() bool { return d.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestOutboxWorker_RecordsErrors(t *testing.T) {
	d := &countingDrainer{err: errors.New("database is locked")}
	w := NewOutboxWorker(OutboxWorkerConfig{PollInterval: time.Hour}, d, zap.NewNop())
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	w.Wake()
	assert.Eventually(t, func() bool { return w.Stats().LastError == "database is locked" }, time.Second, 5*time.Millisecond)
	assert.Zero(t, w.Stats().Drains)
}

func TestOutboxWorker_IgnoresConcurrentDrain(t *testing.T) {
	d := &countingDrainer{err: outbox.ErrDrainInProgress}
	w := NewOutboxWorker(OutboxWorkerConfig{PollInterval: time.Hour}, d, zap.NewNop())
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	w.Wake()
	assert.Eventually(t, func() bool { return d.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, w.Stats().LastError)
}

type recordingWorker struct {
	name    string
	mu      *sync.Mutex
	events  *[]string
	startFn func() error
}

func (w *recordingWorker) Start(ctx context.Context) error {
	if w.startFn != nil {
		if err := w.startFn(); err != nil {
			return err
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	*w.events = append(*w.events, "start "+w.name)
	return nil
}

func (w *recordingWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	*w.events = append(*w.events, "stop "+w.name)
	return nil
}

func (w *recordingWorker) Name() string { return w.name }

func TestWorkerManager_Lifecycle(t *testing.T) {
	var mu sync.Mutex
	var events []string
	m := NewWorkerManager(zap.NewNop())
	m.Register(&recordingWorker{name: "a", mu: &mu, events: &events})
	m.Register(&recordingWorker{name: "broken", mu: &mu, events: &events, startFn: func() error { return errors.New("no port") }})
	m.Register(&recordingWorker{name: "b", mu: &mu, events: &events})
	assert.Equal(t, 3, m.GetWorkerCount())

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.StartAll(context.Background()))

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	require.NoError(t, m.StopAll())

	assert.Equal(t, []string{"start a", "start b", "stop b", "stop broken", "stop a"}, events)
}
