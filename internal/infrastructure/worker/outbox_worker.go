package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/application/outbox"
)

// Drainer delivers pending outbox events
type Drainer interface {
	Drain(ctx context.Context) (*outbox.DrainResult, error)
}

// OutboxWorkerConfig holds configuration for the outbox worker
type OutboxWorkerConfig struct {
	PollInterval time.Duration
}

// DefaultOutboxWorkerConfig returns default configuration
func DefaultOutboxWorkerConfig() OutboxWorkerConfig {
	return OutboxWorkerConfig{PollInterval: 2 * time.Second}
}

// OutboxWorkerStats is a point-in-time view of the worker
type OutboxWorkerStats struct {
	Running   bool          `json:"running"`
	Drains    int           `json:"drains"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Parked    int           `json:"parked"`
	LastDrain time.Time     `json:"last_drain"`
	LastError string        `json:"last_error,omitempty"`
	Uptime    time.Duration `json:"uptime"`
}

// OutboxWorker drains the outbox on a ticker and whenever it is woken
type OutboxWorker struct {
	config  OutboxWorkerConfig
	drainer Drainer
	logger  *zap.Logger

	wake chan struct{}
	done chan struct{}

	mu        sync.RWMutex
	cancel    context.CancelFunc
	isRunning bool
	startTime time.Time
	stats     OutboxWorkerStats
}

// NewOutboxWorker creates a new outbox worker
func NewOutboxWorker(config OutboxWorkerConfig, drainer Drainer, logger *zap.Logger) *OutboxWorker {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultOutboxWorkerConfig().PollInterval
	}
	return &OutboxWorker{
		config:  config,
		drainer: drainer,
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}
}

// Start begins the polling loop
func (w *OutboxWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker already running")
	}

	var loopCtx context.Context
	loopCtx, w.cancel = context.WithCancel(ctx)
	w.isRunning = true
	w.startTime = time.Now()
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	w.logger.Info("OutboxWorker started", zap.Duration("poll_interval", w.config.PollInterval))

	go w.pollLoop(loopCtx, done)
	return nil
}

// Stop cancels the loop and waits for an in-flight drain to finish
func (w *OutboxWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	stats := w.Stats()
	w.logger.Info("OutboxWorker stopped",
		zap.Int("drains", stats.Drains),
		zap.Int("processed", stats.Processed),
		zap.Int("failed", stats.Failed),
		zap.Int("parked", stats.Parked))
	return nil
}

// Name returns the worker name for identification
func (w *OutboxWorker) Name() string {
	return "OutboxWorker"
}

// Wake asks for a drain without waiting for the next tick
func (w *OutboxWorker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stats returns a copy of the worker counters
func (w *OutboxWorker) Stats() OutboxWorkerStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := w.stats
	s.Running = w.isRunning
	if w.isRunning {
		s.Uptime = time.Since(w.startTime)
	}
	return s
}

func (w *OutboxWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drainOnce(ctx)
		case <-w.wake:
			w.drainOnce(ctx)
		}
	}
}

func (w *OutboxWorker) drainOnce(ctx context.Context) {
	result, err := w.drainer.Drain(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.LastDrain = time.Now()

	if errors.Is(err, outbox.ErrDrainInProgress) {
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.stats.LastError = err.Error()
		w.logger.Error("Outbox drain failed", zap.Error(err))
		return
	}

	w.stats.Drains++
	w.stats.LastError = ""
	if result != nil {
		w.stats.Processed += result.Processed
		w.stats.Failed += result.Failed
		w.stats.Parked += result.Parked
	}
}
