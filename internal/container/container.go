package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/application/dispatcher"
	"github.com/garyjia/prodflow/internal/application/outbox"
	"github.com/garyjia/prodflow/internal/application/port"
	appwf "github.com/garyjia/prodflow/internal/application/workflow"
	"github.com/garyjia/prodflow/internal/config"
	"github.com/garyjia/prodflow/internal/domain/workflow"
	"github.com/garyjia/prodflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/prodflow/internal/infrastructure/storage"
	"github.com/garyjia/prodflow/internal/infrastructure/worker"
	"github.com/garyjia/prodflow/pkg/database"
	"github.com/garyjia/prodflow/pkg/utils"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config      *config.Config
	logger      *zap.Logger
	withWorkers bool

	// Infrastructure - Data
	db           *database.DB
	tx           *sqlite.DB
	pgPool       *pgxpool.Pool
	repositories *RepositoryBundle
	sequences    port.SequenceStore

	// Application
	catalog    *workflow.Catalog
	publisher  *outbox.Publisher
	dispatcher dispatcher.Dispatcher
	engine     appwf.WorkflowEngine
	relay      *outbox.Relay
	services   *ServiceBundle
	exports    *storage.ExportArchive

	// Workers
	workers      *worker.WorkerManager
	outboxWorker *worker.OutboxWorker

	// Lifecycle
	mu     sync.RWMutex
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// Option configures the container
type Option func(*Container)

// WithWorkers controls whether Start launches the background workers.
// One-shot commands run without them.
func WithWorkers(enabled bool) Option {
	return func(c *Container) {
		c.withWorkers = enabled
	}
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{
		config:      cfg,
		logger:      logger,
		withWorkers: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start initializes all components in dependency order:
// 1. Database, migrations, repositories and the workflow catalog
// 2. Fiscal sequence backend
// 3. Dispatcher, workflow engine and application services
// 4. Outbox relay and workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	var runCtx context.Context
	runCtx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(runCtx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized", zap.Int("workflow_types", len(c.catalog.Definitions())))

	if err := c.initSequences(runCtx); err != nil {
		return fmt.Errorf("failed to initialize sequences: %w", err)
	}

	if err := c.initApplication(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	if err := c.initWorkers(runCtx); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully", zap.Bool("workers", c.withWorkers))
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil && c.workers.IsRunning() {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}

	if c.pgPool != nil {
		c.pgPool.Close()
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return errors.Join(errs...)
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	if c.db == nil {
		set("database", false, "not initialized")
	} else if err := c.db.Health(ctx); err != nil {
		set("database", false, fmt.Sprintf("ping failed: %v", err))
	} else {
		set("database", true, "")
	}

	if c.pgPool != nil {
		if err := c.pgPool.Ping(ctx); err != nil {
			set("postgres", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("postgres", true, "")
		}
	}

	if c.relay == nil {
		set("outbox", false, "not initialized")
	} else if stats, err := c.relay.Stats(ctx); err != nil {
		set("outbox", false, err.Error())
	} else {
		// Parked events need an operator but do not make the service unhealthy.
		set("outbox", true, fmt.Sprintf("pending=%d parked=%d", stats.Pending, stats.Parked))
	}

	if c.withWorkers {
		if c.workers == nil {
			set("workers", false, "not initialized")
		} else {
			set("workers", c.workers.IsRunning(), fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()))
		}
	}

	return status
}

func (c *Container) initDatabase(ctx context.Context) error {
	bundle, err := ProvideDatabase(ctx, c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.db = bundle.DB
	c.tx = bundle.TransactionMgr

	repos, err := ProvideRepositories(c.db.DB, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos

	catalog, err := ProvideCatalog(c.config.Workflows.CatalogPath)
	if err != nil {
		return err
	}
	if err := repos.Workflows.Sync(ctx, catalog.Definitions()); err != nil {
		return err
	}
	c.catalog = catalog
	return nil
}

func (c *Container) initSequences(ctx context.Context) error {
	store, pool, err := ProvideSequenceStore(ctx, c.config, c.repositories.Sequences, c.logger)
	if err != nil {
		return err
	}
	c.sequences = store
	c.pgPool = pool
	return nil
}

func (c *Container) initApplication() error {
	c.publisher = outbox.NewPublisher(c.repositories.Outbox)
	c.dispatcher = ProvideDispatcher(c.logger)

	r := c.repositories
	c.engine = appwf.NewEngine(c.catalog, r.Orders, r.Processes, r.Runs, c.publisher, c.tx,
		utils.NewKVLogger(c.logger.Named("workflow")))

	services, err := ProvideServices(&ServiceDeps{
		Config:    c.config,
		Catalog:   c.catalog,
		Repos:     r,
		Sequences: c.sequences,
		Outbox:    c.publisher,
		Engine:    c.engine,
		TxManager: c.tx,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	services.Handlers.Register(c.dispatcher)
	c.services = services

	c.relay = ProvideRelay(c.config.Outbox, r.Outbox, c.tx, c.dispatcher, c.logger)
	c.exports = storage.NewExportArchive(c.config.Billing.ExportDir, c.logger.Named("exports"))
	return nil
}

func (c *Container) initWorkers(ctx context.Context) error {
	c.workers, c.outboxWorker = ProvideWorkers(c.config.Outbox, c.relay, c.logger)
	if !c.withWorkers {
		return nil
	}
	return c.workers.StartAll(ctx)
}

// TxManager returns the transaction manager.
func (c *Container) TxManager() port.TransactionManager {
	return c.tx
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Catalog returns the workflow catalog.
func (c *Container) Catalog() *workflow.Catalog {
	return c.catalog
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() appwf.WorkflowEngine {
	return c.engine
}

// Relay returns the outbox relay.
func (c *Container) Relay() *outbox.Relay {
	return c.relay
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Exports returns the billing export archive.
func (c *Container) Exports() *storage.ExportArchive {
	return c.exports
}

// OutboxWorker returns the outbox worker; nil before Start.
func (c *Container) OutboxWorker() *worker.OutboxWorker {
	return c.outboxWorker
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the root logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the configuration.
func (c *Container) Config() *config.Config {
	return c.config
}
