package container

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/application/billing"
	"github.com/garyjia/prodflow/internal/application/dispatcher"
	"github.com/garyjia/prodflow/internal/application/outbox"
	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/application/sequence"
	"github.com/garyjia/prodflow/internal/application/service"
	appwf "github.com/garyjia/prodflow/internal/application/workflow"
	"github.com/garyjia/prodflow/internal/config"
	"github.com/garyjia/prodflow/internal/domain/workflow"
	"github.com/garyjia/prodflow/internal/infrastructure/persistence/postgres"
	"github.com/garyjia/prodflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/prodflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/prodflow/internal/infrastructure/worker"
	"github.com/garyjia/prodflow/pkg/database"
	"github.com/garyjia/prodflow/pkg/utils"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Workflows *repository.WorkflowRepository
	Orders    port.OrderRepository
	Processes port.OrderProcessRepository
	Runs      port.ProcessRunRepository
	Templates port.RunTemplateRepository
	Outbox    port.OutboxRepository
	Contexts  port.BillingContextRepository
	Snapshots port.BillingSnapshotRepository
	Sequences port.SequenceStore
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Orders    service.OrderService
	Runs      service.RunService
	Templates service.TemplateService
	Billing   *billing.Service
	Sequences *sequence.Generator
	Handlers  *service.EventHandlers
}

// ProvideDatabase opens the SQLite database and applies the embedded migrations.
func ProvideDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:             cfg.Path,
		MaxOpenConns:     cfg.MaxOpenConns,
		MaxIdleConns:     cfg.MaxIdleConns,
		ConnMaxLifetime:  cfg.ConnMaxLifetime,
		BusyTimeoutMilli: int(cfg.BusyTimeout.Milliseconds()),
	}, logger)
	if err != nil {
		return nil, err
	}

	if _, err := database.NewMigrator(db, logger).Run(ctx, database.Migrations()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideCatalog loads the workflow catalog from path, or the built-in one when path is empty.
func ProvideCatalog(path string) (*workflow.Catalog, error) {
	if path == "" {
		return workflow.DefaultCatalog()
	}
	return workflow.LoadCatalogFile(path)
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Workflows: repository.NewWorkflowRepository(sqlDB, logger),
		Orders:    repository.NewOrderRepository(sqlDB, logger),
		Processes: repository.NewOrderProcessRepository(sqlDB, logger),
		Runs:      repository.NewProcessRunRepository(sqlDB, logger),
		Templates: repository.NewRunTemplateRepository(sqlDB, logger),
		Outbox:    repository.NewOutboxRepository(sqlDB, logger),
		Contexts:  repository.NewBillingContextRepository(sqlDB, logger),
		Snapshots: repository.NewBillingSnapshotRepository(sqlDB, logger),
		Sequences: repository.NewSequenceRepository(sqlDB, logger),
	}, nil
}

// ProvideSequenceStore returns the fiscal sequence backend selected by cfg.
// The pool is non-nil only for the postgres backend and must be closed by the caller.
func ProvideSequenceStore(ctx context.Context, cfg *config.Config, local port.SequenceStore, logger *zap.Logger) (port.SequenceStore, *pgxpool.Pool, error) {
	if cfg.Sequence.Backend != config.SequenceBackendPostgres {
		return local, nil, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	store := postgres.NewSequenceStore(pool, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("Using postgres sequence backend")
	return store, pool, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(dispatcher.WithLogger(utils.NewKVLogger(logger.Named("dispatcher"))))
}

// ServiceDeps holds what ProvideServices needs.
type ServiceDeps struct {
	Config    *config.Config
	Catalog   *workflow.Catalog
	Repos     *RepositoryBundle
	Sequences port.SequenceStore
	Outbox    *outbox.Publisher
	Engine    appwf.WorkflowEngine
	TxManager port.TransactionManager
	Logger    *zap.Logger
}

// ProvideServices creates all application services and the outbox event handlers.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	cfg := deps.Config
	log := utils.NewKVLogger(deps.Logger.Named("service"))

	codes := sequence.NewGenerator(deps.Sequences, log,
		sequence.WithMaxRetries(cfg.Sequence.MaxRetries),
		sequence.WithRetryBackoff(cfg.Sequence.RetryBackoff),
	)

	defaults := service.WorkflowDefaults{
		Order:        cfg.Workflows.Order,
		OrderProcess: cfg.Workflows.OrderProcess,
		RunConfig:    cfg.Workflows.RunConfig,
		RunLifecycle: cfg.Workflows.RunLifecycle,
	}
	for _, code := range []string{defaults.Order, defaults.OrderProcess, defaults.RunConfig, defaults.RunLifecycle} {
		if _, err := deps.Catalog.ByCode(code); err != nil {
			return nil, fmt.Errorf("default workflow: %w", err)
		}
	}

	r := deps.Repos
	orders := service.NewOrderService(deps.Catalog, r.Orders, r.Processes, r.Runs, r.Templates,
		codes, deps.Outbox, deps.TxManager, defaults, log)
	billingService := billing.NewService(r.Contexts, r.Snapshots, r.Orders, r.Runs, r.Templates, deps.TxManager,
		utils.NewKVLogger(deps.Logger.Named("billing")),
		billing.WithCurrency(cfg.Billing.Currency),
	)

	return &ServiceBundle{
		Orders:    orders,
		Runs:      service.NewRunService(r.Runs, r.Templates, deps.Engine, deps.TxManager, log),
		Templates: service.NewTemplateService(r.Templates, log),
		Billing:   billingService,
		Sequences: codes,
		Handlers:  service.NewEventHandlers(deps.Catalog, orders, r.Orders, r.Processes, deps.Engine, billingService, log),
	}, nil
}

// ProvideRelay creates the outbox relay from configuration.
func ProvideRelay(cfg config.OutboxConfig, repo port.OutboxRepository, tx port.TransactionManager, d dispatcher.Dispatcher, logger *zap.Logger) *outbox.Relay {
	return outbox.NewRelay(repo, tx, d, utils.NewKVLogger(logger.Named("outbox")), outbox.Config{
		BatchSize:      cfg.BatchSize,
		MaxRounds:      cfg.MaxRounds,
		HandlerTimeout: cfg.HandlerTimeout,
		MaxAttempts:    cfg.MaxAttempts,
		BaseBackoff:    cfg.BaseBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}, outbox.WithAlerter(outbox.NewLogAlerter(logger.Named("alert"))))
}

// ProvideWorkers creates the worker manager with the outbox worker registered.
func ProvideWorkers(cfg config.OutboxConfig, relay *outbox.Relay, logger *zap.Logger) (*worker.WorkerManager, *worker.OutboxWorker) {
	manager := worker.NewWorkerManager(logger.Named("worker"))
	ow := worker.NewOutboxWorker(worker.OutboxWorkerConfig{PollInterval: cfg.PollInterval}, relay, logger.Named("outbox_worker"))
	manager.Register(ow)
	return manager, ow
}
