// Package testutil builds SQLite-backed fixtures for integration tests.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/domain/workflow"
	"github.com/garyjia/prodflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/prodflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/prodflow/pkg/database"
)

// Default catalog codes
const (
	OrderWorkflow        = "ORDER_STANDARD"
	OrderProcessWorkflow = "ORDER_PROCESS_STANDARD"
	RunConfigWorkflow    = "RUN_CONFIG"
	RunLifecycleWorkflow = "RUN_LIFECYCLE"
)

// Env is a migrated database with the default catalog synced and every repository wired
type Env struct {
	DB        *database.DB
	Tx        *sqlite.DB
	Catalog   *workflow.Catalog
	Logger    *zap.Logger
	Workflows *repository.WorkflowRepository
	Orders    *repository.OrderRepository
	Processes *repository.OrderProcessRepository
	Runs      *repository.ProcessRunRepository
	Templates *repository.RunTemplateRepository
	Outbox    *repository.OutboxRepository
	Contexts  *repository.BillingContextRepository
	Snapshots *repository.BillingSnapshotRepository
	Sequences *repository.SequenceRepository
}

// NewEnv opens a fresh database file under t.TempDir()
func NewEnv(t testing.TB) *Env {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "prodflow.db"),
		MaxOpenConns: 4,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	_, err = database.NewMigrator(db, logger).Run(ctx, database.Migrations())
	require.NoError(t, err)

	catalog, err := workflow.DefaultCatalog()
	require.NoError(t, err)

	env := &Env{
		DB:        db,
		Tx:        sqlite.NewDB(db.DB, logger),
		Catalog:   catalog,
		Logger:    logger,
		Workflows: repository.NewWorkflowRepository(db.DB, logger),
		Orders:    repository.NewOrderRepository(db.DB, logger),
		Processes: repository.NewOrderProcessRepository(db.DB, logger),
		Runs:      repository.NewProcessRunRepository(db.DB, logger),
		Templates: repository.NewRunTemplateRepository(db.DB, logger),
		Outbox:    repository.NewOutboxRepository(db.DB, logger),
		Contexts:  repository.NewBillingContextRepository(db.DB, logger),
		Snapshots: repository.NewBillingSnapshotRepository(db.DB, logger),
		Sequences: repository.NewSequenceRepository(db.DB, logger),
	}
	require.NoError(t, env.Workflows.Sync(ctx, catalog.Definitions()))
	return env
}

// Definition returns a catalog entry by code
func (e *Env) Definition(t testing.TB, code string) *workflow.Definition {
	t.Helper()
	def, err := e.Catalog.ByCode(code)
	require.NoError(t, err)
	return def
}

// SeedTemplate stores a run template with a quantity and a rate field
func (e *Env) SeedTemplate(t testing.TB, id, processID, formula string) *entity.RunTemplate {
	t.Helper()
	tmpl := &entity.RunTemplate{
		ID:        id,
		ProcessID: processID,
		Name:      "Template " + id,
		Formula:   formula,
		Fields: []entity.FieldDef{
			{Key: "quantity", Label: "Quantity", Type: entity.FieldNumber, Required: true},
			{Key: "unit_rate", Label: "Unit rate", Type: entity.FieldNumber, Required: true, Alias: "rate"},
			{Key: "notes", Label: "Notes", Type: entity.FieldString},
		},
	}
	require.NoError(t, e.Templates.Upsert(context.Background(), tmpl))
	return tmpl
}

// Seeded is the aggregate tree created by SeedOrder
type Seeded struct {
	Order     *entity.Order
	Processes []*entity.OrderProcess
	Runs      map[int64][]*entity.ProcessRun
}

// SeedOrder inserts an order at its initial status with processCount processes,
// each holding runsPerProcess runs of templateID. No outbox events are written.
func (e *Env) SeedOrder(t testing.TB, code string, processCount, runsPerProcess int, templateID string) *Seeded {
	t.Helper()
	ctx := context.Background()

	orderDef := e.Definition(t, OrderWorkflow)
	processDef := e.Definition(t, OrderProcessWorkflow)
	configDef := e.Definition(t, RunConfigWorkflow)
	lifecycleDef := e.Definition(t, RunLifecycleWorkflow)

	seeded := &Seeded{Runs: make(map[int64][]*entity.ProcessRun)}
	err := e.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		order := &entity.Order{
			Code:           code,
			CustomerName:   "Acme Print",
			WorkflowTypeID: orderDef.ID,
			StatusID:       orderDef.InitialStatus().ID,
			TotalProcesses: processCount,
		}
		if err := e.Orders.Create(ctx, order); err != nil {
			return err
		}
		seeded.Order = order

		for i := 0; i < processCount; i++ {
			p := &entity.OrderProcess{
				OrderID:                    order.ID,
				ProcessID:                  fmt.Sprintf("P%d", i+1),
				WorkflowTypeID:             processDef.ID,
				StatusID:                   processDef.InitialStatus().ID,
				RunConfigWorkflowTypeID:    configDef.ID,
				RunLifecycleWorkflowTypeID: lifecycleDef.ID,
				BatchCount:                 runsPerProcess,
				TemplateIDs:                []string{templateID},
				TotalRuns:                  runsPerProcess,
			}
			if err := e.Processes.Create(ctx, p); err != nil {
				return err
			}
			seeded.Processes = append(seeded.Processes, p)

			runs := make([]*entity.ProcessRun, 0, runsPerProcess)
			for n := 1; n <= runsPerProcess; n++ {
				runs = append(runs, &entity.ProcessRun{
					OrderProcessID:          p.ID,
					RunNumber:               n,
					TemplateID:              templateID,
					DisplayName:             fmt.Sprintf("Run #%d", n),
					ConfigWorkflowTypeID:    configDef.ID,
					ConfigStatusID:          configDef.InitialStatus().ID,
					LifecycleWorkflowTypeID: lifecycleDef.ID,
					LifecycleStatusID:       lifecycleDef.InitialStatus().ID,
				})
			}
			if err := e.Runs.CreateBatch(ctx, runs); err != nil {
				return err
			}
			seeded.Runs[p.ID] = runs
		}
		return nil
	})
	require.NoError(t, err)
	return seeded
}
