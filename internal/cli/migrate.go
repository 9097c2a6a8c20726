package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/prodflow/internal/container"
	"github.com/garyjia/prodflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/prodflow/pkg/database"
)

// MigrateResult reports what the migrate command changed.
type MigrateResult struct {
	Database      string `json:"database"`
	Applied       int    `json:"applied"`
	WorkflowTypes int    `json:"workflow_types"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and sync the workflow catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	cfg, logger, err := loadConfig(opts, true)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.New(database.Config{
		Path:             cfg.Database.Path,
		MaxOpenConns:     cfg.Database.MaxOpenConns,
		MaxIdleConns:     cfg.Database.MaxIdleConns,
		ConnMaxLifetime:  cfg.Database.ConnMaxLifetime,
		BusyTimeoutMilli: int(cfg.Database.BusyTimeout.Milliseconds()),
	}, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer db.Close()

	applied, err := database.NewMigrator(db, logger).Run(ctx, database.Migrations())
	if err != nil {
		return WrapExitError(ExitFailure, "migration failed", err)
	}

	catalog, err := container.ProvideCatalog(cfg.Workflows.CatalogPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load workflow catalog", err)
	}
	if err := repository.NewWorkflowRepository(db.DB, logger).Sync(ctx, catalog.Definitions()); err != nil {
		return WrapExitError(ExitFailure, "workflow catalog sync failed", err)
	}

	result := MigrateResult{
		Database:      cfg.Database.Path,
		Applied:       applied,
		WorkflowTypes: len(catalog.Definitions()),
	}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(result, fmt.Sprintf("%s: %d migration(s) applied, %d workflow type(s) synced",
		result.Database, result.Applied, result.WorkflowTypes))
}
