package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/config"
	"github.com/garyjia/prodflow/internal/container"
	"github.com/garyjia/prodflow/pkg/utils"
)

// app is a started container plus the logger it runs with
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	container *container.Container
	out       *OutputFormatter
}

// loadConfig reads the config and builds the logger. One-shot commands keep
// stdout for their own output, so their logs go to stderr.
func loadConfig(opts *RootOptions, oneShot bool) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if opts.Verbose {
		cfg.Logger.Level = "debug"
	}
	if oneShot && cfg.Logger.OutputPath == "stdout" {
		cfg.Logger.OutputPath = "stderr"
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to initialize logger", err)
	}
	return cfg, logger, nil
}

// startApp loads configuration and starts the container. Background workers
// only run for long-lived commands.
func startApp(ctx context.Context, cmd *cobra.Command, opts *RootOptions, withWorkers bool) (*app, error) {
	cfg, logger, err := loadConfig(opts, !withWorkers)
	if err != nil {
		return nil, err
	}

	c, err := container.NewContainer(cfg, logger, container.WithWorkers(withWorkers))
	if err != nil {
		_ = logger.Sync()
		return nil, WrapExitError(ExitCommandError, "failed to create container", err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		_ = logger.Sync()
		return nil, WrapExitError(ExitCommandError, "failed to start", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		container: c,
		out:       &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()},
	}, nil
}

func (a *app) close() {
	if err := a.container.Close(); err != nil {
		a.logger.Error("Container close failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
