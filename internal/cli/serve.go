package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/garyjia/prodflow/internal/interfaces/http"
	"github.com/garyjia/prodflow/pkg/utils"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the outbox worker",
		Long: `Start the HTTP API together with the background outbox worker.

The database is migrated and the workflow catalog synced on startup.
SIGINT or SIGTERM shuts the server down gracefully.

Example:
  prodflow serve --config configs/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	a, err := startApp(ctx, cmd, opts, true)
	if err != nil {
		return err
	}
	defer a.close()

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	c := a.container
	services := c.Services()
	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:         a.cfg.Server.Host,
		Port:         a.cfg.Server.Port,
		Mode:         a.cfg.Server.Mode,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}, httpapi.Dependencies{
		Orders:    services.Orders,
		Runs:      services.Runs,
		Templates: services.Templates,
		Billing:   services.Billing,
		Engine:    c.WorkflowEngine(),
		Outbox:    c.Relay(),
		Health: func(ctx context.Context) (bool, interface{}) {
			status := c.Health(ctx)
			return status.Overall, status.Components
		},
		Wake: c.OutboxWorker().Wake,
	}, utils.NewKVLogger(a.logger.Named("http")))

	if err := server.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "http server failed", err)
	}
	return nil
}
