package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/prodflow/internal/application/outbox"
)

// DrainOptions holds flags for the drain command.
type DrainOptions struct {
	*RootOptions
	MaxPasses int
}

// DrainSummary totals every pass of a drain command.
type DrainSummary struct {
	Passes int `json:"passes"`
	outbox.DrainResult
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DrainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Deliver pending outbox events once and exit",
		Long: `Run relay passes until a pass delivers nothing or --max-passes is reached.

Exits with status 1 when a handler failed or an event was parked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(opts, cmd)
		},
	}
	cmd.Flags().IntVar(&opts.MaxPasses, "max-passes", 50, "upper bound on relay passes")
	return cmd
}

func runDrain(opts *DrainOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	a, err := startApp(ctx, cmd, opts.RootOptions, false)
	if err != nil {
		return err
	}
	defer a.close()

	var summary DrainSummary
	for summary.Passes < opts.MaxPasses {
		res, err := a.container.Relay().Drain(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "drain failed", err)
		}
		summary.Passes++
		summary.Processed += res.Processed
		summary.Skipped += res.Skipped
		summary.Failed += res.Failed
		summary.Parked += res.Parked
		if res.Processed == 0 && res.Skipped == 0 {
			break
		}
	}

	text := fmt.Sprintf("passes=%d processed=%d skipped=%d failed=%d parked=%d",
		summary.Passes, summary.Processed, summary.Skipped, summary.Failed, summary.Parked)
	if err := a.out.Success(summary, text); err != nil {
		return err
	}
	if summary.Failed > 0 || summary.Parked > 0 {
		return NewExitError(ExitFailure, "some outbox events were not delivered")
	}
	return nil
}
