package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/garyjia/prodflow/internal/application/outbox"
)

// NewOutboxCommand groups the outbox inspection commands.
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and repair the event outbox",
	}
	cmd.AddCommand(newOutboxStatsCommand(rootOpts))
	cmd.AddCommand(newOutboxParkedCommand(rootOpts))
	cmd.AddCommand(newOutboxRequeueCommand(rootOpts))
	return cmd
}

func newOutboxStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pending, parked and processed counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := startApp(ctx, cmd, rootOpts, false)
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.container.Relay().Stats(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read outbox stats", err)
			}
			return a.out.Success(stats, fmt.Sprintf("pending=%d parked=%d processed=%d",
				stats.Pending, stats.Parked, stats.Processed))
		},
	}
}

func newOutboxParkedCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "parked",
		Short: "List events that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := startApp(ctx, cmd, rootOpts, false)
			if err != nil {
				return err
			}
			defer a.close()

			events, err := a.container.Relay().Parked(ctx, limit)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list parked events", err)
			}

			var b strings.Builder
			fmt.Fprintf(&b, "%d parked event(s)", len(events))
			for _, e := range events {
				fmt.Fprintf(&b, "\n%d\t%s\t%s %d\tattempts=%d\t%s",
					e.ID, e.Type, e.AggregateType, e.AggregateID, e.Attempts, e.LastError)
			}
			return a.out.Success(events, b.String())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum events to list")
	return cmd
}

func newOutboxRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <event-id>",
		Short: "Return a parked event to the pending set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid event id %q", args[0]))
			}

			ctx := commandContext(cmd)
			a, err := startApp(ctx, cmd, rootOpts, false)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.container.Relay().Requeue(ctx, id); err != nil {
				if errors.Is(err, outbox.ErrEventNotParked) {
					return WrapExitError(ExitCommandError, "requeue refused", err)
				}
				return WrapExitError(ExitFailure, "requeue failed", err)
			}
			return a.out.Success(map[string]interface{}{"id": id, "requeued": true},
				fmt.Sprintf("event %d requeued", id))
		},
	}
}
