package cli

import (
	"github.com/spf13/cobra"
)

// NewNextCodeCommand creates the next-code command.
func NewNextCodeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "next-code <prefix>",
		Short: "Issue the next fiscal-year code for a prefix",
		Long: `Issue and print the next code for prefix, e.g. ORD12/25-26.

The number is consumed even if the code is never used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := startApp(ctx, cmd, rootOpts, false)
			if err != nil {
				return err
			}
			defer a.close()

			code, err := a.container.Services().Sequences.NextCode(ctx, args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to issue code", err)
			}
			return a.out.Success(map[string]string{"prefix": args[0], "code": code}, code)
		},
	}
}
