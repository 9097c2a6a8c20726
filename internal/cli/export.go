package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Version int
	Out     string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <context-id>",
		Short: "Write a billing snapshot to an xlsx file",
		Long: `Render one snapshot of a billing context as an xlsx workbook.

Example:
  prodflow export 7                  # latest snapshot archived under billing.export_dir
  prodflow export 7 --version 1 -o /tmp/draft.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd, args[0])
		},
	}
	cmd.Flags().IntVar(&opts.Version, "version", 0, "snapshot version (0 = latest)")
	cmd.Flags().StringVarP(&opts.Out, "output", "o", "", "output file (defaults to the context folder of billing.export_dir)")
	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command, rawID string) error {
	contextID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || contextID <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid context id %q", rawID))
	}
	if opts.Version < 0 {
		return NewExitError(ExitCommandError, "--version must not be negative")
	}

	ctx := commandContext(cmd)
	a, err := startApp(ctx, cmd, opts.RootOptions, false)
	if err != nil {
		return err
	}
	defer a.close()

	billingSvc := a.container.Services().Billing
	data, name, err := billingSvc.Export(ctx, contextID, opts.Version)
	if err != nil {
		return WrapExitError(ExitCommandError, "export failed", err)
	}

	path := opts.Out
	if path == "" {
		bc, err := billingSvc.GetContext(ctx, contextID)
		if err != nil {
			return WrapExitError(ExitCommandError, "export failed", err)
		}
		if path, err = a.container.Exports().Save(ctx, bc, name, data); err != nil {
			return WrapExitError(ExitFailure, "failed to archive export", err)
		}
		return a.out.Success(map[string]interface{}{"file": path, "bytes": len(data)},
			fmt.Sprintf("wrote %s (%d bytes)", path, len(data)))
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return WrapExitError(ExitFailure, "failed to create output directory", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return WrapExitError(ExitFailure, "failed to write export", err)
	}

	return a.out.Success(map[string]interface{}{"file": path, "bytes": len(data)},
		fmt.Sprintf("wrote %s (%d bytes)", path, len(data)))
}
