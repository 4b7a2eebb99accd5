package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"schoolsync/internal/history"
	appLog "schoolsync/internal/log"
	"schoolsync/internal/syncer"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	DryRun    bool
	NoHistory bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one sync and print the report",
		Long: `Run a single sync: connect to the source, fetch homework and exams,
create or update calendar events, close the session.

The JSON report is written to stdout. The exit status is 1 when the run
failed; per-item failures are counted in the report and do not fail it.

Example:
  schoolsync run --config ./config.yaml
  schoolsync run --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "compute every decision without writing to the calendar")
	cmd.Flags().BoolVar(&opts.NoHistory, "no-history", false, "do not record the run in the history database")

	return cmd
}

func runOnce(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.DryRun {
		cfg.Sync.DryRun = true
	}

	var hooks []syncer.ReportHook
	if !opts.NoHistory {
		hist, err := history.Open(cfg.HistoryPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open history", err)
		}
		defer func() {
			if cerr := hist.Close(); cerr != nil {
				appLog.Warn("closing history failed", "err", cerr)
			}
		}()
		hooks = append(hooks, hist.Hook())
	}

	runner, err := newRunner(cfg, hooks...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up sync", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rep := runner.Run(ctx)
	out, err := rep.JSON()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode report", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if !rep.OK() {
		return NewExitError(ExitFailure, "sync failed: "+rep.Error)
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
