package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"schoolsync/internal/history"
	appLog "schoolsync/internal/log"
	"schoolsync/internal/metrics"
	"schoolsync/internal/schedule"
	"schoolsync/internal/web"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen     string
	RunOnStart bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run syncs on a schedule and serve the status API",
		Long: `Start the daemon: syncs fire on the configured cron schedule (evaluated in
the configured timezone) and a status server exposes /health, /api/status,
/api/runs, /api/runs/latest, POST /api/sync and /metrics.

Example:
  schoolsync serve --config /etc/schoolsync/config.yaml
  schoolsync serve --listen :8080 --run-on-start`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP listen address (overrides config if set)")
	cmd.Flags().BoolVar(&opts.RunOnStart, "run-on-start", false, "run one sync immediately after startup")

	return cmd
}

func serve(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}

	hist, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open history", err)
	}
	defer hist.Close()

	m := metrics.New()
	runner, err := newRunner(cfg, hist.Hook(), m.Hook())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up sync", err)
	}

	sched, err := schedule.New(cfg.Schedule, runner.Options.Location, runner.Run)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up schedule", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			appLog.Warn("scheduler did not stop cleanly", "err", err)
		}
	}()

	if opts.RunOnStart || cfg.RunOnStart {
		go func() {
			if _, err := sched.TriggerNow(ctx); err != nil {
				appLog.Warn("startup run skipped", "err", err)
			}
		}()
	}

	srv := web.NewServer(cfg, hist, sched, m.Handler())
	if err := srv.Serve(ctx); err != nil {
		return WrapExitError(ExitCommandError, "HTTP server failed", err)
	}
	appLog.Info("schoolsync exiting")
	return nil
}
