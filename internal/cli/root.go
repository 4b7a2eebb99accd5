// Package cli is the schoolsync command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"schoolsync/internal/config"
	appLog "schoolsync/internal/log"
)

// Version is set at build time with -ldflags.
var Version = "0.1.0-dev"

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "/etc/schoolsync/config.yaml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	EnvFile    string
	Verbose    bool
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "schoolsync",
		Short: "Sync school homework and exams into a calendar",
		Long: `schoolsync reads homework, evaluations and grades from a school portal
(or its ICS feeds) and keeps matching calendar events, with study reminders
before upcoming exams. Runs are idempotent: the content hash stored on each
event is the only sync state.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", DefaultConfigPath, "path to config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "optional KEY=VALUE file loaded before the environment")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// loadConfig resolves the effective configuration: file, then .env, then
// the process environment, then validation.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if err := config.LoadDotEnv(opts.EnvFile); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load env file", err)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	cfg.ApplyEnv(os.LookupEnv)

	level := appLog.ParseLevel(cfg.LogLevel)
	if opts.Verbose {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)

	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid config %s", opts.ConfigPath), err)
	}

	appLog.Info("effective config",
		"config_path", opts.ConfigPath,
		"source", cfg.Source.Kind,
		"backend", cfg.Calendar.Backend,
		"timezone", cfg.Timezone,
		"sync_days_ahead", cfg.Sync.SyncDaysAhead,
		"exam_days_ahead", cfg.Sync.ExamDaysAhead,
		"exam_sync_enabled", cfg.Sync.ExamSyncEnabled,
		"study_reminders_enabled", cfg.Sync.StudyRemindersEnabled,
		"dry_run", cfg.Sync.DryRun,
	)
	return cfg, nil
}
