package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// The configuration is a YAML file, created with defaults and 0600
// permissions on first run, then overlaid by the environment (see env.go)
// and checked by Validate.

// Source kinds.
const (
	SourcePortal = "portal"
	SourceICS    = "ics"
)

// Calendar backends.
const (
	BackendGoogle = "google"
	BackendICS    = "ics"
	BackendMemory = "memory"
)

// SyncConfig holds the sync policy.
type SyncConfig struct {
	// SyncDaysAhead is the homework horizon in days.
	SyncDaysAhead int `yaml:"sync_days_ahead" json:"sync_days_ahead" validate:"gte=0,lte=365"`
	// ExamDaysAhead is the exam horizon. Negative values look back instead.
	ExamDaysAhead int `yaml:"exam_days_ahead" json:"exam_days_ahead" validate:"gte=-365,lte=365"`

	EventDurationHours     int `yaml:"event_duration_hours" json:"event_duration_hours" validate:"gte=1,lte=24"`
	ExamEventDurationHours int `yaml:"exam_event_duration_hours" json:"exam_event_duration_hours" validate:"gte=1,lte=24"`

	ExamSyncEnabled       bool `yaml:"exam_sync_enabled" json:"exam_sync_enabled"`
	StudyRemindersEnabled bool `yaml:"study_reminders_enabled" json:"study_reminders_enabled"`
	DryRun                bool `yaml:"dry_run" json:"dry_run"`

	// Wall-clock times as "HH:MM".
	HomeworkTime string `yaml:"homework_time" json:"homework_time" validate:"hhmm"`
	ExamTime     string `yaml:"exam_time" json:"exam_time" validate:"hhmm"`
	ReminderTime string `yaml:"reminder_time" json:"reminder_time" validate:"hhmm"`

	// ReminderTimezone is where ReminderTime is read; it may differ from the
	// main timezone.
	ReminderTimezone        string `yaml:"reminder_timezone" json:"reminder_timezone" validate:"required,tz"`
	ReminderDurationMinutes int    `yaml:"reminder_duration_minutes" json:"reminder_duration_minutes" validate:"gte=1,lte=1440"`
}

// BrowserConfig configures headless login for portals without a plain
// login form.
type BrowserConfig struct {
	LoginPath        string `yaml:"login_path,omitempty" json:"login_path,omitempty"`
	UsernameSelector string `yaml:"username_selector,omitempty" json:"username_selector,omitempty"`
	PasswordSelector string `yaml:"password_selector,omitempty" json:"password_selector,omitempty"`
	SubmitSelector   string `yaml:"submit_selector,omitempty" json:"submit_selector,omitempty"`
	ReadySelector    string `yaml:"ready_selector,omitempty" json:"ready_selector,omitempty"`
	ExecPath         string `yaml:"exec_path,omitempty" json:"exec_path,omitempty"`
	TimeoutSeconds   int    `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty" validate:"gte=0"`
}

// PortalConfig points at the school portal API.
type PortalConfig struct {
	URL      string `yaml:"url" json:"url" validate:"omitempty,url"`
	Username string `yaml:"username" json:"username"`
	// Password is accepted for convenience; prefer PasswordFile or the
	// PORTAL_PASSWORD environment variable.
	Password     string        `yaml:"password,omitempty" json:"-"`
	PasswordFile string        `yaml:"password_file,omitempty" json:"password_file,omitempty"`
	LoginMode    string        `yaml:"login_mode" json:"login_mode" validate:"omitempty,oneof=form browser"`
	Browser      BrowserConfig `yaml:"browser,omitempty" json:"browser,omitempty"`
}

// FeedConfig points at the ICS feeds exported by the portal.
type FeedConfig struct {
	HomeworkURL    string `yaml:"homework_url" json:"-" validate:"omitempty,url"`
	EvaluationsURL string `yaml:"evaluations_url,omitempty" json:"-" validate:"omitempty,url"`
	CacheDir       string `yaml:"cache_dir" json:"cache_dir"`
}

// SourceConfig selects where assignments come from.
type SourceConfig struct {
	Kind   string       `yaml:"kind" json:"kind" validate:"oneof=portal ics"`
	Portal PortalConfig `yaml:"portal" json:"portal"`
	ICS    FeedConfig   `yaml:"ics" json:"ics"`
}

// CalendarConfig selects where events are written.
type CalendarConfig struct {
	Backend         string `yaml:"backend" json:"backend" validate:"oneof=google ics memory"`
	CalendarID      string `yaml:"calendar_id" json:"calendar_id"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	// ICSPath is the output file of the ics backend.
	ICSPath           string  `yaml:"ics_path" json:"ics_path"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" validate:"gte=0"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" validate:"required"`
	Password string `yaml:"password" json:"-" validate:"required"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the status server address.
	Listen string `yaml:"listen" json:"listen" validate:"required,hostname_port"`

	// Timezone is the IANA zone events are created in and the schedule is
	// evaluated in.
	Timezone string `yaml:"timezone" json:"timezone" validate:"required,tz"`

	LogLevel string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`

	// Schedule is a standard 5-field cron expression for the serve daemon.
	Schedule   string `yaml:"schedule" json:"schedule" validate:"required,cronspec"`
	RunOnStart bool   `yaml:"run_on_start" json:"run_on_start"`

	// HistoryPath is the SQLite run log.
	HistoryPath string `yaml:"history_path" json:"history_path" validate:"required"`

	Sync     SyncConfig     `yaml:"sync" json:"sync"`
	Source   SourceConfig   `yaml:"source" json:"source"`
	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "Europe/Paris",
		LogLevel:    "info",
		Schedule:    "0 6 * * *",
		HistoryPath: "./var/history.db",
		Sync: SyncConfig{
			SyncDaysAhead:           30,
			ExamDaysAhead:           -60,
			EventDurationHours:      2,
			ExamEventDurationHours:  2,
			ExamSyncEnabled:         true,
			StudyRemindersEnabled:   true,
			HomeworkTime:            "18:00",
			ExamTime:                "08:00",
			ReminderTime:            "19:00",
			ReminderTimezone:        "America/New_York",
			ReminderDurationMinutes: 60,
		},
		Source: SourceConfig{
			Kind:   SourcePortal,
			Portal: PortalConfig{LoginMode: "form"},
			ICS:    FeedConfig{CacheDir: "./var/ics-cache"},
		},
		Calendar: CalendarConfig{
			Backend:           BackendGoogle,
			CalendarID:        "primary",
			ICSPath:           "./var/schoolsync.ics",
			RequestsPerSecond: 5,
		},
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// (e.g., older versions) still behave correctly. Booleans cannot be told
// apart from "unset" here; Load keeps their defaults by decoding over
// DefaultConfig.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Schedule == "" {
		c.Schedule = d.Schedule
	}
	if c.HistoryPath == "" {
		c.HistoryPath = d.HistoryPath
	}

	s := &c.Sync
	if s.EventDurationHours <= 0 {
		s.EventDurationHours = d.Sync.EventDurationHours
	}
	if s.ExamEventDurationHours <= 0 {
		s.ExamEventDurationHours = d.Sync.ExamEventDurationHours
	}
	if s.HomeworkTime == "" {
		s.HomeworkTime = d.Sync.HomeworkTime
	}
	if s.ExamTime == "" {
		s.ExamTime = d.Sync.ExamTime
	}
	if s.ReminderTime == "" {
		s.ReminderTime = d.Sync.ReminderTime
	}
	if s.ReminderTimezone == "" {
		s.ReminderTimezone = d.Sync.ReminderTimezone
	}
	if s.ReminderDurationMinutes <= 0 {
		s.ReminderDurationMinutes = d.Sync.ReminderDurationMinutes
	}

	if c.Source.Kind == "" {
		c.Source.Kind = d.Source.Kind
	}
	if c.Source.Portal.LoginMode == "" {
		c.Source.Portal.LoginMode = d.Source.Portal.LoginMode
	}
	if c.Source.ICS.CacheDir == "" {
		c.Source.ICS.CacheDir = d.Source.ICS.CacheDir
	}

	if c.Calendar.Backend == "" {
		c.Calendar.Backend = d.Calendar.Backend
	}
	if c.Calendar.ICSPath == "" {
		c.Calendar.ICSPath = d.Calendar.ICSPath
	}
	if c.Calendar.RequestsPerSecond <= 0 {
		c.Calendar.RequestsPerSecond = d.Calendar.RequestsPerSecond
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: write a default config with 0600 perms
//     (creating the parent directory) and return it
//   - Otherwise decode the YAML over the defaults and normalize
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".schoolsync-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
