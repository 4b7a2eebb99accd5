package config

import (
	"os"
	"path/filepath"
	"testing"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	c := DefaultConfig()
	c.Source.Portal.URL = "https://ent.example.fr/pronote"
	c.Source.Portal.Username = "alice"
	c.Source.Portal.Password = "s3cret"
	return c
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: Europe/Brussels
sync:
  sync_days_ahead: 14
  dry_run: true
calendar:
  backend: ics
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Brussels", cfg.Timezone)
	assert.Equal(t, 14, cfg.Sync.SyncDaysAhead)
	assert.True(t, cfg.Sync.DryRun)
	assert.True(t, cfg.Sync.ExamSyncEnabled, "unset booleans keep their default")
	assert.True(t, cfg.Sync.StudyRemindersEnabled)
	assert.Equal(t, -60, cfg.Sync.ExamDaysAhead)
	assert.Equal(t, "18:00", cfg.Sync.HomeworkTime)
	assert.Equal(t, BackendICS, cfg.Calendar.Backend)
	assert.Equal(t, "./var/schoolsync.ics", cfg.Calendar.ICSPath)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := validConfig()
	cfg.Sync.StudyRemindersEnabled = false
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "pw"}
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestNormalizeFillsZeroValues(t *testing.T) {
	c := &Config{}
	c.Normalize()
	d := DefaultConfig()
	assert.Equal(t, d.Listen, c.Listen)
	assert.Equal(t, d.Sync.ReminderTimezone, c.Sync.ReminderTimezone)
	assert.Equal(t, d.Sync.EventDurationHours, c.Sync.EventDurationHours)
	assert.Equal(t, SourcePortal, c.Source.Kind)
	assert.Equal(t, BackendGoogle, c.Calendar.Backend)
}

func TestApplyEnv(t *testing.T) {
	c := validConfig()
	c.ApplyEnv(envMap(map[string]string{
		"SYNC_DAYS_AHEAD":         "10",
		"EXAM_DAYS_AHEAD":         "-30",
		"EVENT_DURATION_HOURS":    "three",
		"EXAM_SYNC_ENABLED":       "false",
		"STUDY_REMINDERS_ENABLED": "maybe",
		"DRY_RUN":                 "1",
		"LOG_LEVEL":               "DEBUG",
		"CALENDAR_ID":             "fallback@group.calendar.google.com",
		"GOOGLE_CALENDAR_ID":      "family@group.calendar.google.com",
		"PORTAL_PASSWORD":         "from-env",
	}))

	assert.Equal(t, 10, c.Sync.SyncDaysAhead)
	assert.Equal(t, -30, c.Sync.ExamDaysAhead)
	assert.Equal(t, 2, c.Sync.EventDurationHours, "unparsable value keeps prior setting")
	assert.False(t, c.Sync.ExamSyncEnabled)
	assert.True(t, c.Sync.StudyRemindersEnabled)
	assert.True(t, c.Sync.DryRun)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "family@group.calendar.google.com", c.Calendar.CalendarID)
	assert.Equal(t, "from-env", c.Source.Portal.Password)
}

func TestApplyEnvCalendarIDFallback(t *testing.T) {
	c := validConfig()
	c.ApplyEnv(envMap(map[string]string{"CALENDAR_ID": "other"}))
	assert.Equal(t, "other", c.Calendar.CalendarID)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SCHOOLSYNC_TEST_ONLY=42\n"), 0o600))
	t.Setenv("SCHOOLSYNC_TEST_ONLY", "")
	os.Unsetenv("SCHOOLSYNC_TEST_ONLY")

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "42", os.Getenv("SCHOOLSYNC_TEST_ONLY"))
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "Timezone"},
		{"bad reminder time", func(c *Config) { c.Sync.ReminderTime = "7pm" }, "ReminderTime"},
		{"bad cron", func(c *Config) { c.Schedule = "every morning" }, "Schedule"},
		{"bad listen", func(c *Config) { c.Listen = "nowhere" }, "Listen"},
		{"duration", func(c *Config) { c.Sync.EventDurationHours = 48 }, "EventDurationHours"},
		{"unknown backend", func(c *Config) { c.Calendar.Backend = "outlook" }, "Backend"},
		{"login mode", func(c *Config) { c.Source.Portal.LoginMode = "sso" }, "LoginMode"},
		{"portal url", func(c *Config) { c.Source.Portal.URL = "" }, "source.portal.url"},
		{"portal password", func(c *Config) { c.Source.Portal.Password = "" }, "password_file"},
		{"ics feed", func(c *Config) { c.Source.Kind = SourceICS }, "homework_url"},
		{"calendar id", func(c *Config) { c.Calendar.CalendarID = "" }, "calendar_id"},
		{"basic auth", func(c *Config) { c.BasicAuth = &BasicAuthConfig{Username: "admin"} }, "BasicAuth.Password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateRedactsSecrets(t *testing.T) {
	c := validConfig()
	c.Source.Kind = SourceICS
	c.Source.ICS.HomeworkURL = "not a url with token=abc"
	err := c.Validate()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "token=abc")
}

func TestPortalPassword(t *testing.T) {
	c := validConfig()
	pw, err := c.PortalPassword()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", string(pw))

	path := filepath.Join(t.TempDir(), "pw")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	c.Source.Portal.Password = ""
	c.Source.Portal.PasswordFile = path
	pw, err = c.PortalPassword()
	require.NoError(t, err)
	assert.Equal(t, "from-file", string(pw))

	c.Source.Portal.PasswordFile = ""
	_, err = c.PortalPassword()
	assert.ErrorIs(t, err, ErrInvalid)
}
