package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	appLog "schoolsync/internal/log"
)

// LoadDotEnv loads KEY=VALUE files into the process environment. Missing
// files are ignored; variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		appLog.Debug("loaded env file", "path", p)
	}
	return nil
}

// ApplyEnv overlays environment variables onto c. lookup is usually
// os.LookupEnv. A value that does not parse keeps the prior setting.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	e := envReader{lookup: lookup}

	e.int("SYNC_DAYS_AHEAD", &c.Sync.SyncDaysAhead)
	e.int("EXAM_DAYS_AHEAD", &c.Sync.ExamDaysAhead)
	e.int("EVENT_DURATION_HOURS", &c.Sync.EventDurationHours)
	e.int("EXAM_EVENT_DURATION_HOURS", &c.Sync.ExamEventDurationHours)
	e.bool("EXAM_SYNC_ENABLED", &c.Sync.ExamSyncEnabled)
	e.bool("STUDY_REMINDERS_ENABLED", &c.Sync.StudyRemindersEnabled)
	e.bool("DRY_RUN", &c.Sync.DryRun)
	e.string("LOG_LEVEL", &c.LogLevel)
	e.string("TIMEZONE", &c.Timezone)

	e.string("CALENDAR_ID", &c.Calendar.CalendarID)
	e.string("GOOGLE_CALENDAR_ID", &c.Calendar.CalendarID)
	e.string("GOOGLE_CREDENTIALS_FILE", &c.Calendar.CredentialsFile)

	e.string("PORTAL_URL", &c.Source.Portal.URL)
	e.string("PORTAL_USERNAME", &c.Source.Portal.Username)
	e.string("PORTAL_PASSWORD", &c.Source.Portal.Password)
	e.string("PORTAL_PASSWORD_FILE", &c.Source.Portal.PasswordFile)

	c.LogLevel = strings.ToLower(c.LogLevel)
}

type envReader struct {
	lookup func(string) (string, bool)
}

func (e envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e envReader) string(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e envReader) int(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		appLog.Warn("ignoring non-integer environment value", "key", key)
		return
	}
	*dst = n
}

func (e envReader) bool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		appLog.Warn("ignoring non-boolean environment value", "key", key)
	}
}
