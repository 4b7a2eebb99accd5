package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"schoolsync/internal/calendar"
	"schoolsync/internal/classify"
	"schoolsync/internal/config"
	"schoolsync/internal/ics"
	"schoolsync/internal/normalize"
	"schoolsync/internal/portal"
	"schoolsync/internal/source"
	"schoolsync/internal/syncer"
)

// syncOptions translates the sync section of cfg.
func syncOptions(cfg *config.Config) (syncer.Options, error) {
	loc, err := cfg.Location()
	if err != nil {
		return syncer.Options{}, fmt.Errorf("%w: timezone: %w", syncer.ErrConfig, err)
	}
	s := cfg.Sync
	reminderLoc, err := time.LoadLocation(s.ReminderTimezone)
	if err != nil {
		return syncer.Options{}, fmt.Errorf("%w: reminder timezone: %w", syncer.ErrConfig, err)
	}

	clocks := make([]syncer.Clock, 3)
	for i, v := range []string{s.HomeworkTime, s.ExamTime, s.ReminderTime} {
		if clocks[i], err = syncer.ParseClock(v); err != nil {
			return syncer.Options{}, fmt.Errorf("%w: %w", syncer.ErrConfig, err)
		}
	}

	return syncer.Options{
		SyncDaysAhead:         s.SyncDaysAhead,
		ExamDaysAhead:         s.ExamDaysAhead,
		EventDuration:         time.Duration(s.EventDurationHours) * time.Hour,
		ExamEventDuration:     time.Duration(s.ExamEventDurationHours) * time.Hour,
		ExamSyncEnabled:       s.ExamSyncEnabled,
		StudyRemindersEnabled: s.StudyRemindersEnabled,
		DryRun:                s.DryRun,
		Location:              loc,
		HomeworkTime:          clocks[0],
		ExamTime:              clocks[1],
		ReminderTime:          clocks[2],
		ReminderLocation:      reminderLoc,
		ReminderDuration:      time.Duration(s.ReminderDurationMinutes) * time.Minute,
		Now:                   time.Now,
	}, nil
}

// newReader builds the configured source adapter.
func newReader(cfg *config.Config, loc *time.Location) (source.Reader, error) {
	switch cfg.Source.Kind {
	case config.SourceICS:
		r, err := ics.NewFeedReader(ics.Config{
			HomeworkURL:    cfg.Source.ICS.HomeworkURL,
			EvaluationsURL: cfg.Source.ICS.EvaluationsURL,
			CacheDir:       cfg.Source.ICS.CacheDir,
			Location:       loc,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", syncer.ErrConfig, err)
		}
		return r, nil

	case config.SourcePortal:
		pw, err := cfg.PortalPassword()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", syncer.ErrConfig, err)
		}
		p := cfg.Source.Portal
		b := p.Browser
		c, err := portal.New(portal.Config{
			BaseURL:   p.URL,
			Username:  p.Username,
			LoginMode: p.LoginMode,
			Browser: portal.BrowserConfig{
				LoginPath:        b.LoginPath,
				UsernameSelector: b.UsernameSelector,
				PasswordSelector: b.PasswordSelector,
				SubmitSelector:   b.SubmitSelector,
				ReadySelector:    b.ReadySelector,
				ExecPath:         b.ExecPath,
				Timeout:          time.Duration(b.TimeoutSeconds) * time.Second,
			},
		}, pw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", syncer.ErrConfig, err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: unknown source kind %q", syncer.ErrConfig, cfg.Source.Kind)
}

// storeOpener returns the per-run destination factory. The memory backend
// is created once so that a daemon keeps its events between runs.
func storeOpener(cfg *config.Config) (syncer.StoreFunc, error) {
	c := cfg.Calendar
	switch c.Backend {
	case config.BackendMemory:
		mem := calendar.NewMemoryStore(time.Now)
		return func(context.Context) (calendar.Store, error) { return mem, nil }, nil

	case config.BackendICS:
		return func(context.Context) (calendar.Store, error) {
			return calendar.OpenICSFile(c.ICSPath, time.Now)
		}, nil

	case config.BackendGoogle:
		gc := calendar.GoogleConfig{
			CalendarID:        c.CalendarID,
			CredentialsFile:   c.CredentialsFile,
			RequestsPerSecond: c.RequestsPerSecond,
		}
		if raw, ok := os.LookupEnv("GOOGLE_CREDENTIALS_JSON"); ok && raw != "" {
			gc.CredentialsJSON = []byte(raw)
		}
		return func(ctx context.Context) (calendar.Store, error) {
			return calendar.NewGoogleStore(ctx, gc)
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown calendar backend %q", syncer.ErrConfig, c.Backend)
}

// newRunner assembles a Runner from cfg.
func newRunner(cfg *config.Config, hooks ...syncer.ReportHook) (*syncer.Runner, error) {
	opts, err := syncOptions(cfg)
	if err != nil {
		return nil, err
	}
	reader, err := newReader(cfg, opts.Location)
	if err != nil {
		return nil, err
	}
	open, err := storeOpener(cfg)
	if err != nil {
		return nil, err
	}
	return &syncer.Runner{
		Reader:     reader,
		OpenStore:  open,
		Normalizer: normalize.New(classify.Default()),
		Options:    opts,
		Hooks:      hooks,
	}, nil
}
