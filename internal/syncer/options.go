package syncer

import (
	"fmt"
	"time"

	"schoolsync/internal/model"
)

// Clock is a local wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// On returns the instant at c on the calendar date of day, in loc.
func (c Clock) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, loc)
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// ReminderCount is the number of study reminders fanned out per exam.
const ReminderCount = 7

// Options drive a sync pass.
type Options struct {
	// SyncDaysAhead bounds the homework window: [today, today+SyncDaysAhead].
	SyncDaysAhead int
	// ExamDaysAhead may be negative to look back at past exams.
	ExamDaysAhead int

	EventDuration     time.Duration
	ExamEventDuration time.Duration

	ExamSyncEnabled       bool
	StudyRemindersEnabled bool

	// DryRun computes every decision and count but never writes.
	DryRun bool

	// Location is the primary zone events are created in.
	Location     *time.Location
	HomeworkTime Clock
	ExamTime     Clock

	// Reminders are pinned to a wall-clock time in their own zone.
	ReminderTime     Clock
	ReminderLocation *time.Location
	ReminderDuration time.Duration

	Now func() time.Time
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		paris = time.UTC
	}
	newYork, err := time.LoadLocation("America/New_York")
	if err != nil {
		newYork = time.UTC
	}
	return Options{
		SyncDaysAhead:         30,
		ExamDaysAhead:         -60,
		EventDuration:         2 * time.Hour,
		ExamEventDuration:     2 * time.Hour,
		ExamSyncEnabled:       true,
		StudyRemindersEnabled: true,
		Location:              paris,
		HomeworkTime:          Clock{Hour: 18},
		ExamTime:              Clock{Hour: 8},
		ReminderTime:          Clock{Hour: 19},
		ReminderLocation:      newYork,
		ReminderDuration:      time.Hour,
		Now:                   time.Now,
	}
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.ReminderLocation == nil {
		o.ReminderLocation = o.Location
	}
	if o.EventDuration <= 0 {
		o.EventDuration = 2 * time.Hour
	}
	if o.ExamEventDuration <= 0 {
		o.ExamEventDuration = o.EventDuration
	}
	if o.ReminderDuration <= 0 {
		o.ReminderDuration = time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Today is the current date in the primary zone.
func (o Options) Today() time.Time {
	o = o.withDefaults()
	return model.Today(o.Now(), o.Location)
}

// HomeworkRange is [today, today+SyncDaysAhead].
func (o Options) HomeworkRange() (time.Time, time.Time) {
	today := o.Today()
	return today, today.AddDate(0, 0, o.SyncDaysAhead)
}

// ExamRange spans from the lookback (when ExamDaysAhead is negative) to
// whichever of the two horizons reaches further.
func (o Options) ExamRange() (time.Time, time.Time) {
	today := o.Today()
	return today.AddDate(0, 0, min(o.ExamDaysAhead, 0)),
		today.AddDate(0, 0, max(o.ExamDaysAhead, o.SyncDaysAhead))
}
