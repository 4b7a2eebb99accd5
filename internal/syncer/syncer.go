// Package syncer decides, for every normalized assignment, whether the
// destination calendar needs a new event, an updated one or nothing at all.
// The content hash stored on destination events is the only state consulted.
package syncer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"schoolsync/internal/calendar"
	"schoolsync/internal/fingerprint"
	appLog "schoolsync/internal/log"
	"schoolsync/internal/model"
)

// Action is the outcome of matching one assignment against the destination.
type Action int

const (
	ActionCreate Action = iota + 1
	ActionUpdate
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Decide maps the lookup result to an action. Only the title is compared:
// the hash already covers the identity fields.
func Decide(existing *calendar.Event, title string) Action {
	switch {
	case existing == nil:
		return ActionCreate
	case existing.Title != title:
		return ActionUpdate
	default:
		return ActionSkip
	}
}

// Result aggregates one sync pass.
type Result struct {
	HomeworkCreated  int       `json:"homework_created"`
	HomeworkUpdated  int       `json:"homework_updated"`
	HomeworkSkipped  int       `json:"homework_skipped"`
	HomeworkFailed   int       `json:"homework_failed"`
	ExamCreated      int       `json:"exam_created"`
	ExamUpdated      int       `json:"exam_updated"`
	ExamSkipped      int       `json:"exam_skipped"`
	ExamFailed       int       `json:"exam_failed"`
	RemindersCreated int       `json:"reminders_created"`
	RemindersSkipped int       `json:"reminders_skipped"`
	RemindersFailed  int       `json:"reminders_failed"`
	TotalHomework    int       `json:"total_homework"`
	TotalExams       int       `json:"total_exams"`
	TotalCreated     int       `json:"total_created"`
	DryRun           bool      `json:"dry_run"`
	Timestamp        time.Time `json:"timestamp"`
}

// Syncer applies assignments to a destination store.
type Syncer struct {
	store calendar.Store
	opts  Options
}

// New returns a Syncer writing to store.
func New(store calendar.Store, opts Options) *Syncer {
	return &Syncer{store: store, opts: opts.withDefaults()}
}

// pass carries the per-run state. overlay holds what this run has already
// written (or would have written in dry-run mode), keyed by content hash.
type pass struct {
	*Syncer
	today   time.Time
	overlay map[string]calendar.Event
}

// Sync processes homework first, then exams. Per-item failures are logged
// and counted; they never stop the loop.
func (s *Syncer) Sync(ctx context.Context, homework, exams []model.Assignment) Result {
	p := &pass{
		Syncer:  s,
		today:   s.opts.Today(),
		overlay: make(map[string]calendar.Event),
	}
	res := Result{
		DryRun:        s.opts.DryRun,
		TotalHomework: len(homework),
	}

	for _, a := range homework {
		action, err := p.apply(ctx, a, s.itemEvent(a, s.opts.HomeworkTime, s.opts.EventDuration))
		if err != nil {
			res.HomeworkFailed++
			appLog.Error("homework failed", err, "title", a.Title(), "hash", appLog.ShortHash(a.ContentHash))
			continue
		}
		switch action {
		case ActionCreate:
			res.HomeworkCreated++
		case ActionUpdate:
			res.HomeworkUpdated++
		case ActionSkip:
			res.HomeworkSkipped++
		}
	}

	if s.opts.ExamSyncEnabled {
		res.TotalExams = len(exams)
		for _, a := range exams {
			action, err := p.apply(ctx, a, s.itemEvent(a, s.opts.ExamTime, s.opts.ExamEventDuration))
			if err != nil {
				res.ExamFailed++
				appLog.Error("exam failed", err, "title", a.Title(), "hash", appLog.ShortHash(a.ContentHash))
				continue
			}
			switch action {
			case ActionCreate:
				res.ExamCreated++
				if s.opts.StudyRemindersEnabled && a.Date.After(p.today) {
					p.reminders(ctx, a, &res)
				}
			case ActionUpdate:
				res.ExamUpdated++
			case ActionSkip:
				res.ExamSkipped++
			}
		}
	}

	res.TotalCreated = res.HomeworkCreated + res.ExamCreated + res.RemindersCreated
	res.Timestamp = s.opts.Now()
	return res
}

// apply runs the create/update/skip machine for one assignment.
func (p *pass) apply(ctx context.Context, a model.Assignment, ev calendar.Event) (action Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	hash := a.ContentHash
	if hash == "" {
		return 0, ErrMissingHash
	}
	existing, err := p.find(ctx, hash)
	if err != nil {
		return 0, err
	}

	action = Decide(existing, ev.Title)
	switch action {
	case ActionCreate:
		appLog.Info("creating event", "title", ev.Title, "kind", a.Kind, "hash", appLog.ShortHash(hash), "dry_run", p.opts.DryRun)
		if !p.opts.DryRun {
			id, err := p.store.Create(ctx, ev)
			if err != nil {
				return 0, fmt.Errorf("create: %w", err)
			}
			ev.ID = id
		}
	case ActionUpdate:
		appLog.Info("updating event",
			"title", ev.Title,
			"previous_title", existing.Title,
			"kind", a.Kind,
			"hash", appLog.ShortHash(hash),
			"dry_run", p.opts.DryRun,
		)
		ev.ID = existing.ID
		if !p.opts.DryRun {
			if err := p.store.Update(ctx, existing.ID, ev); err != nil {
				return 0, fmt.Errorf("update: %w", err)
			}
		}
	case ActionSkip:
		appLog.Debug("event is current", "title", ev.Title, "kind", a.Kind, "hash", appLog.ShortHash(hash))
		return action, nil
	}
	p.overlay[hash] = ev
	return action, nil
}

func (p *pass) find(ctx context.Context, hash string) (*calendar.Event, error) {
	if ev, ok := p.overlay[hash]; ok {
		return &ev, nil
	}
	ev, err := p.store.FindByContentHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return ev, nil
}

// reminders fans out up to ReminderCount study reminders before exam.
// Reminders dated before today are not created.
func (p *pass) reminders(ctx context.Context, exam model.Assignment, res *Result) {
	for n := 1; n <= ReminderCount; n++ {
		day := exam.Date.AddDate(0, 0, -n)
		if day.Before(p.today) {
			appLog.Debug("reminder date already passed", "exam", exam.Title(), "days_before", n)
			continue
		}
		ev := p.reminderEvent(exam, n, day)
		hash := ev.ContentHash()

		existing, err := p.find(ctx, hash)
		if err != nil {
			res.RemindersFailed++
			appLog.Error("reminder lookup failed", err, "title", ev.Title, "hash", appLog.ShortHash(hash))
			continue
		}
		if existing != nil {
			res.RemindersSkipped++
			continue
		}
		if !p.opts.DryRun {
			id, err := p.store.Create(ctx, ev)
			if err != nil {
				res.RemindersFailed++
				appLog.Error("reminder create failed", err, "title", ev.Title, "hash", appLog.ShortHash(hash))
				continue
			}
			ev.ID = id
		}
		p.overlay[hash] = ev
		res.RemindersCreated++
		appLog.Info("created study reminder", "title", ev.Title, "days_before", n, "dry_run", p.opts.DryRun)
	}
}

func (s *Syncer) itemEvent(a model.Assignment, at Clock, d time.Duration) calendar.Event {
	start := at.On(a.Date, s.opts.Location)
	ann := calendar.NewAnnotations(a.ContentHash, a.Kind)
	ann[calendar.KeySubject] = a.Subject
	ann[calendar.KeyDueDate] = model.ISODate(a.Date)
	ann[calendar.KeyDataSource] = string(a.Source)
	return calendar.Event{
		Title:       a.Title(),
		Description: describe(a),
		Start:       start,
		End:         start.Add(d),
		TimeZone:    s.opts.Location.String(),
		ColorID:     calendar.SubjectColor(a.Subject),
		Annotations: ann,
	}
}

// reminderEvent is pinned to ReminderTime in the reminder zone and then
// expressed in the primary zone.
func (p *pass) reminderEvent(exam model.Assignment, daysBefore int, day time.Time) calendar.Event {
	start := p.opts.ReminderTime.On(day, p.opts.ReminderLocation).In(p.opts.Location)
	examTitle := exam.Title()

	title := fmt.Sprintf("Study reminder (%d days): %s", daysBefore, examTitle)
	if daysBefore == 1 {
		title = "Final review: " + examTitle
	}

	hash := fingerprint.Reminder(exam.ContentHash, daysBefore)
	ann := calendar.NewAnnotations(hash, model.KindStudyReminder)
	ann[calendar.KeySubject] = exam.Subject
	ann[calendar.KeyDueDate] = model.ISODate(exam.Date)
	ann[calendar.KeyParentExamHash] = exam.ContentHash
	ann[calendar.KeyDaysBefore] = strconv.Itoa(daysBefore)

	return calendar.Event{
		Title: title,
		Description: fmt.Sprintf("Study for: %s\nExam date: %s\nDays remaining: %d",
			examTitle, model.ISODate(exam.Date), daysBefore),
		Start:       start,
		End:         start.Add(p.opts.ReminderDuration),
		TimeZone:    p.opts.Location.String(),
		ColorID:     calendar.ReminderColor(),
		Annotations: ann,
	}
}

func describe(a model.Assignment) string {
	var b strings.Builder
	if d := strings.TrimSpace(a.DetailedDescription); d != "" {
		b.WriteString(d)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Subject: %s\n", a.Subject)
	if a.IsExam() {
		fmt.Fprintf(&b, "Exam date: %s", model.ISODate(a.Date))
		if a.Teacher != "" {
			fmt.Fprintf(&b, "\nTeacher: %s", a.Teacher)
		}
		if a.Coefficient != "" {
			fmt.Fprintf(&b, "\nCoefficient: %s", a.Coefficient)
		}
	} else {
		fmt.Fprintf(&b, "Due date: %s", model.ISODate(a.Date))
	}
	return b.String()
}
