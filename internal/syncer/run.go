package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"schoolsync/internal/calendar"
	appLog "schoolsync/internal/log"
	"schoolsync/internal/model"
	"schoolsync/internal/normalize"
	"schoolsync/internal/source"
)

// Report statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Report is the outcome of one run as handed to the scheduler, the history
// log and the CLI. A failed run carries Error and no Result.
type Report struct {
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Result     *Result   `json:"result,omitempty"`
}

// OK reports whether the run succeeded.
func (r Report) OK() bool {
	return r.Status == StatusSuccess
}

// JSON renders the report for humans and machines alike.
func (r Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// StoreFunc opens the destination for one run.
type StoreFunc func(ctx context.Context) (calendar.Store, error)

// ReportHook observes finished runs.
type ReportHook func(ctx context.Context, r Report)

// Runner wires a source, a destination and the orchestrator into one
// scoped run: connect, fetch, sync, close.
type Runner struct {
	Reader     source.Reader
	OpenStore  StoreFunc
	Normalizer *normalize.Normalizer
	Options    Options
	Hooks      []ReportHook
}

// Run executes one run. It never returns a partial result for a fatal
// error; the source session is closed on every path.
func (r *Runner) Run(ctx context.Context) Report {
	opts := r.Options.withDefaults()
	started := opts.Now()
	rep := Report{RunID: newRunID(), StartedAt: started}

	appLog.Info("sync run starting", "run_id", rep.RunID, "dry_run", opts.DryRun)
	res, err := r.run(ctx, opts)

	finished := opts.Now()
	rep.Timestamp = finished
	rep.DurationMS = finished.Sub(started).Milliseconds()
	if err != nil {
		rep.Status = StatusFailure
		rep.Error = err.Error()
		appLog.Error("sync run failed", err, "run_id", rep.RunID)
	} else {
		rep.Status = StatusSuccess
		rep.Result = &res
		appLog.Info("sync run finished",
			"run_id", rep.RunID,
			"homework_created", res.HomeworkCreated,
			"homework_updated", res.HomeworkUpdated,
			"homework_skipped", res.HomeworkSkipped,
			"exam_created", res.ExamCreated,
			"reminders_created", res.RemindersCreated,
			"duration_ms", rep.DurationMS,
		)
	}

	for _, h := range r.Hooks {
		h(ctx, rep)
	}
	return rep
}

func (r *Runner) run(ctx context.Context, opts Options) (Result, error) {
	if r.Reader == nil || r.OpenStore == nil {
		return Result{}, fmt.Errorf("%w: runner has no source or destination", ErrConfig)
	}

	store, err := r.OpenStore(ctx)
	if err != nil {
		return Result{}, classify("open calendar", err)
	}

	sess, err := r.Reader.Connect(ctx)
	if err != nil {
		return Result{}, classify("connect to portal", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			appLog.Warn("closing portal session failed", "err", cerr)
		}
	}()

	homework, exams, err := r.fetch(ctx, sess, opts)
	if err != nil {
		return Result{}, err
	}

	res := New(store, opts).Sync(ctx, homework, exams)
	return res, nil
}

func (r *Runner) fetch(ctx context.Context, sess source.Session, opts Options) ([]model.Assignment, []model.Assignment, error) {
	n := r.Normalizer
	if n == nil {
		n = normalize.New(nil)
	}

	from, to := opts.HomeworkRange()
	rawHomework, err := sess.Homework(ctx, source.Range{From: from, To: to})
	if err != nil {
		return nil, nil, classify("fetch homework", err)
	}
	homework := n.Homework(rawHomework)
	appLog.Info("fetched homework",
		"from", model.ISODate(from),
		"to", model.ISODate(to),
		"raw_count", len(rawHomework),
		"count", len(homework),
	)

	if !opts.ExamSyncEnabled {
		return homework, nil, nil
	}

	from, to = opts.ExamRange()
	rng := source.Range{From: from, To: to}
	evaluations, err := sess.Evaluations(ctx, rng)
	if err != nil {
		return nil, nil, classify("fetch evaluations", err)
	}
	grades, err := sess.Grades(ctx, rng)
	if err != nil {
		return nil, nil, classify("fetch grades", err)
	}
	exams := normalize.Dedup(
		n.Evaluations(evaluations),
		n.Grades(grades),
		n.TestsFromHomework(homework),
	)
	appLog.Info("fetched exams",
		"from", model.ISODate(from),
		"to", model.ISODate(to),
		"evaluations", len(evaluations),
		"grades", len(grades),
		"count", len(exams),
	)
	return homework, exams, nil
}

// classify maps adapter errors onto the fatal taxonomy.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, ErrConfig), errors.Is(err, ErrAuth), errors.Is(err, ErrFetch):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, source.ErrAuth), errors.Is(err, calendar.ErrAuth):
		return fmt.Errorf("%s: %w: %w", op, ErrAuth, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrFetch, err)
	}
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
