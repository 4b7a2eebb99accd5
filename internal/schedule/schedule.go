// Package schedule runs sync jobs on a cron expression and on demand, never
// more than one at a time.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "schoolsync/internal/log"
	"schoolsync/internal/syncer"
)

// ErrBusy is returned by TriggerNow while another run is in flight.
var ErrBusy = errors.New("schedule: a sync run is already in progress")

// Job performs one run.
type Job func(ctx context.Context) syncer.Report

// Scheduler owns the cron loop.
type Scheduler struct {
	spec string
	job  Job
	cron *cron.Cron

	running sync.Mutex

	mu      sync.Mutex
	ctx     context.Context
	entryID cron.EntryID
	last    *syncer.Report
}

// New parses spec (standard 5 fields or a descriptor such as "@hourly")
// evaluated in loc.
func New(spec string, loc *time.Location, job Job) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("schedule: job is nil")
	}
	if loc == nil {
		loc = time.Local
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("schedule: bad cron expression %q: %w", spec, err)
	}

	logger := cronLogger{}
	s := &Scheduler{
		spec: spec,
		job:  job,
		ctx:  context.Background(),
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
	}
	id, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return nil, fmt.Errorf("schedule: register job: %w", err)
	}
	s.entryID = id
	return s, nil
}

// Start begins firing. ctx is handed to every scheduled run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	appLog.Info("scheduler started", "schedule", s.spec, "next", s.Next())
}

// Stop halts the loop and waits for an in-flight run to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		appLog.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TriggerNow runs the job synchronously unless a run is in flight.
func (s *Scheduler) TriggerNow(ctx context.Context) (syncer.Report, error) {
	if !s.running.TryLock() {
		return syncer.Report{}, ErrBusy
	}
	defer s.running.Unlock()
	return s.execute(ctx), nil
}

// Next is the next scheduled fire time, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// Last is the report of the latest run started by this scheduler.
func (s *Scheduler) Last() (syncer.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return syncer.Report{}, false
	}
	return *s.last, true
}

func (s *Scheduler) tick() {
	if !s.running.TryLock() {
		appLog.Warn("skipping scheduled run; previous run still in progress")
		return
	}
	defer s.running.Unlock()

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	s.execute(ctx)
}

func (s *Scheduler) execute(ctx context.Context) syncer.Report {
	rep := s.job(ctx)
	s.mu.Lock()
	s.last = &rep
	s.mu.Unlock()
	return rep
}

// cronLogger routes cron's own messages to the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
