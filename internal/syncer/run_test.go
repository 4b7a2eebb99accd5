package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolsync/internal/calendar"
	"schoolsync/internal/source"
)

type fakeSession struct {
	source.StateGuard

	homework    []source.Homework
	evaluations []source.Evaluation
	grades      []source.Grade
	gradesErr   error

	ranges []source.Range
	closes int
}

func (s *fakeSession) Homework(_ context.Context, r source.Range) ([]source.Homework, error) {
	if err := s.Check(); err != nil {
		return nil, err
	}
	s.ranges = append(s.ranges, r)
	return s.homework, nil
}

func (s *fakeSession) Evaluations(_ context.Context, r source.Range) ([]source.Evaluation, error) {
	if err := s.Check(); err != nil {
		return nil, err
	}
	s.ranges = append(s.ranges, r)
	return s.evaluations, nil
}

func (s *fakeSession) Grades(_ context.Context, r source.Range) ([]source.Grade, error) {
	if err := s.Check(); err != nil {
		return nil, err
	}
	s.ranges = append(s.ranges, r)
	return s.grades, s.gradesErr
}

func (s *fakeSession) Close() error {
	s.closes++
	s.Release()
	return nil
}

type fakeReader struct {
	sess       *fakeSession
	connectErr error
	connects   int
}

func (f *fakeReader) Connect(context.Context) (source.Session, error) {
	f.connects++
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	f.sess.Open()
	return f.sess, nil
}

func newTestRunner(sess *fakeSession, store calendar.Store) (*Runner, *fakeReader) {
	reader := &fakeReader{sess: sess}
	return &Runner{
		Reader: reader,
		OpenStore: func(context.Context) (calendar.Store, error) {
			return store, nil
		},
		Options: testOptions(),
	}, reader
}

func TestRunSuccessClosesSession(t *testing.T) {
	sess := &fakeSession{
		homework: []source.Homework{
			{Subject: "Maths", Description: "Exercice 4", Date: day(5)},
			{Subject: "SVT", Description: "Contrôle sur la cellule", Date: day(6)},
			{Subject: "Histoire", Description: "Sans date"},
		},
		evaluations: []source.Evaluation{
			{Subject: "Physique", Name: "Optique", Date: day(20)},
		},
		grades: []source.Grade{
			{Subject: "Français", Comment: "Dictée", Date: day(1).AddDate(0, 0, -10), Coefficient: "1"},
		},
	}
	store := calendar.NewMemoryStore(fixedNow)
	runner, _ := newTestRunner(sess, store)

	var hooked []Report
	runner.Hooks = append(runner.Hooks, func(_ context.Context, r Report) { hooked = append(hooked, r) })

	rep := runner.Run(context.Background())
	require.True(t, rep.OK(), rep.Error)
	require.NotNil(t, rep.Result)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 1, sess.closes)
	assert.Equal(t, source.Disconnected, sess.State())

	res := rep.Result
	assert.Equal(t, 2, res.TotalHomework, "undated homework is dropped")
	assert.Equal(t, 2, res.HomeworkCreated)
	// The evaluation plus the test found in homework; the low-coefficient
	// grade without a test keyword is not an exam.
	assert.Equal(t, 2, res.TotalExams)
	assert.Equal(t, 2, res.ExamCreated)
	// Seven before the evaluation, five before the test due on the 6th.
	assert.Equal(t, 12, res.RemindersCreated)
	assert.Equal(t, testNow, res.Timestamp)

	require.Len(t, hooked, 1)
	assert.Equal(t, rep.RunID, hooked[0].RunID)
}

func TestRunFetchWindows(t *testing.T) {
	sess := &fakeSession{}
	runner, _ := newTestRunner(sess, calendar.NewMemoryStore(fixedNow))

	rep := runner.Run(context.Background())
	require.True(t, rep.OK())
	require.Len(t, sess.ranges, 3)

	assert.Equal(t, source.Range{From: day(1), To: day(31)}, sess.ranges[0])
	examRange := source.Range{From: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), To: day(31)}
	assert.Equal(t, examRange, sess.ranges[1])
	assert.Equal(t, examRange, sess.ranges[2])
}

func TestRunSkipsExamFetchWhenDisabled(t *testing.T) {
	sess := &fakeSession{gradesErr: errors.New("must not be called")}
	runner, _ := newTestRunner(sess, calendar.NewMemoryStore(fixedNow))
	runner.Options.ExamSyncEnabled = false

	rep := runner.Run(context.Background())
	require.True(t, rep.OK(), rep.Error)
	assert.Len(t, sess.ranges, 1)
}

func TestRunFetchErrorIsFatal(t *testing.T) {
	sess := &fakeSession{
		homework:  []source.Homework{{Subject: "Maths", Description: "Exercice 4", Date: day(5)}},
		gradesErr: errors.New("connection reset"),
	}
	store := calendar.NewMemoryStore(fixedNow)
	runner, _ := newTestRunner(sess, store)

	rep := runner.Run(context.Background())
	assert.False(t, rep.OK())
	assert.Equal(t, StatusFailure, rep.Status)
	assert.Nil(t, rep.Result, "no partial result on fatal error")
	assert.Contains(t, rep.Error, "fetch grades")
	assert.Contains(t, rep.Error, "connection reset")
	assert.Equal(t, 1, sess.closes)
	assert.Zero(t, store.Len())
}

func TestRunConnectFailure(t *testing.T) {
	sess := &fakeSession{}
	runner, reader := newTestRunner(sess, calendar.NewMemoryStore(fixedNow))
	reader.connectErr = fmt.Errorf("login rejected: %w", source.ErrAuth)

	rep := runner.Run(context.Background())
	assert.False(t, rep.OK())
	assert.Contains(t, rep.Error, ErrAuth.Error())
	assert.Zero(t, sess.closes, "nothing to close when connect fails")
}

func TestRunStoreFailureSkipsConnect(t *testing.T) {
	sess := &fakeSession{}
	runner, reader := newTestRunner(sess, nil)
	runner.OpenStore = func(context.Context) (calendar.Store, error) {
		return nil, fmt.Errorf("probe: %w", calendar.ErrAuth)
	}

	rep := runner.Run(context.Background())
	assert.False(t, rep.OK())
	assert.Contains(t, rep.Error, "open calendar")
	assert.Zero(t, reader.connects)
}

func TestRunWithoutCollaborators(t *testing.T) {
	rep := (&Runner{Options: testOptions()}).Run(context.Background())
	assert.False(t, rep.OK())
	assert.Contains(t, rep.Error, ErrConfig.Error())
}

func TestClassifyErrors(t *testing.T) {
	assert.ErrorIs(t, classify("connect", fmt.Errorf("x: %w", source.ErrAuth)), ErrAuth)
	assert.ErrorIs(t, classify("open", calendar.ErrAuth), ErrAuth)
	assert.ErrorIs(t, classify("open", calendar.ErrAuth), calendar.ErrAuth)
	assert.ErrorIs(t, classify("fetch", errors.New("eof")), ErrFetch)
	assert.ErrorIs(t, classify("cfg", ErrConfig), ErrConfig)
}

func TestReportJSON(t *testing.T) {
	started := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	finished := started.Add(1500 * time.Millisecond)

	success := Report{
		RunID:      "0195510a-8f00-7000-8000-000000000001",
		Status:     StatusSuccess,
		Timestamp:  finished,
		StartedAt:  started,
		DurationMS: 1500,
		Result: &Result{
			HomeworkCreated:  2,
			HomeworkSkipped:  5,
			ExamCreated:      1,
			RemindersCreated: 7,
			TotalHomework:    7,
			TotalExams:       1,
			TotalCreated:     10,
			Timestamp:        finished,
		},
	}
	failure := Report{
		RunID:      "0195510a-8f00-7000-8000-000000000002",
		Status:     StatusFailure,
		Error:      "connect to portal: authentication error: source: authentication failed",
		Timestamp:  finished,
		StartedAt:  started,
		DurationMS: 1500,
	}

	g := goldie.New(t)
	for name, rep := range map[string]Report{"report_success": success, "report_failure": failure} {
		data, err := rep.JSON()
		require.NoError(t, err)
		g.Assert(t, name, data)
	}
}
