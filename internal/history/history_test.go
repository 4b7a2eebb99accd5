package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolsync/internal/syncer"
)

var base = time.Date(2025, 3, 1, 5, 0, 0, 0, time.UTC)

func report(n int, ok bool) syncer.Report {
	started := base.Add(time.Duration(n) * time.Hour)
	r := syncer.Report{
		RunID:      fmt.Sprintf("run-%02d", n),
		StartedAt:  started,
		Timestamp:  started.Add(1500 * time.Millisecond),
		DurationMS: 1500,
	}
	if ok {
		r.Status = syncer.StatusSuccess
		r.Result = &syncer.Result{
			HomeworkCreated:  2,
			ExamCreated:      1,
			RemindersCreated: 7,
			RemindersFailed:  1,
			TotalHomework:    3,
			TotalExams:       1,
			TotalCreated:     10,
			Timestamp:        r.Timestamp,
		}
	} else {
		r.Status = syncer.StatusFailure
		r.Error = "connect to portal: authentication failed"
	}
	return r
}

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "var", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Append(ctx, report(i, i != 2)))
	}

	runs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"run-03", "run-02", "run-01"},
		[]string{runs[0].RunID, runs[1].RunID, runs[2].RunID})

	assert.Equal(t, report(3, true), runs[0])
	assert.Equal(t, report(2, false), runs[1])
	assert.Nil(t, runs[1].Result)
}

func TestRecentLimit(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	for i := 1; i <= 25; i++ {
		require.NoError(t, s.Append(ctx, report(i, true)))
	}

	runs, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, DefaultLimit)
}

func TestLatest(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	_, err := s.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoRuns)

	require.NoError(t, s.Append(ctx, report(1, true)))
	require.NoError(t, s.Append(ctx, report(2, false)))

	r, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-02", r.RunID)
	assert.False(t, r.OK())
}

func TestAppendDuplicateRunID(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	require.NoError(t, s.Append(ctx, report(1, true)))
	assert.Error(t, s.Append(ctx, report(1, true)))
}

func TestReopenKeepsRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, report(1, true)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	r, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-01", r.RunID)
}

func TestHook(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Hook()(ctx, report(4, true))

	r, err := s.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-04", r.RunID)
}
