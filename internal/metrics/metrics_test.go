package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolsync/internal/syncer"
)

var finished = time.Date(2025, 3, 1, 6, 0, 2, 0, time.UTC)

func TestObserveSuccess(t *testing.T) {
	m := New()
	m.Observe(syncer.Report{
		Status:     syncer.StatusSuccess,
		Timestamp:  finished,
		DurationMS: 2000,
		Result: &syncer.Result{
			HomeworkCreated:  3,
			HomeworkSkipped:  4,
			ExamCreated:      1,
			RemindersCreated: 7,
			RemindersFailed:  1,
		},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("homework", "created")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("homework", "skipped")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("exam", "updated")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("reminder", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("reminder", "failed")))
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(m.LastRunTimestamp.WithLabelValues("success")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RunDuration))
}

func TestObserveFailure(t *testing.T) {
	m := New()
	m.Observe(syncer.Report{Status: syncer.StatusFailure, Timestamp: finished, Error: "boom"})
	m.Observe(syncer.Report{Status: syncer.StatusFailure, Timestamp: finished})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("failure")))
	assert.Equal(t, 0, testutil.CollectAndCount(m.EventsTotal))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Hook()(t.Context(), syncer.Report{Status: syncer.StatusSuccess, Timestamp: finished, Result: &syncer.Result{}})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `schoolsync_runs_total{status="success"} 1`), text)
	assert.Contains(t, text, "schoolsync_run_duration_seconds_bucket")
	assert.Contains(t, text, "go_goroutines")
}
