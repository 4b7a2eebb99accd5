// Package metrics exposes sync run counters in the Prometheus text format.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schoolsync/internal/syncer"
)

const namespace = "schoolsync"

// Metrics holds the collectors on a private registry so tests and multiple
// instances never collide on the default one.
type Metrics struct {
	reg *prometheus.Registry

	// RunsTotal counts runs. Labels: status (success, failure).
	RunsTotal *prometheus.CounterVec

	// EventsTotal counts per-item outcomes.
	// Labels: kind (homework, exam, reminder), action (created, updated, skipped, failed).
	EventsTotal *prometheus.CounterVec

	// LastRunTimestamp is the finish time of the latest run, by status.
	LastRunTimestamp *prometheus.GaugeVec

	RunDuration prometheus.Histogram
}

// New registers the collectors, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Sync runs by final status",
		}, []string{"status"}),
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Calendar event outcomes by kind and action",
		}, []string{"kind", "action"}),
		LastRunTimestamp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished, by status",
		}, []string{"status"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of sync runs",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
	}
}

// Observe records one finished run.
func (m *Metrics) Observe(r syncer.Report) {
	m.RunsTotal.WithLabelValues(r.Status).Inc()
	m.LastRunTimestamp.WithLabelValues(r.Status).Set(float64(r.Timestamp.Unix()))
	m.RunDuration.Observe(float64(r.DurationMS) / 1000)

	res := r.Result
	if res == nil {
		return
	}
	m.add("homework", "created", res.HomeworkCreated)
	m.add("homework", "updated", res.HomeworkUpdated)
	m.add("homework", "skipped", res.HomeworkSkipped)
	m.add("homework", "failed", res.HomeworkFailed)
	m.add("exam", "created", res.ExamCreated)
	m.add("exam", "updated", res.ExamUpdated)
	m.add("exam", "skipped", res.ExamSkipped)
	m.add("exam", "failed", res.ExamFailed)
	m.add("reminder", "created", res.RemindersCreated)
	m.add("reminder", "skipped", res.RemindersSkipped)
	m.add("reminder", "failed", res.RemindersFailed)
}

func (m *Metrics) add(kind, action string, n int) {
	c := m.EventsTotal.WithLabelValues(kind, action)
	if n > 0 {
		c.Add(float64(n))
	}
}

// Hook adapts Observe to a run hook.
func (m *Metrics) Hook() syncer.ReportHook {
	return func(_ context.Context, r syncer.Report) { m.Observe(r) }
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}
