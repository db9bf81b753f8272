package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initRunMetrics() {
	r.RunsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgha_runs_total",
			Help: "Total number of convergence runs",
		},
		[]string{"outcome"}, // success, failure
	)

	r.RunDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgha_run_duration_seconds",
			Help:    "Convergence run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	r.LastRunTimestamp = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "pgha_last_run_timestamp_seconds",
			Help: "Unix time the last convergence run finished",
		},
	)

	r.LastRunSuccess = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "pgha_last_run_success",
			Help: "Whether the last convergence run succeeded (1) or failed (0)",
		},
	)

	r.ConvergenceChanges = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "pgha_changes_total",
			Help: "Total number of changes made to nodes",
		},
	)
}
