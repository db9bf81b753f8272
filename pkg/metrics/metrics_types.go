package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// Run Metrics
	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	LastRunTimestamp   prometheus.Gauge
	LastRunSuccess     prometheus.Gauge
	ConvergenceChanges prometheus.Counter

	// Node Metrics
	NodeOutcomesTotal *prometheus.CounterVec
	NodeState         *prometheus.GaugeVec
	ActionsTotal      *prometheus.CounterVec
	NodeWarningsTotal *prometheus.CounterVec

	// Replication Metrics
	ReplicationExpectedReplicas  prometheus.Gauge
	ReplicationConnectedReplicas prometheus.Gauge
	VerifyPollsTotal             prometheus.Counter
	VerifyFailuresTotal          prometheus.Counter

	registry *prometheus.Registry
	mu       sync.Mutex
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initRunMetrics()
	r.initNodeMetrics()
	r.initReplicationMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
