package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initReplicationMetrics() {
	r.ReplicationExpectedReplicas = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "pgha_replication_expected_replicas",
			Help: "Number of replicas the primary should be streaming to",
		},
	)

	r.ReplicationConnectedReplicas = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "pgha_replication_connected_replicas",
			Help: "Number of streaming replicas seen at the last verification",
		},
	)

	r.VerifyPollsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "pgha_verify_polls_total",
			Help: "Total number of replication verification polls",
		},
	)

	r.VerifyFailuresTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "pgha_verify_failures_total",
			Help: "Total number of runs whose replication verification timed out",
		},
	)
}
