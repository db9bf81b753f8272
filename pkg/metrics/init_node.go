package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initNodeMetrics() {
	r.NodeOutcomesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgha_node_outcomes_total",
			Help: "Node outcomes by role and final state",
		},
		[]string{"role", "state", "failed"},
	)

	r.NodeState = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pgha_node_state",
			Help: "State each node reached in the last run (1 for the current state)",
		},
		[]string{"node", "state"},
	)

	r.ActionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgha_actions_total",
			Help: "Total number of actions executed by kind",
		},
		[]string{"action"},
	)

	r.NodeWarningsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgha_node_warnings_total",
			Help: "Total number of warnings raised per node",
		},
		[]string{"node"},
	)
}
