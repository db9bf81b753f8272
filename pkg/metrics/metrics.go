package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dd0wney/cluso-pgha/pkg/converge"
)

// ObserveRun records the outcome of a convergence run
func (r *Registry) ObserveRun(report *converge.Report) {
	if report == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	outcome := "success"
	if !report.Succeeded() {
		outcome = "failure"
	}
	r.RunsTotal.WithLabelValues(outcome).Inc()
	if !report.Finished.IsZero() {
		r.RunDuration.Observe(report.Duration().Seconds())
		r.LastRunTimestamp.Set(float64(report.Finished.Unix()))
	}
	if report.Succeeded() {
		r.LastRunSuccess.Set(1)
	} else {
		r.LastRunSuccess.Set(0)
	}
	r.ConvergenceChanges.Add(float64(report.Changes()))

	// Reset so nodes dropped from the topology disappear
	r.NodeState.Reset()
	for _, n := range report.Nodes {
		r.NodeOutcomesTotal.WithLabelValues(n.Role, n.State.String(), strconv.FormatBool(n.Failed)).Inc()
		r.NodeState.WithLabelValues(n.Name, n.State.String()).Set(1)
		for _, a := range n.Actions {
			r.ActionsTotal.WithLabelValues(ActionKind(a)).Inc()
		}
		if len(n.Warnings) > 0 {
			r.NodeWarningsTotal.WithLabelValues(n.Name).Add(float64(len(n.Warnings)))
		}
	}

	r.ReplicationExpectedReplicas.Set(float64(report.ExpectedStreams))
	if report.VerifyPolls > 0 {
		r.VerifyPollsTotal.Add(float64(report.VerifyPolls))
		r.ReplicationConnectedReplicas.Set(float64(report.Streaming))
	}
	var timeout *converge.VerificationTimeout
	if errors.As(report.Err, &timeout) {
		r.VerifyFailuresTotal.Inc()
	}
}

// ActionKind returns the name of a rendered action, "Resync" for
// "Resync(dir=..., from=...)".
func ActionKind(action string) string {
	if i := strings.IndexByte(action, '('); i > 0 {
		return action[:i]
	}
	return action
}

// WriteTextfile writes every metric to path in the node_exporter textfile
// format.
func (r *Registry) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
