package converge

import (
	"errors"
	"time"
)

// NodeReport is the outcome of a run on one node.
type NodeReport struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Role    string `json:"role"`

	Initial State `json:"initial_state"`
	// State is the last state reached; on failure, where to resume from.
	State  State `json:"state"`
	Failed bool  `json:"failed"`

	Actions  []string `json:"actions,omitempty"`
	Changes  []string `json:"changes,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

func (n *NodeReport) fail(err error) {
	n.Failed = true
	n.Err = err
	n.Error = err.Error()
}

// Report is the outcome of one convergence run.
type Report struct {
	RunID    string    `json:"run_id"`
	Cluster  string    `json:"cluster"`
	Primary  string    `json:"primary"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	Nodes []*NodeReport `json:"nodes"`

	Verified        bool `json:"verified"`
	ExpectedStreams int  `json:"expected_replicas"`
	Streaming       int  `json:"streaming_replicas"`
	VerifyPolls     int  `json:"verify_polls"`

	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

func (r *Report) Node(name string) *NodeReport {
	for _, n := range r.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// Changes counts changes made across all nodes.
func (r *Report) Changes() int {
	total := 0
	for _, n := range r.Nodes {
		total += len(n.Changes)
	}
	return total
}

// Succeeded reports a run with no error on any node or in verification.
func (r *Report) Succeeded() bool {
	return r.Err == nil
}

func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

func (r *Report) finish(errs ...error) error {
	r.Finished = time.Now()
	r.Err = errors.Join(errs...)
	if r.Err != nil {
		r.Error = r.Err.Error()
	}
	return r.Err
}
