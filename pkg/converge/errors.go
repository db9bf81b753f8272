package converge

import (
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-pgha/pkg/topology"
)

// TopologyError is returned when the declared topology cannot be resolved.
type TopologyError = topology.Error

var (
	ErrManagedInstanceRunning = errors.New("cluster-managed instance is running")
	ErrMarkerNotCopied        = errors.New("sync marker missing after base backup")
	ErrNotConnected           = errors.New("node not connected")
)

// WrongPrimaryError means the declared primary is itself a standby. Nothing
// has been changed on any node when it is returned.
type WrongPrimaryError struct {
	Node string
}

func (e *WrongPrimaryError) Error() string {
	return fmt.Sprintf("declared primary %s is in recovery", e.Node)
}

// ProbeDegradation is a probe failure that was turned into a conservative
// fact. It is logged and reported as a warning, never returned.
type ProbeDegradation struct {
	Node  string
	Probe string
	Err   error
}

func (e *ProbeDegradation) Error() string {
	return fmt.Sprintf("%s: probe %s degraded to false: %v", e.Node, e.Probe, e.Err)
}

func (e *ProbeDegradation) Unwrap() error { return e.Err }

// ResyncFailure leaves the replica without a data directory; the next run
// retries from scratch.
type ResyncFailure struct {
	Node string
	Err  error
}

func (e *ResyncFailure) Error() string {
	return fmt.Sprintf("%s: resync failed: %v", e.Node, e.Err)
}

func (e *ResyncFailure) Unwrap() error { return e.Err }

// ConfigMutationFailure is a failed read or write of a configuration file.
type ConfigMutationFailure struct {
	Node string
	Path string
	Err  error
}

func (e *ConfigMutationFailure) Error() string {
	return fmt.Sprintf("%s: updating %s: %v", e.Node, e.Path, e.Err)
}

func (e *ConfigMutationFailure) Unwrap() error { return e.Err }

// VerificationTimeout means replicas were brought up but the primary never
// saw all of them streaming.
type VerificationTimeout struct {
	Want     int
	Got      int
	Attempts uint
	Err      error
}

func (e *VerificationTimeout) Error() string {
	msg := fmt.Sprintf("replication not established: %d of %d replicas streaming after %d polls", e.Got, e.Want, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VerificationTimeout) Unwrap() error { return e.Err }

// PrimaryPrerequisiteError wraps any failure on the primary before the
// barrier. No replica is touched once it occurs.
type PrimaryPrerequisiteError struct {
	Node string
	Step string
	Err  error
}

func (e *PrimaryPrerequisiteError) Error() string {
	return fmt.Sprintf("primary %s: %s: %v", e.Node, e.Step, e.Err)
}

func (e *PrimaryPrerequisiteError) Unwrap() error { return e.Err }
