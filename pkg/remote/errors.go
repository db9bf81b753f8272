package remote

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotExist       = errors.New("file does not exist")
	ErrNoAuthMethod   = errors.New("no ssh authentication method configured")
	ErrUnsafeRemoval  = errors.New("refusing to remove path")
	ErrHostKeyMissing = errors.New("known_hosts file required unless insecure host keys are allowed")
)

// CommandError is returned when a command ran and exited non-zero, or could
// not be started.
type CommandError struct {
	Host     string
	Args     []string
	Output   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if len(out) > 512 {
		out = out[:512] + "..."
	}
	msg := fmt.Sprintf("%s: %s: %v", e.Host, strings.Join(e.Args, " "), e.Err)
	if out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitCode extracts the exit code of a failed command, or -1 when err is not
// a command failure.
func ExitCode(err error) int {
	var cerr *CommandError
	if errors.As(err, &cerr) {
		return cerr.ExitCode
	}
	return -1
}

// helper to isolate from transport-specific exit errors
func errToExitCode(err error) int {
	type exitCode interface{ ExitCode() int }
	type exitStatus interface{ ExitStatus() int }

	var ec exitCode
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	var es exitStatus
	if errors.As(err, &es) {
		return es.ExitStatus()
	}
	return -1
}

// checkRemovable refuses paths that can never be a data directory.
func checkRemovable(path string) error {
	clean := strings.TrimRight(path, "/")
	if clean == "" || !strings.HasPrefix(clean, "/") || strings.Count(clean, "/") < 2 {
		return fmt.Errorf("%w %q", ErrUnsafeRemoval, path)
	}
	return nil
}
