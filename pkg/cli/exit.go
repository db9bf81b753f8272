package cli

import (
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-pgha/pkg/converge"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Convergence failed on some node or in verification
	ExitCommandError = 2 // Invalid config, flags or journal
	ExitLocked       = 3 // Another run holds the lock
	ExitRefused      = 4 // Refused before any change: topology or wrong primary
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// runError classifies an error returned by a convergence run or plan. A
// failure inside the primary's actions is never a refusal, whatever it wraps:
// earlier actions may already have changed the primary.
func runError(message string, err error) *ExitError {
	var (
		primErr  *converge.PrimaryPrerequisiteError
		topoErr  *converge.TopologyError
		wrongErr *converge.WrongPrimaryError
	)
	switch {
	case errors.As(err, &primErr):
		return WrapExitError(ExitFailure, message, err)
	case errors.As(err, &topoErr), errors.As(err, &wrongErr):
		return WrapExitError(ExitRefused, message, err)
	default:
		return WrapExitError(ExitFailure, message, err)
	}
}
