package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// acquireLock takes the run lock at path, failing at once when another run
// holds it.
func acquireLock(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create lock directory", err)
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if !locked {
		msg := "possibly another run is in progress"
		if err != nil {
			msg = err.Error()
		}
		return nil, NewExitError(ExitLocked, fmt.Sprintf("failed to acquire lock on %s: %s", path, msg))
	}
	return func() { _ = fl.Unlock() }, nil
}
