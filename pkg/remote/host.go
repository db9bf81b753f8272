package remote

import (
	"context"
)

// Host is a machine commands can be run on.
type Host interface {
	// Name identifies the host in logs and errors.
	Name() string
	// Run executes argv and returns its combined output.
	Run(ctx context.Context, argv ...string) ([]byte, error)
	// RunWithInput executes argv with stdin attached.
	RunWithInput(ctx context.Context, stdin []byte, argv ...string) ([]byte, error)

	ReadFile(ctx context.Context, path string) ([]byte, error)
	// WriteFile replaces the content of path, keeping its owner and mode when it
	// exists. New files are private to the owner of their directory.
	WriteFile(ctx context.Context, path string, data []byte) error
	Exists(ctx context.Context, path string) (bool, error)
	RemoveAll(ctx context.Context, path string) error

	Close() error
}
