// Package fake provides a scripted remote.Host for tests.
package fake

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/dd0wney/cluso-pgha/pkg/remote"
)

// Host replays expected commands in order and keeps files in memory.
type Host struct {
	HostName string

	mu    sync.Mutex
	t     *testing.T
	files map[string][]byte
	cmds  []*ExpectedCmd
	next  int
}

var _ remote.Host = &Host{}

// New returns a Host that fails t if any expected command is left unexecuted.
func New(t *testing.T, name string) *Host {
	t.Helper()
	h := &Host{HostName: name, t: t, files: make(map[string][]byte)}
	t.Cleanup(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.next != len(h.cmds) {
			t.Errorf("%s: expected %d command executions, got %d", name, len(h.cmds), h.next)
		}
	})
	return h
}

// ExpectedCmd is one scripted command. A non-zero ExitCode turns the call
// into a *remote.CommandError.
type ExpectedCmd struct {
	Args     []string
	Stdin    []byte
	Output   []byte
	ExitCode int
}

// Cmd is a shorthand for a successful command with output.
func Cmd(output string, args ...string) *ExpectedCmd {
	return &ExpectedCmd{Args: args, Output: []byte(output)}
}

// Fail is a shorthand for a command exiting with code.
func Fail(code int, output string, args ...string) *ExpectedCmd {
	return &ExpectedCmd{Args: args, Output: []byte(output), ExitCode: code}
}

func (h *Host) ExpectCommands(cmds ...*ExpectedCmd) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cmds = append(h.cmds, cmds...)
}

// SetFile seeds a file.
func (h *Host) SetFile(path string, data string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[path] = []byte(data)
}

// File returns a file's content.
func (h *Host) File(path string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.files[path]
	return string(data), ok
}

func (h *Host) Name() string { return h.HostName }

func (h *Host) Run(ctx context.Context, argv ...string) ([]byte, error) {
	return h.RunWithInput(ctx, nil, argv...)
}

func (h *Host) RunWithInput(_ context.Context, stdin []byte, argv ...string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.next >= len(h.cmds) {
		h.t.Errorf("%s: unexpected command %q", h.HostName, strings.Join(argv, " "))
		return nil, &remote.CommandError{Host: h.HostName, Args: argv, ExitCode: 127, Err: fmt.Errorf("unexpected command")}
	}
	c := h.cmds[h.next]
	h.next++

	if !slices.Equal(c.Args, argv) {
		h.t.Errorf("%s: command %d = %q, want %q", h.HostName, h.next-1, argv, c.Args)
	}
	if c.Stdin != nil && string(c.Stdin) != string(stdin) {
		h.t.Errorf("%s: command %d stdin = %q, want %q", h.HostName, h.next-1, stdin, c.Stdin)
	}
	if c.ExitCode != 0 {
		return c.Output, &remote.CommandError{
			Host:     h.HostName,
			Args:     argv,
			Output:   string(c.Output),
			ExitCode: c.ExitCode,
			Err:      fmt.Errorf("exit status %d", c.ExitCode),
		}
	}
	return c.Output, nil
}

func (h *Host) ReadFile(_ context.Context, path string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.files[path]
	if !ok {
		return nil, remote.ErrNotExist
	}
	return slices.Clone(data), nil
}

func (h *Host) WriteFile(_ context.Context, path string, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[path] = slices.Clone(data)
	return nil
}

func (h *Host) Exists(_ context.Context, path string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prefix := strings.TrimRight(path, "/") + "/"
	for p := range h.files {
		if p == path || strings.HasPrefix(p, prefix) {
			return true, nil
		}
	}
	return false, nil
}

func (h *Host) RemoveAll(_ context.Context, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	prefix := strings.TrimRight(path, "/") + "/"
	for p := range h.files {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(h.files, p)
		}
	}
	return nil
}

func (h *Host) Close() error { return nil }
