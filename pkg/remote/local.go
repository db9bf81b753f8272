package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

type cmd interface {
	CombinedOutput() ([]byte, error)
	SetStdin(io.Reader)
}

// overridable for testing purposes
var ExecCommandContext = func(ctx context.Context, name string, arg ...string) cmd {
	return (*execCmd)(exec.CommandContext(ctx, name, arg...))
}

// dummy decorator to isolate from [exec.Cmd] struct fields
type execCmd exec.Cmd

func (r *execCmd) CombinedOutput() ([]byte, error) { return (*exec.Cmd)(r).CombinedOutput() }
func (r *execCmd) SetStdin(in io.Reader)           { (*exec.Cmd)(r).Stdin = in }

// LocalHost runs commands on the machine the process runs on.
type LocalHost struct {
	name string
}

func NewLocalHost(name string) *LocalHost {
	return &LocalHost{name: name}
}

func (h *LocalHost) Name() string { return h.name }

func (h *LocalHost) Run(ctx context.Context, argv ...string) ([]byte, error) {
	return h.RunWithInput(ctx, nil, argv...)
}

func (h *LocalHost) RunWithInput(ctx context.Context, stdin []byte, argv ...string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	c := ExecCommandContext(ctx, argv[0], argv[1:]...)
	if stdin != nil {
		c.SetStdin(bytes.NewReader(stdin))
	}
	out, err := c.CombinedOutput()
	if err != nil {
		return out, &CommandError{
			Host:     h.name,
			Args:     argv,
			Output:   string(out),
			ExitCode: errToExitCode(err),
			Err:      err,
		}
	}
	return out, nil
}

func (h *LocalHost) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	return data, err
}

func (h *LocalHost) WriteFile(_ context.Context, path string, data []byte) error {
	st, err := os.Stat(path)
	if err == nil {
		// truncate in place so ownership survives
		return os.WriteFile(path, data, st.Mode().Perm())
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	return chownLikeParent(path)
}

// chownLikeParent hands a new file to the owner of its directory, so files
// created in a data directory stay readable by the engine.
func chownLikeParent(path string) error {
	st, err := os.Stat(filepath.Dir(path))
	if err != nil {
		return err
	}
	sys, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	return os.Chown(path, int(sys.Uid), int(sys.Gid))
}

func (h *LocalHost) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (h *LocalHost) RemoveAll(_ context.Context, path string) error {
	if err := checkRemovable(path); err != nil {
		return err
	}
	return os.RemoveAll(path)
}

func (h *LocalHost) Close() error { return nil }
