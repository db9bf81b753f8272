package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-pgha/pkg/config"
	"github.com/dd0wney/cluso-pgha/pkg/converge"
	"github.com/dd0wney/cluso-pgha/pkg/journal"
	"github.com/dd0wney/cluso-pgha/pkg/logging"
	"github.com/dd0wney/cluso-pgha/pkg/topology"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	doc := fmt.Sprintf(`
cluster_name: pgha
primary: db1
floating_address: 10.0.0.100
nodes:
  - {name: db1, address: 10.0.0.1, local: true}
  - {name: db2, address: 10.0.0.2, local: true}
replication:
  user: replicator
  password: secret
lock_file: %s
journal_path: %s
metrics_file: %s
`, filepath.Join(dir, "pgha.lock"), filepath.Join(dir, "journal.db"), filepath.Join(dir, "pgha.prom"))
	path := filepath.Join(dir, "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

// execute runs the root command with opts and returns stdout and the error.
func execute(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(opts)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// unreachable is a Connect override under which no node answers.
func unreachable(calls *atomic.Int32) func(*config.Config, logging.Logger) converge.ConnectFunc {
	return func(*config.Config, logging.Logger) converge.ConnectFunc {
		return func(_ context.Context, n topology.Node) (*converge.Handle, error) {
			calls.Add(1)
			return nil, fmt.Errorf("dial %s: connection refused", n.Address)
		}
	}
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "pgha", cmd.Use)
	assert.Contains(t, cmd.Long, "Pacemaker")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"converge", "plan", "status", "bind", "history", "validate"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	cmd := NewRootCommand()

	cfgFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfgFlag)
	assert.Equal(t, "c", cfgFlag.Shorthand)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	levelFlag := cmd.PersistentFlags().Lookup("log-level")
	require.NotNil(t, levelFlag)
	assert.Equal(t, "debug", levelFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	path := writeConfig(t, t.TempDir())
	_, err := execute(t, &RootOptions{}, "validate", "-c", path, "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, t.TempDir())
	out, err := execute(t, &RootOptions{}, "validate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "cluster pgha, 2 nodes, primary db1")
}

func TestValidateBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cluster_name: pgha\n"), 0o600))

	_, err := execute(t, &RootOptions{}, "validate", "-c", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid config")
}

func TestConvergeUnknownPrimaryRefused(t *testing.T) {
	path := writeConfig(t, t.TempDir())
	var calls atomic.Int32

	_, err := execute(t, &RootOptions{Connect: unreachable(&calls)}, "converge", "-c", path, "--primary", "db9")
	require.Error(t, err)
	assert.Equal(t, ExitRefused, GetExitCode(err))
	assert.Zero(t, calls.Load(), "no node may be contacted before the topology resolves")
}

func TestConvergeUnreachablePrimary(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)
	var calls atomic.Int32

	out, err := execute(t, &RootOptions{Connect: unreachable(&calls)}, "converge", "-c", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	var prereq *converge.PrimaryPrerequisiteError
	assert.ErrorAs(t, err, &prereq)
	assert.Contains(t, out, "run failed")

	j, err := journal.Open(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	defer j.Close()
	runs, err := j.Recent(context.Background(), "pgha", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Succeeded)

	prom, err := os.ReadFile(filepath.Join(dir, "pgha.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), `pgha_runs_total{outcome="failure"} 1`)
}

func TestConvergeNoJournal(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)
	var calls atomic.Int32

	_, err := execute(t, &RootOptions{Connect: unreachable(&calls)}, "converge", "-c", path, "--no-journal")
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "journal.db"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestConvergeLocked(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)

	held := flock.New(filepath.Join(dir, "pgha.lock"))
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer held.Unlock()

	var calls atomic.Int32
	_, err = execute(t, &RootOptions{Connect: unreachable(&calls)}, "converge", "-c", path)
	require.Error(t, err)
	assert.Equal(t, ExitLocked, GetExitCode(err))
	assert.Zero(t, calls.Load())
}

func TestPlanJSONWithProbeErrors(t *testing.T) {
	path := writeConfig(t, t.TempDir())
	var calls atomic.Int32

	out, err := execute(t, &RootOptions{Connect: unreachable(&calls)}, "plan", "-c", path, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `"probe_errors"`)
	assert.Contains(t, out, "connection refused")
	assert.Equal(t, int32(2), calls.Load())
}

func TestHistory(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)

	j, err := journal.Open(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	require.NoError(t, j.Record(context.Background(), &converge.Report{RunID: "run-abc", Cluster: "pgha", Primary: "db1"}))
	require.NoError(t, j.Record(context.Background(), &converge.Report{RunID: "run-other", Cluster: "other", Primary: "x"}))
	require.NoError(t, j.Close())

	out, err := execute(t, &RootOptions{}, "history", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "run-abc")
	assert.NotContains(t, out, "run-other")

	out, err = execute(t, &RootOptions{}, "history", "-c", path, "--all-clusters")
	require.NoError(t, err)
	assert.Contains(t, out, "run-other")

	out, err = execute(t, &RootOptions{}, "history", "-c", path, "run-abc", "--format", "json")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "["))

	_, err = execute(t, &RootOptions{}, "history", "-c", path, "run-missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, journal.ErrRunNotFound)
}

func TestConnectorLocalNode(t *testing.T) {
	path := writeConfig(t, t.TempDir())
	cfg, err := config.Load(path)
	require.NoError(t, err)

	connect := Connector(cfg, logging.NewNopLogger())
	h, err := connect(context.Background(), topology.Node{Name: "db2", Address: "10.0.0.2"})
	require.NoError(t, err)
	assert.NotNil(t, h.Files)
	assert.NotNil(t, h.Service)
	assert.NotNil(t, h.Engine)
	assert.NotNil(t, h.Resources)
	assert.NotNil(t, h.Packages)
	assert.Equal(t, "/var/lib/pgsql/16/data", h.Engine.DataDir())
	assert.NoError(t, h.Close())

	_, err = connect(context.Background(), topology.Node{Name: "db9"})
	assert.Error(t, err)
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitLocked, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitLocked, "locked"))))

	assert.Equal(t, ExitRefused, runError("x", &converge.WrongPrimaryError{Node: "db1"}).Code)
	assert.Equal(t, ExitRefused, runError("x", fmt.Errorf("resolve: %w", &converge.TopologyError{})).Code)
	assert.Equal(t, ExitFailure, runError("x", &converge.PrimaryPrerequisiteError{Node: "db1", Step: "probe", Err: errors.New("boom")}).Code)

	// the primary turned out to be a standby only after its config was written
	confirmed := &converge.PrimaryPrerequisiteError{Node: "db1", Step: "ConfirmPrimary()", Err: &converge.WrongPrimaryError{Node: "db1"}}
	assert.Equal(t, ExitFailure, runError("x", confirmed).Code)
	assert.Equal(t, ExitFailure, runError("x", fmt.Errorf("run: %w", confirmed)).Code)
}

func TestExecute(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Execute(context.Background(), []string{"validate", "-c", filepath.Join(t.TempDir(), "absent.yaml")}, &out, &errOut)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, errOut.String(), "pgha: invalid config")
}
