package converge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dd0wney/cluso-pgha/pkg/pgconf"
	"github.com/dd0wney/cluso-pgha/pkg/pgctl"
	"github.com/dd0wney/cluso-pgha/pkg/pkgmgr"
	"github.com/dd0wney/cluso-pgha/pkg/remote"
	"github.com/dd0wney/cluso-pgha/pkg/topology"
)

const (
	simDataDir     = "/var/lib/pgsql/16/data"
	simVIP         = "10.0.0.100"
	simClusterName = "pgha"
)

const simRuntimeTemplate = `# PostgreSQL configuration file
#listen_addresses = 'localhost'		# what IP address(es) to listen on;
port = 5432
#wal_level = replica			# minimal, replica, or logical
#max_wal_senders = 10		# max number of walsender processes
#hot_standby = on			# "off" disallows queries during recovery
`

const simAccessTemplate = `# TYPE  DATABASE        USER            ADDRESS                 METHOD
local   all             all                                     peer
host    all             all             127.0.0.1/32            scram-sha-256
`

// settings a running sim engine only picks up when it is restarted
var simRestartOnly = []string{"hot_standby", "listen_addresses", "max_wal_senders", "port", "wal_level"}

// simActive returns the value of the last uncommented line setting key.
func simActive(conf, key string) string {
	val := ""
	for _, line := range strings.Split(conf, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(k) != key {
			continue
		}
		v, _, _ = strings.Cut(v, "#")
		val = strings.TrimSpace(v)
	}
	return val
}

// simCluster is an in-memory set of nodes whose engines replicate by copying
// each other's files.
type simCluster struct {
	mu    sync.Mutex
	nodes map[string]*simNode
	// node currently holding the floating address
	vipHolder string
}

type simNode struct {
	c       *simCluster
	name    string
	address string

	files     map[string][]byte
	running   bool
	managed   bool
	installed bool
	roles     map[string]string

	// postgresql.conf as of the last start and the last reload
	startedConf string
	loadedConf  string

	// fault injection
	runningErr    error
	constraintErr error
	initDBErr     error
	baseBackupErr error
	notStreaming  bool
	markerReadErr error

	mutations    []string
	connectCount int
	closeCount   int
}

func newSimCluster(names ...string) *simCluster {
	c := &simCluster{nodes: make(map[string]*simNode)}
	for i, name := range names {
		c.nodes[name] = &simNode{
			c:         c,
			name:      name,
			address:   fmt.Sprintf("10.0.0.%d", i+1),
			files:     make(map[string][]byte),
			installed: true,
			roles:     make(map[string]string),
		}
	}
	return c
}

func (c *simCluster) node(name string) *simNode { return c.nodes[name] }

func (c *simCluster) topology(names ...string) []topology.Node {
	out := make([]topology.Node, 0, len(names))
	for _, name := range names {
		out = append(out, topology.Node{Name: name, Address: c.nodes[name].address})
	}
	return out
}

func (c *simCluster) connect(_ context.Context, n topology.Node) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sn, ok := c.nodes[n.Name]
	if !ok {
		return nil, fmt.Errorf("no such host %s", n.Name)
	}
	sn.connectCount++
	return &Handle{
		Files:     sn,
		Service:   sn,
		Engine:    sn,
		Resources: simResources{sn},
		Packages:  sn,
		Close: func() error {
			c.mu.Lock()
			defer c.mu.Unlock()
			sn.closeCount++
			return nil
		},
	}, nil
}

func (c *simCluster) totalConnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.nodes {
		total += n.connectCount
	}
	return total
}

// snapshot deep-copies every node's files.
func (c *simCluster) snapshot() map[string]map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]map[string]string)
	for name, n := range c.nodes {
		files := make(map[string]string, len(n.files))
		for p, data := range n.files {
			files[p] = string(data)
		}
		out[name] = files
	}
	return out
}

func (c *simCluster) resetMutations() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.nodes {
		n.mutations = nil
	}
}

func (n *simNode) mutationLog() []string {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	return slices.Clone(n.mutations)
}

func (n *simNode) file(path string) (string, bool) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	data, ok := n.files[path]
	return string(data), ok
}

func (n *simNode) deleteFile(path string) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	delete(n.files, path)
}

func (n *simNode) record(format string, args ...any) {
	n.mutations = append(n.mutations, fmt.Sprintf(format, args...))
}

// applyConfLocked has the engine read postgresql.conf; only a restart takes
// the restart-only settings.
func (n *simNode) applyConfLocked(restart bool) {
	conf := string(n.files[filepath.Join(simDataDir, "postgresql.conf")])
	n.loadedConf = conf
	if restart {
		n.startedConf = conf
	}
}

func (n *simNode) hasPrefixLocked(path string) bool {
	prefix := strings.TrimRight(path, "/") + "/"
	for p := range n.files {
		if p == path || strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (n *simNode) standbyLocked() bool {
	_, ok := n.files[filepath.Join(simDataDir, "standby.signal")]
	return ok
}

// Files

func (n *simNode) ReadFile(_ context.Context, path string) ([]byte, error) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	data, ok := n.files[path]
	if !ok {
		return nil, remote.ErrNotExist
	}
	return slices.Clone(data), nil
}

func (n *simNode) WriteFile(_ context.Context, path string, data []byte) error {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	n.files[path] = slices.Clone(data)
	n.record("write %s", path)
	return nil
}

func (n *simNode) Exists(_ context.Context, path string) (bool, error) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if n.markerReadErr != nil && strings.HasSuffix(path, ".synced") {
		return false, n.markerReadErr
	}
	return n.hasPrefixLocked(path), nil
}

func (n *simNode) RemoveAll(_ context.Context, path string) error {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	prefix := strings.TrimRight(path, "/") + "/"
	for p := range n.files {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(n.files, p)
		}
	}
	n.record("rm %s", path)
	return nil
}

// Service

func (n *simNode) Start(context.Context) error {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if _, ok := n.files[filepath.Join(simDataDir, "PG_VERSION")]; !ok {
		return errors.New("data directory not initialized")
	}
	n.running = true
	n.applyConfLocked(true)
	n.record("start")
	return nil
}

func (n *simNode) Restart(context.Context) error {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if !n.running {
		return errors.New("unit is not active")
	}
	n.applyConfLocked(true)
	n.record("restart")
	return nil
}

func (n *simNode) Stop(context.Context) error {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if n.running {
		n.record("stop")
	}
	n.running = false
	return nil
}

func (n *simNode) Running(context.Context) (bool, error) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if n.runningErr != nil {
		return false, n.runningErr
	}
	return n.running, nil
}

// Engine

func (n *simNode) DataDir() string           { return simDataDir }
func (n *simNode) RuntimeConfigPath() string { return filepath.Join(simDataDir, "postgresql.conf") }
func (n *simNode) AccessConfigPath() string  { return filepath.Join(simDataDir, "pg_hba.conf") }

func (n *simNode) HasDataDir(context.Context) (bool, error) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	_, ok := n.files[filepath.Join(simDataDir, "PG_VERSION")]
	return ok, nil
}

func (n *simNode) InRecovery(context.Context) (bool, error) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if !n.running {
		return false, errors.New("connection refused")
	}
	return n.standbyLocked(), nil
}

func (n *simNode) HasRecoverySignal(context.Context) (bool, error) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	return n.standbyLocked(), nil
}

func (n *simNode) ReplicationCount(context.Context) (int, error) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if !n.running {
		return 0, errors.New("connection refused")
	}
	// standbys reach the primary only on the addresses it was started with
	if simActive(n.startedConf, "listen_addresses") != "'*'" {
		return 0, nil
	}
	count := 0
	for _, other := range n.c.nodes {
		if other != n && other.running && other.standbyLocked() && !other.notStreaming {
			count++
		}
	}
	return count, nil
}

func (n *simNode) InitDB(context.Context) error {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if n.initDBErr != nil {
		return n.initDBErr
	}
	if n.hasPrefixLocked(simDataDir) {
		return errors.New("initdb: directory exists but is not empty")
	}
	n.files[filepath.Join(simDataDir, "PG_VERSION")] = []byte("16\n")
	n.files[filepath.Join(simDataDir, "postgresql.conf")] = []byte(simRuntimeTemplate)
	n.files[filepath.Join(simDataDir, "pg_hba.conf")] = []byte(simAccessTemplate)
	n.record("initdb")
	return nil
}

func (n *simNode) Reload(context.Context) error {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if !n.running {
		return errors.New("no server running")
	}
	n.applyConfLocked(false)
	n.record("reload")
	return nil
}

func (n *simNode) PendingRestart(context.Context) ([]string, error) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if !n.running {
		return nil, errors.New("connection refused")
	}
	var pending []string
	for _, key := range simRestartOnly {
		if simActive(n.loadedConf, key) != simActive(n.startedConf, key) {
			pending = append(pending, key)
		}
	}
	return pending, nil
}

func (n *simNode) ReplicationRoleCurrent(_ context.Context, user, password string) (bool, error) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if !n.running {
		return false, errors.New("connection refused")
	}
	pw, ok := n.roles[user]
	return ok && pw == password, nil
}

func (n *simNode) EnsureReplicationRole(_ context.Context, user, password string) (bool, error) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if !n.running {
		return false, errors.New("connection refused")
	}
	if n.roles[user] == password {
		return false, nil
	}
	n.roles[user] = password
	n.record("role %s", user)
	return true, nil
}

func (n *simNode) BaseBackup(_ context.Context, src pgctl.BackupSource) error {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	n.record("basebackup from %s", src.Host)

	if n.baseBackupErr != nil {
		n.files[filepath.Join(simDataDir, "base/1/partial")] = []byte("x")
		return n.baseBackupErr
	}
	if src.Host != simVIP {
		return fmt.Errorf("could not connect to %s", src.Host)
	}
	source := n.c.nodes[n.c.vipHolder]
	if source == nil || !source.running {
		return errors.New("could not connect to server: connection refused")
	}
	if source.roles[src.User] != src.Password {
		return errors.New("password authentication failed")
	}
	for p, data := range source.files {
		if strings.HasPrefix(p, simDataDir+"/") {
			n.files[p] = slices.Clone(data)
		}
	}
	n.files[filepath.Join(simDataDir, "standby.signal")] = nil
	return nil
}

// Resources

func (n *simNode) ConstraintExists(context.Context, string) (bool, error) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if n.constraintErr != nil {
		return false, n.constraintErr
	}
	return n.managed, nil
}

func (n *simNode) Cleanup(_ context.Context, name string) error {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	n.record("cleanup %s", name)
	return nil
}

// simResources is a node seen through the resource manager.
type simResources struct {
	*simNode
}

func (r simResources) Restart(_ context.Context, name, node string) error {
	n := r.simNode
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if node != n.name {
		return fmt.Errorf("resource %s is not running on %s", name, node)
	}
	n.running = false
	n.record("restart %s", name)
	return nil
}

func (n *simNode) WaitStarted(context.Context, string, string) error {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	// the resource manager starts the instance after a cleanup or restart
	if !n.running {
		n.running = true
		n.applyConfLocked(true)
	}
	return nil
}

// Packages

func (n *simNode) Present(context.Context, []string) (bool, error) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	return n.installed, nil
}

func (n *simNode) EnsureInstalled(_ context.Context, pkgs []string) (pkgmgr.Outcome, error) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if n.installed {
		return pkgmgr.AlreadyPresent, nil
	}
	n.installed = true
	n.record("install %s", strings.Join(pkgs, ","))
	return pkgmgr.Installed, nil
}

func simSettings() Settings {
	return Settings{
		ClusterName:     simClusterName,
		FloatingAddress: simVIP,
		Port:            5432,
		Packages:        []string{"postgresql16-server"},
		RuntimeConfig: map[string]string{
			"listen_addresses": "'*'",
			"wal_level":        "replica",
			"max_wal_senders":  "10",
			"hot_standby":      "on",
		},
		Access: pgconf.AccessPolicy{
			ReplicationUser: "replicator",
			Method:          pgconf.MethodSCRAM,
		},
		ReplicationUser:     "replicator",
		ReplicationPassword: "repl-secret",
		DBResource:          "pgha-db",
		Parallelism:         4,
		VerifyAttempts:      3,
		VerifyDelay:         time.Millisecond,
	}
}

func simMarker() string { return MarkerPath(simDataDir, simClusterName) }
