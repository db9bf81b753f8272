package converge

import (
	"context"
	"path/filepath"
	"time"

	"github.com/dd0wney/cluso-pgha/pkg/pgconf"
	"github.com/dd0wney/cluso-pgha/pkg/pgctl"
	"github.com/dd0wney/cluso-pgha/pkg/pkgmgr"
	"github.com/dd0wney/cluso-pgha/pkg/topology"
)

// Files is the node-local filesystem.
type Files interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	Exists(ctx context.Context, path string) (bool, error)
	RemoveAll(ctx context.Context, path string) error
}

// Service controls the engine's service unit.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Running(ctx context.Context) (bool, error)
}

// Engine is the PostgreSQL control plane of one node.
type Engine interface {
	DataDir() string
	RuntimeConfigPath() string
	AccessConfigPath() string

	HasDataDir(ctx context.Context) (bool, error)
	InRecovery(ctx context.Context) (bool, error)
	HasRecoverySignal(ctx context.Context) (bool, error)
	ReplicationCount(ctx context.Context) (int, error)
	PendingRestart(ctx context.Context) ([]string, error)
	ReplicationRoleCurrent(ctx context.Context, user, password string) (bool, error)

	InitDB(ctx context.Context) error
	Reload(ctx context.Context) error
	EnsureReplicationRole(ctx context.Context, user, password string) (bool, error)
	BaseBackup(ctx context.Context, src pgctl.BackupSource) error
}

// Resources is the read side of the cluster resource manager plus the
// cleanup and restart used to hand a managed instance back to it.
type Resources interface {
	ConstraintExists(ctx context.Context, resource string) (bool, error)
	Cleanup(ctx context.Context, name string) error
	Restart(ctx context.Context, name, node string) error
	WaitStarted(ctx context.Context, name, node string) error
}

// Packages checks and installs the engine packages.
type Packages interface {
	Present(ctx context.Context, packages []string) (bool, error)
	EnsureInstalled(ctx context.Context, packages []string) (pkgmgr.Outcome, error)
}

// Handle bundles one node's collaborators.
type Handle struct {
	Files     Files
	Service   Service
	Engine    Engine
	Resources Resources
	Packages  Packages

	// Close, when set, is called once the run is done with the node.
	Close func() error
}

// ConnectFunc opens a Handle for a node. It is only called after the
// topology has been resolved.
type ConnectFunc func(ctx context.Context, node topology.Node) (*Handle, error)

// Settings is the desired state shared by every node.
type Settings struct {
	ClusterName     string
	FloatingAddress string
	Port            int

	Packages      []string
	RuntimeConfig map[string]string
	Access        pgconf.AccessPolicy

	ReplicationUser     string
	ReplicationPassword string

	// DBResource is the database resource whose colocation constraint marks a
	// node as cluster-managed.
	DBResource string

	Parallelism    int
	VerifyAttempts uint
	VerifyDelay    time.Duration
}

// MarkerName is the sync marker file name for a cluster.
func MarkerName(cluster string) string {
	return ".pgha-" + cluster + ".synced"
}

// MarkerPath is the sync marker inside dataDir.
func MarkerPath(dataDir, cluster string) string {
	return filepath.Join(dataDir, MarkerName(cluster))
}

// Facts is what the prober observed on one node.
type Facts struct {
	Installed       bool
	HasDataDir      bool
	HasSyncMarker   bool
	EngineRunning   bool
	ResourceManaged bool
	// InRecovery is only probed on the primary.
	InRecovery bool
	// PendingRestart names settings a running engine has read but can only
	// apply by restarting.
	PendingRestart []string
	// ReplicationRoleCurrent is only probed on a running primary.
	ReplicationRoleCurrent bool

	// current configuration files; nil when absent or unreadable
	RuntimeConfig []byte
	AccessConfig  []byte

	Degradations []*ProbeDegradation
}
