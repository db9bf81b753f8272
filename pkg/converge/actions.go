package converge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dd0wney/cluso-pgha/pkg/logging"
	"github.com/dd0wney/cluso-pgha/pkg/pgconf"
	"github.com/dd0wney/cluso-pgha/pkg/pkgmgr"
	"github.com/dd0wney/cluso-pgha/pkg/topology"
)

// Action is one planned step on one node.
type Action interface {
	Execute(ctx context.Context) error
	String() string
	// Mutating reports whether the action may change the node.
	Mutating() bool
}

// nodeRun is the mutable side of one node's execution, shared by its
// actions. Only the goroutine converging that node touches it.
type nodeRun struct {
	node   topology.Node
	h      *Handle
	logger logging.Logger

	running       bool
	managed       bool
	configChanged bool
	// settings the engine was already waiting to restart for before this run
	pendingRestart []string

	changes  []string
	warnings []string
}

func newNodeRun(node topology.Node, h *Handle, f *Facts, logger logging.Logger) *nodeRun {
	return &nodeRun{
		node:    node,
		h:       h,
		logger:  logger,
		running:        f.EngineRunning,
		managed:        f.ResourceManaged,
		pendingRestart: f.PendingRestart,
	}
}

func (r *nodeRun) changed(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.changes = append(r.changes, msg)
	r.logger.Info("changed", logging.String("change", msg))
}

func (r *nodeRun) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.warnings = append(r.warnings, msg)
	r.logger.Warn(msg)
}

//
// Action implementations
//

// InstallPackagesAction installs missing engine packages.
type InstallPackagesAction struct {
	run      *nodeRun
	Packages []string
}

func (a InstallPackagesAction) Execute(ctx context.Context) error {
	outcome, err := a.run.h.Packages.EnsureInstalled(ctx, a.Packages)
	if err != nil {
		return err
	}
	if outcome == pkgmgr.Installed {
		a.run.changed("installed %s", strings.Join(a.Packages, ", "))
	}
	return nil
}

func (a InstallPackagesAction) String() string {
	return fmt.Sprintf("InstallPackages(%s)", strings.Join(a.Packages, ", "))
}

func (a InstallPackagesAction) Mutating() bool { return true }

// InitDBAction creates a fresh cluster in the primary's empty data directory.
type InitDBAction struct {
	run     *nodeRun
	DataDir string
}

func (a InitDBAction) Execute(ctx context.Context) error {
	if err := a.run.h.Engine.InitDB(ctx); err != nil {
		return err
	}
	a.run.changed("initialized %s", a.DataDir)
	return nil
}

func (a InitDBAction) String() string { return fmt.Sprintf("InitDB(dir=%s)", a.DataDir) }

func (a InitDBAction) Mutating() bool { return true }

// RuntimeConfigAction rewrites existing postgresql.conf lines.
type RuntimeConfigAction struct {
	run        *nodeRun
	Path       string
	Directives []pgconf.Directive

	// set when the file was not known at planning time, so missing keys
	// have not been reported yet
	reportMissing bool
}

func (a RuntimeConfigAction) Execute(ctx context.Context) error {
	files := a.run.h.Files
	doc, err := files.ReadFile(ctx, a.Path)
	if err != nil {
		return &ConfigMutationFailure{Node: a.run.node.Name, Path: a.Path, Err: err}
	}

	out, res := pgconf.ApplyRuntimeConfig(doc, a.Directives)
	if a.reportMissing {
		for _, key := range res.Missing {
			a.run.warn("runtime setting %s has no line in %s; not added", key, a.Path)
		}
	}
	if !res.HasChanges() {
		return nil
	}
	if err := files.WriteFile(ctx, a.Path, out); err != nil {
		return &ConfigMutationFailure{Node: a.run.node.Name, Path: a.Path, Err: err}
	}
	a.run.configChanged = true
	a.run.changed("set %s in %s", strings.Join(res.Changed, ", "), a.Path)
	return nil
}

func (a RuntimeConfigAction) String() string {
	keys := make([]string, len(a.Directives))
	for i, d := range a.Directives {
		keys[i] = d.Key
	}
	return fmt.Sprintf("RuntimeConfig(file=%s, keys=%s)", a.Path, strings.Join(keys, ","))
}

func (a RuntimeConfigAction) Mutating() bool { return true }

// AccessConfigAction inserts missing pg_hba.conf rules ahead of existing ones
// and corrects engine-written rules whose method is stale.
type AccessConfigAction struct {
	run   *nodeRun
	Path  string
	Rules []pgconf.Rule
}

func (a AccessConfigAction) Execute(ctx context.Context) error {
	files := a.run.h.Files
	doc, err := files.ReadFile(ctx, a.Path)
	if err != nil {
		return &ConfigMutationFailure{Node: a.run.node.Name, Path: a.Path, Err: err}
	}

	out, res := pgconf.ApplyAccessRules(doc, a.Rules)
	if !res.HasChanges() {
		return nil
	}
	if err := files.WriteFile(ctx, a.Path, out); err != nil {
		return &ConfigMutationFailure{Node: a.run.node.Name, Path: a.Path, Err: err}
	}
	a.run.configChanged = true
	if len(res.Added) > 0 {
		a.run.changed("added %d rules to %s", len(res.Added), a.Path)
	}
	if len(res.Replaced) > 0 {
		a.run.changed("rewrote %d rules in %s", len(res.Replaced), a.Path)
	}
	return nil
}

func (a AccessConfigAction) String() string {
	return fmt.Sprintf("AccessConfig(file=%s, rules=%d)", a.Path, len(a.Rules))
}

func (a AccessConfigAction) Mutating() bool { return true }

// BringUpAction takes a node from Synced to Ready. A running engine reloads
// when configuration changed during this run, then restarts if a setting
// still waits for one. A stopped unmanaged engine is started directly; a
// stopped managed one is handed back to the resource manager with a cleanup,
// then waited for.
type BringUpAction struct {
	run      *nodeRun
	Resource string
}

func (a BringUpAction) Execute(ctx context.Context) error {
	r := a.run
	if r.running {
		return a.refresh(ctx)
	}

	if r.managed {
		if err := r.h.Resources.Cleanup(ctx, a.Resource); err != nil {
			return err
		}
		if err := r.h.Resources.WaitStarted(ctx, a.Resource, r.node.Name); err != nil {
			return err
		}
		r.running = true
		r.changed("resource %s cleaned up and started", a.Resource)
		return nil
	}

	if err := r.h.Service.Start(ctx); err != nil {
		return err
	}
	r.running = true
	r.changed("started service")
	return nil
}

func (a BringUpAction) refresh(ctx context.Context) error {
	r := a.run
	if r.configChanged {
		if err := r.h.Engine.Reload(ctx); err != nil {
			return err
		}
		r.changed("reloaded configuration")
	} else if len(r.pendingRestart) == 0 {
		return nil
	}

	pending, err := r.h.Engine.PendingRestart(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	// a managed instance is restarted through the resource manager so it
	// does not count the bounce as a failure
	if r.managed {
		if err := r.h.Resources.Restart(ctx, a.Resource, r.node.Name); err != nil {
			return err
		}
		if err := r.h.Resources.WaitStarted(ctx, a.Resource, r.node.Name); err != nil {
			return err
		}
	} else if err := r.h.Service.Restart(ctx); err != nil {
		return err
	}
	r.pendingRestart = nil
	r.changed("restarted to apply %s", strings.Join(pending, ", "))
	return nil
}

func (a BringUpAction) String() string {
	if a.run.managed {
		return fmt.Sprintf("BringUp(managed, resource=%s)", a.Resource)
	}
	return "BringUp(unmanaged)"
}

func (a BringUpAction) Mutating() bool { return true }

// ConfirmPrimaryAction asks the started primary whether it is in recovery.
type ConfirmPrimaryAction struct {
	run *nodeRun
}

func (a ConfirmPrimaryAction) Execute(ctx context.Context) error {
	rec, err := a.run.h.Engine.InRecovery(ctx)
	if err != nil {
		return err
	}
	if rec {
		return &WrongPrimaryError{Node: a.run.node.Name}
	}
	return nil
}

func (a ConfirmPrimaryAction) String() string { return "ConfirmPrimary()" }

func (a ConfirmPrimaryAction) Mutating() bool { return false }

// ReplicationRoleAction makes sure replicas can log in for streaming. It is
// planned only when the role was missing, stale or could not be checked.
type ReplicationRoleAction struct {
	run      *nodeRun
	User     string
	password string
}

func (a ReplicationRoleAction) Execute(ctx context.Context) error {
	changed, err := a.run.h.Engine.EnsureReplicationRole(ctx, a.User, a.password)
	if err != nil {
		return err
	}
	if changed {
		a.run.changed("replication role %s updated", a.User)
	}
	return nil
}

func (a ReplicationRoleAction) String() string {
	return fmt.Sprintf("ReplicationRole(user=%s)", a.User)
}

func (a ReplicationRoleAction) Mutating() bool { return true }

// CreateMarkerAction writes the sync marker on the confirmed primary. It
// reaches replicas inside their base backup.
type CreateMarkerAction struct {
	run   *nodeRun
	Path  string
	RunID string
}

func (a CreateMarkerAction) Execute(ctx context.Context) error {
	files := a.run.h.Files
	ok, err := files.Exists(ctx, a.Path)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	content := fmt.Sprintf("run=%s created=%s\n", a.RunID, time.Now().UTC().Format(time.RFC3339))
	if err := files.WriteFile(ctx, a.Path, []byte(content)); err != nil {
		return err
	}
	a.run.changed("created sync marker %s", a.Path)
	return nil
}

func (a CreateMarkerAction) String() string { return fmt.Sprintf("CreateMarker(file=%s)", a.Path) }

func (a CreateMarkerAction) Mutating() bool { return true }
