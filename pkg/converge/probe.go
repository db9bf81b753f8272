package converge

import (
	"context"
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-pgha/pkg/logging"
	"github.com/dd0wney/cluso-pgha/pkg/remote"
	"github.com/dd0wney/cluso-pgha/pkg/topology"
)

// Prober reads a node's facts without changing anything.
type Prober struct {
	settings Settings
	logger   logging.Logger
}

func NewProber(settings Settings, logger logging.Logger) *Prober {
	return &Prober{settings: settings, logger: logger}
}

// Probe collects the facts of node. Liveness, resource and recovery-query
// failures degrade to conservative values; failure to read the data
// directory or the marker is returned, since the marker alone authorizes a
// resync.
func (p *Prober) Probe(ctx context.Context, node topology.Node, h *Handle) (*Facts, error) {
	f := &Facts{}
	degrade := func(probe string, err error) {
		d := &ProbeDegradation{Node: node.Name, Probe: probe, Err: err}
		f.Degradations = append(f.Degradations, d)
		p.logger.Warn("probe degraded",
			logging.Node(node.Name),
			logging.String("probe", probe),
			logging.Error(err),
		)
	}

	var err error
	if f.Installed, err = h.Packages.Present(ctx, p.settings.Packages); err != nil {
		degrade("installed", err)
		f.Installed = false
	}

	if f.HasDataDir, err = h.Engine.HasDataDir(ctx); err != nil {
		return nil, fmt.Errorf("%s: probing data directory: %w", node.Name, err)
	}
	marker := MarkerPath(h.Engine.DataDir(), p.settings.ClusterName)
	if f.HasSyncMarker, err = h.Files.Exists(ctx, marker); err != nil {
		return nil, fmt.Errorf("%s: probing sync marker: %w", node.Name, err)
	}

	if f.EngineRunning, err = h.Service.Running(ctx); err != nil {
		degrade("engine-running", err)
		f.EngineRunning = false
	}

	if f.ResourceManaged, err = h.Resources.ConstraintExists(ctx, p.settings.DBResource); err != nil {
		degrade("resource-managed", err)
		f.ResourceManaged = false
	}

	if node.IsPrimary() && f.HasDataDir {
		f.InRecovery = p.probeRecovery(ctx, h, f, degrade)
	}

	if f.HasDataDir && f.EngineRunning {
		if f.PendingRestart, err = h.Engine.PendingRestart(ctx); err != nil {
			degrade("pending-restart", err)
			f.PendingRestart = nil
		}
		if node.IsPrimary() && !f.InRecovery {
			f.ReplicationRoleCurrent, err = h.Engine.ReplicationRoleCurrent(ctx,
				p.settings.ReplicationUser, p.settings.ReplicationPassword)
			if err != nil {
				degrade("replication-role", err)
				f.ReplicationRoleCurrent = false
			}
		}
	}

	if f.HasDataDir {
		if node.IsPrimary() {
			f.RuntimeConfig = p.readConfig(ctx, h, h.Engine.RuntimeConfigPath(), "runtime-config", degrade)
		}
		f.AccessConfig = p.readConfig(ctx, h, h.Engine.AccessConfigPath(), "access-config", degrade)
	}

	p.logger.Debug("node probed",
		logging.Node(node.Name),
		logging.Role(node.Role.String()),
		logging.Bool("has_data_dir", f.HasDataDir),
		logging.Bool("has_sync_marker", f.HasSyncMarker),
		logging.Bool("engine_running", f.EngineRunning),
		logging.Bool("resource_managed", f.ResourceManaged),
		logging.Bool("in_recovery", f.InRecovery),
		logging.Int("pending_restart", len(f.PendingRestart)),
	)
	return f, nil
}

func (p *Prober) probeRecovery(ctx context.Context, h *Handle, f *Facts, degrade func(string, error)) bool {
	if f.EngineRunning {
		rec, err := h.Engine.InRecovery(ctx)
		if err == nil {
			return rec
		}
		degrade("in-recovery-query", err)
	}
	rec, err := h.Engine.HasRecoverySignal(ctx)
	if err != nil {
		degrade("in-recovery-files", err)
		return false
	}
	return rec
}

func (p *Prober) readConfig(ctx context.Context, h *Handle, path, probe string, degrade func(string, error)) []byte {
	doc, err := h.Files.ReadFile(ctx, path)
	switch {
	case errors.Is(err, remote.ErrNotExist):
		return nil
	case err != nil:
		degrade(probe, err)
		return nil
	}
	return doc
}
