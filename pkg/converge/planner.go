package converge

import (
	"github.com/dd0wney/cluso-pgha/pkg/logging"
	"github.com/dd0wney/cluso-pgha/pkg/pgconf"
	"github.com/dd0wney/cluso-pgha/pkg/pgctl"
	"github.com/dd0wney/cluso-pgha/pkg/topology"
)

// Step is a planned action and the state the node has reached once it
// succeeds.
type Step struct {
	Action Action
	Then   State
}

// NodePlan is the ordered action list for one node.
type NodePlan struct {
	Node     topology.Node
	Facts    *Facts
	Initial  State
	Steps    []Step
	Warnings []string

	run *nodeRun
}

// Mutations counts the steps that may change the node.
func (p *NodePlan) Mutations() int {
	n := 0
	for _, s := range p.Steps {
		if s.Action.Mutating() {
			n++
		}
	}
	return n
}

// Planner turns probe facts into node plans.
type Planner struct {
	settings Settings
	topo     *topology.Topology
	runID    string
}

func NewPlanner(settings Settings, topo *topology.Topology, runID string) *Planner {
	return &Planner{settings: settings, topo: topo, runID: runID}
}

// InitialState places a node in the state machine from its facts alone.
func InitialState(node topology.Node, f *Facts) State {
	switch {
	case !f.HasDataDir && node.IsPrimary():
		return Uninitialized
	case f.HasSyncMarker:
		return Synced
	case node.IsPrimary():
		return NeedsConfig
	case !f.HasDataDir:
		return Uninitialized
	default:
		return NeedsSync
	}
}

// Plan computes node's actions. It reads facts only; the returned actions
// act through h.
func (p *Planner) Plan(node topology.Node, h *Handle, f *Facts, logger logging.Logger) *NodePlan {
	plan := &NodePlan{
		Node:    node,
		Facts:   f,
		Initial: InitialState(node, f),
		run:     newNodeRun(node, h, f, logger),
	}
	for _, d := range f.Degradations {
		plan.Warnings = append(plan.Warnings, d.Error())
	}

	if !f.Installed && len(p.settings.Packages) > 0 {
		plan.add(InstallPackagesAction{run: plan.run, Packages: p.settings.Packages}, plan.Initial)
	}

	if node.IsPrimary() {
		p.planPrimary(plan, h)
	} else {
		p.planReplica(plan, h)
	}
	return plan
}

func (p *Planner) planPrimary(plan *NodePlan, h *Handle) {
	f := plan.Facts
	eng := h.Engine

	if !f.HasDataDir {
		plan.add(InitDBAction{run: plan.run, DataDir: eng.DataDir()}, NeedsConfig)
	}

	configPlanned := false
	if directives := pgconf.Directives(p.settings.RuntimeConfig); len(directives) > 0 {
		needed := f.RuntimeConfig == nil
		if !needed {
			_, res := pgconf.ApplyRuntimeConfig(f.RuntimeConfig, directives)
			needed = res.HasChanges()
			for _, key := range res.Missing {
				plan.Warnings = append(plan.Warnings, "runtime setting "+key+" has no line in "+eng.RuntimeConfigPath()+"; not added")
			}
		}
		if needed {
			plan.add(RuntimeConfigAction{
				run:           plan.run,
				Path:          eng.RuntimeConfigPath(),
				Directives:    directives,
				reportMissing: f.RuntimeConfig == nil,
			}, NeedsConfig)
			configPlanned = true
		}
	}

	if p.planAccess(plan, eng) {
		configPlanned = true
	}

	if needsBringUp(f, configPlanned) {
		plan.add(BringUpAction{run: plan.run, Resource: p.settings.DBResource}, NeedsConfig)
	}

	plan.add(ConfirmPrimaryAction{run: plan.run}, NeedsSync)
	if !f.ReplicationRoleCurrent {
		plan.add(ReplicationRoleAction{
			run:      plan.run,
			User:     p.settings.ReplicationUser,
			password: p.settings.ReplicationPassword,
		}, NeedsSync)
	}

	if !f.HasSyncMarker {
		plan.add(CreateMarkerAction{
			run:   plan.run,
			Path:  MarkerPath(eng.DataDir(), p.settings.ClusterName),
			RunID: p.runID,
		}, Synced)
	}
}

func (p *Planner) planReplica(plan *NodePlan, h *Handle) {
	f := plan.Facts
	eng := h.Engine

	// the one destructive branch, decided once from the probed marker
	if !f.HasSyncMarker {
		plan.add(ResyncAction{
			run:     plan.run,
			DataDir: eng.DataDir(),
			Marker:  MarkerPath(eng.DataDir(), p.settings.ClusterName),
			Source: pgctl.BackupSource{
				Host:     p.settings.FloatingAddress,
				Port:     p.settings.Port,
				User:     p.settings.ReplicationUser,
				Password: p.settings.ReplicationPassword,
			},
		}, Synced)
		// the copied pg_hba.conf carries the primary's rules, not this node's
		plan.add(AccessConfigAction{run: plan.run, Path: eng.AccessConfigPath(), Rules: p.planRules(plan.Node)}, Synced)
		plan.add(BringUpAction{run: plan.run, Resource: p.settings.DBResource}, Synced)
		return
	}

	configPlanned := p.planAccess(plan, eng)
	if needsBringUp(f, configPlanned) {
		plan.add(BringUpAction{run: plan.run, Resource: p.settings.DBResource}, Synced)
	}
}

func needsBringUp(f *Facts, configPlanned bool) bool {
	return !f.EngineRunning || configPlanned || len(f.PendingRestart) > 0
}

// planAccess adds the pg_hba.conf update when the probed file lacks a rule,
// holds an engine rule with a stale method, or could not be read.
func (p *Planner) planAccess(plan *NodePlan, eng Engine) bool {
	rules := p.planRules(plan.Node)
	if doc := plan.Facts.AccessConfig; doc != nil {
		if _, res := pgconf.ApplyAccessRules(doc, rules); !res.HasChanges() {
			return false
		}
	}
	plan.add(AccessConfigAction{run: plan.run, Path: eng.AccessConfigPath(), Rules: rules}, NeedsConfig)
	return true
}

func (p *Planner) planRules(node topology.Node) []pgconf.Rule {
	return pgconf.BuildRules(p.topo, node, p.settings.Access)
}

func (p *NodePlan) add(a Action, then State) {
	p.Steps = append(p.Steps, Step{Action: a, Then: advance(p.last(), then)})
}

func (p *NodePlan) last() State {
	if len(p.Steps) == 0 {
		return p.Initial
	}
	return p.Steps[len(p.Steps)-1].Then
}

// advance never moves a node backwards.
func advance(cur, to State) State {
	if to > cur {
		return to
	}
	return cur
}
