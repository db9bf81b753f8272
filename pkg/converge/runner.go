package converge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-pgha/pkg/logging"
	"github.com/dd0wney/cluso-pgha/pkg/topology"
)

const DefaultParallelism = 8

// Runner executes convergence runs.
type Runner struct {
	settings Settings
	connect  ConnectFunc
	logger   logging.Logger
	newRunID func() string
}

type Option func(*Runner)

func WithLogger(logger logging.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithRunID fixes the run identifier; used by tests.
func WithRunID(id string) Option {
	return func(r *Runner) { r.newRunID = func() string { return id } }
}

func NewRunner(settings Settings, connect ConnectFunc, opts ...Option) *Runner {
	r := &Runner{
		settings: settings,
		connect:  connect,
		logger:   logging.NewNopLogger(),
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.settings.Parallelism <= 0 {
		r.settings.Parallelism = DefaultParallelism
	}
	return r
}

// session holds the probed state of one run.
type session struct {
	runID string
	topo  *topology.Topology

	mu       sync.Mutex
	handles  map[string]*Handle
	facts    map[string]*Facts
	probeErr map[string]error
}

func (s *session) close(logger logging.Logger) {
	for name, h := range s.handles {
		if h.Close == nil {
			continue
		}
		if err := h.Close(); err != nil {
			logger.Warn("closing node connection", logging.Node(name), logging.Error(err))
		}
	}
}

// Plan is the dry-run result: facts and planned actions per node.
type Plan struct {
	RunID string
	Nodes []*NodePlan
	// ProbeErrors are nodes that could not be probed at all.
	ProbeErrors map[string]error
}

// prepare resolves the topology, then connects to and probes every node in
// parallel. A nil session means nothing was probed.
func (r *Runner) prepare(ctx context.Context, primary string, nodes []topology.Node) (*session, error) {
	topo, err := topology.Resolve(primary, nodes)
	if err != nil {
		return nil, err
	}

	s := &session{
		runID:    r.newRunID(),
		topo:     topo,
		handles:  make(map[string]*Handle),
		facts:    make(map[string]*Facts),
		probeErr: make(map[string]error),
	}
	prober := NewProber(r.settings, r.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.settings.Parallelism)
	for _, node := range topo.Nodes() {
		g.Go(func() error {
			h, f, err := r.probeOne(gctx, prober, node)

			s.mu.Lock()
			defer s.mu.Unlock()
			if h != nil {
				s.handles[node.Name] = h
			}
			if err != nil {
				s.probeErr[node.Name] = err
				if node.IsPrimary() {
					return &PrimaryPrerequisiteError{Node: node.Name, Step: "probe", Err: err}
				}
				r.logger.Error("probe failed", logging.Node(node.Name), logging.Error(err))
				return nil
			}
			s.facts[node.Name] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return s, err
	}

	p := topo.Primary()
	if s.facts[p.Name].InRecovery {
		return s, &WrongPrimaryError{Node: p.Name}
	}
	return s, nil
}

func (r *Runner) probeOne(ctx context.Context, prober *Prober, node topology.Node) (*Handle, *Facts, error) {
	h, err := r.connect(ctx, node)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrNotConnected, node.Name, err)
	}
	f, err := prober.Probe(ctx, node, h)
	return h, f, err
}

func (r *Runner) plans(s *session) map[string]*NodePlan {
	planner := NewPlanner(r.settings, s.topo, s.runID)
	out := make(map[string]*NodePlan, len(s.facts))
	for _, node := range s.topo.Nodes() {
		f, ok := s.facts[node.Name]
		if !ok {
			continue
		}
		logger := r.logger.With(
			logging.RunID(s.runID),
			logging.Node(node.Name),
			logging.Address(node.Address),
			logging.Role(node.Role.String()),
		)
		out[node.Name] = planner.Plan(node, s.handles[node.Name], f, logger)
	}
	return out
}

// Plan probes every node and returns what Converge would do, without doing
// it. The plan is returned alongside a WrongPrimaryError so callers can still
// show what was found.
func (r *Runner) Plan(ctx context.Context, primary string, nodes []topology.Node) (*Plan, error) {
	s, err := r.prepare(ctx, primary, nodes)
	if s == nil {
		return nil, err
	}
	defer s.close(r.logger)

	plans := r.plans(s)
	out := &Plan{RunID: s.runID, ProbeErrors: s.probeErr}
	for _, node := range s.topo.Nodes() {
		if p, ok := plans[node.Name]; ok {
			out.Nodes = append(out.Nodes, p)
		}
	}
	return out, err
}

// Converge runs the full two-phase convergence and reports, per node, the
// state reached and what was done. The returned error is the report's error.
func (r *Runner) Converge(ctx context.Context, primary string, nodes []topology.Node) (*Report, error) {
	report := &Report{
		Cluster: r.settings.ClusterName,
		Primary: primary,
		Started: time.Now(),
	}

	s, err := r.prepare(ctx, primary, nodes)
	if s == nil {
		return report, report.finish(err)
	}
	defer s.close(r.logger)

	report.RunID = s.runID
	logger := r.logger.With(logging.RunID(s.runID))
	timer := logging.StartTimer(logger, "convergence run", logging.String("cluster", r.settings.ClusterName))

	plans := r.plans(s)
	nodeReports := make(map[string]*NodeReport)
	for _, node := range s.topo.Nodes() {
		nr := &NodeReport{Name: node.Name, Address: node.Address, Role: node.Role.String(), State: Failed}
		if p, ok := plans[node.Name]; ok {
			nr.Initial = p.Initial
			nr.State = p.Initial
			nr.Warnings = append(nr.Warnings, p.Warnings...)
		}
		if perr, ok := s.probeErr[node.Name]; ok {
			nr.fail(perr)
		}
		nodeReports[node.Name] = nr
		report.Nodes = append(report.Nodes, nr)
	}

	if err != nil {
		timer.EndError(err)
		return report, report.finish(err)
	}

	// phase 1: primary prerequisites, all or nothing
	p := s.topo.Primary()
	if err := r.execute(ctx, plans[p.Name], nodeReports[p.Name]); err != nil {
		perr := &PrimaryPrerequisiteError{Node: p.Name, Step: lastAction(nodeReports[p.Name]), Err: err}
		timer.EndError(perr)
		return report, report.finish(perr)
	}
	logger.Info("primary prerequisites complete", logging.Node(p.Name))

	// phase 2: replicas, best effort
	g := new(errgroup.Group)
	g.SetLimit(r.settings.Parallelism)
	for _, node := range s.topo.Replicas() {
		plan, ok := plans[node.Name]
		if !ok {
			continue
		}
		nr := nodeReports[node.Name]
		g.Go(func() error {
			if err := r.execute(ctx, plan, nr); err != nil {
				logger.Error("replica convergence failed", logging.Node(node.Name), logging.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, nr := range report.Nodes {
		if nr.Err != nil {
			errs = append(errs, nr.Err)
		}
	}
	if len(errs) > 0 {
		// verification cannot succeed with a replica down
		timer.EndError(errors.Join(errs...))
		return report, report.finish(errs...)
	}

	pr := nodeReports[p.Name]
	pr.State = Verifying
	v := Verifier{Attempts: r.settings.VerifyAttempts, Delay: r.settings.VerifyDelay, Logger: logger}
	res, verr := v.Verify(ctx, s.handles[p.Name].Engine, s.topo.ExpectedReplicas())
	pr.State = Ready
	report.ExpectedStreams = res.Want
	report.Streaming = res.Got
	report.VerifyPolls = res.Polls
	report.Verified = verr == nil

	if verr != nil {
		timer.EndError(verr)
		return report, report.finish(verr)
	}
	timer.End()
	return report, report.finish()
}

// execute runs a node's plan, recording each step in nr.
func (r *Runner) execute(ctx context.Context, plan *NodePlan, nr *NodeReport) error {
	run := plan.run
	defer func() {
		nr.Changes = append(nr.Changes, run.changes...)
		nr.Warnings = append(nr.Warnings, run.warnings...)
	}()

	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			nr.fail(err)
			return err
		}
		name := step.Action.String()
		run.logger.Debug("executing action", logging.Action(name), logging.State(nr.State.String()))
		nr.Actions = append(nr.Actions, name)

		if err := step.Action.Execute(ctx); err != nil {
			err = fmt.Errorf("%s: %s: %w", plan.Node.Name, name, err)
			nr.fail(err)
			run.logger.Error("action failed", logging.Action(name), logging.Error(err))
			return err
		}
		nr.State = step.Then
	}
	nr.State = Ready
	return nil
}

func lastAction(nr *NodeReport) string {
	if len(nr.Actions) == 0 {
		return "plan"
	}
	return nr.Actions[len(nr.Actions)-1]
}
