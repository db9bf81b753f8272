// Package report renders run reports, plans, probe results and journal
// history for the command line.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/dd0wney/cluso-pgha/pkg/converge"
	"github.com/dd0wney/cluso-pgha/pkg/journal"
	"github.com/dd0wney/cluso-pgha/pkg/pacemaker"
)

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat accepts "text" and "json".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFF00"))

	borderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// Run writes the outcome of a convergence run.
func Run(w io.Writer, r *converge.Report, f Format) error {
	if f == FormatJSON {
		return writeJSON(w, r)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", titleStyle.Render(fmt.Sprintf("Run %s  cluster=%s  primary=%s", r.RunID, r.Cluster, r.Primary)))

	t := newTable("NODE", "ROLE", "FROM", "TO", "ACTIONS", "CHANGES", "RESULT")
	for _, n := range r.Nodes {
		result := successStyle.Render("ok")
		if n.Failed {
			result = errorStyle.Render("failed")
		}
		t.Row(n.Name, n.Role, n.Initial.String(), n.State.String(),
			strconv.Itoa(len(n.Actions)), strconv.Itoa(len(n.Changes)), result)
	}
	fmt.Fprintf(&b, "%s\n", t.Render())

	for _, n := range r.Nodes {
		for _, c := range n.Changes {
			fmt.Fprintf(&b, "  %s: %s\n", n.Name, c)
		}
		for _, warn := range n.Warnings {
			fmt.Fprintf(&b, "  %s: %s\n", n.Name, warnStyle.Render("warning: "+warn))
		}
		if n.Failed {
			fmt.Fprintf(&b, "  %s: %s\n", n.Name, errorStyle.Render(n.Error))
		}
	}

	switch {
	case r.Verified:
		fmt.Fprintf(&b, "%s\n", successStyle.Render(fmt.Sprintf(
			"replication verified: %d of %d replicas streaming after %d polls",
			r.Streaming, r.ExpectedStreams, r.VerifyPolls)))
	case r.VerifyPolls > 0:
		fmt.Fprintf(&b, "%s\n", errorStyle.Render(fmt.Sprintf(
			"replication not verified: %d of %d replicas streaming after %d polls",
			r.Streaming, r.ExpectedStreams, r.VerifyPolls)))
	}
	if r.Err != nil {
		fmt.Fprintf(&b, "%s\n", errorStyle.Render("run failed: "+r.Error))
	}
	fmt.Fprintf(&b, "%d changes in %s\n", r.Changes(), r.Duration().Round(time.Millisecond))

	_, err := io.WriteString(w, b.String())
	return err
}

type stepView struct {
	Action   string `json:"action"`
	Mutating bool   `json:"mutating"`
	Then     string `json:"then"`
}

type nodePlanView struct {
	Node     string     `json:"node"`
	Address  string     `json:"address"`
	Role     string     `json:"role"`
	Initial  string     `json:"initial_state"`
	Steps    []stepView `json:"steps"`
	Warnings []string   `json:"warnings,omitempty"`
}

type planView struct {
	RunID       string            `json:"run_id"`
	Nodes       []nodePlanView    `json:"nodes"`
	ProbeErrors map[string]string `json:"probe_errors,omitempty"`
}

func viewPlan(p *converge.Plan) planView {
	v := planView{RunID: p.RunID, Nodes: make([]nodePlanView, 0, len(p.Nodes))}
	for _, np := range p.Nodes {
		nv := nodePlanView{
			Node:     np.Node.Name,
			Address:  np.Node.Address,
			Role:     np.Node.Role.String(),
			Initial:  np.Initial.String(),
			Steps:    make([]stepView, 0, len(np.Steps)),
			Warnings: np.Warnings,
		}
		for _, s := range np.Steps {
			nv.Steps = append(nv.Steps, stepView{Action: s.Action.String(), Mutating: s.Action.Mutating(), Then: s.Then.String()})
		}
		v.Nodes = append(v.Nodes, nv)
	}
	if len(p.ProbeErrors) > 0 {
		v.ProbeErrors = make(map[string]string, len(p.ProbeErrors))
		for name, err := range p.ProbeErrors {
			v.ProbeErrors[name] = err.Error()
		}
	}
	return v
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Plan writes the actions a convergence run would take.
func Plan(w io.Writer, p *converge.Plan, f Format) error {
	v := viewPlan(p)
	if f == FormatJSON {
		return writeJSON(w, v)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", titleStyle.Render("Plan "+p.RunID))
	for _, n := range v.Nodes {
		fmt.Fprintf(&b, "\n%s (%s, %s) %s\n", n.Node, n.Role, n.Address, n.Initial)
		if len(n.Steps) == 0 {
			fmt.Fprintf(&b, "  %s\n", successStyle.Render("nothing to do"))
		}
		for i, s := range n.Steps {
			fmt.Fprintf(&b, "  %d. %s -> %s\n", i+1, s.Action, s.Then)
		}
		for _, warn := range n.Warnings {
			fmt.Fprintf(&b, "  %s\n", warnStyle.Render("warning: "+warn))
		}
	}
	for _, name := range sortedKeys(v.ProbeErrors) {
		fmt.Fprintf(&b, "\n%s %s\n", name, errorStyle.Render("probe failed: "+v.ProbeErrors[name]))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

type factsView struct {
	Node            string   `json:"node"`
	Role            string   `json:"role"`
	State           string   `json:"state"`
	Installed       bool     `json:"installed"`
	HasDataDir      bool     `json:"has_data_dir"`
	HasSyncMarker   bool     `json:"has_sync_marker"`
	EngineRunning   bool     `json:"engine_running"`
	ResourceManaged bool     `json:"resource_managed"`
	InRecovery      bool     `json:"in_recovery"`
	PendingRestart  []string `json:"pending_restart,omitempty"`
	Degraded        []string `json:"degraded,omitempty"`
}

type statusView struct {
	Cluster     *pacemaker.ClusterInfo `json:"pacemaker,omitempty"`
	Nodes       []factsView            `json:"nodes"`
	ProbeErrors map[string]string      `json:"probe_errors,omitempty"`
}

// Status writes the probed facts of every node. info may be nil when the
// resource manager was not inspected.
func Status(w io.Writer, p *converge.Plan, info *pacemaker.ClusterInfo, f Format) error {
	v := statusView{Cluster: info, Nodes: make([]factsView, 0, len(p.Nodes)), ProbeErrors: viewPlan(p).ProbeErrors}
	for _, np := range p.Nodes {
		fv := factsView{
			Node:  np.Node.Name,
			Role:  np.Node.Role.String(),
			State: np.Initial.String(),
		}
		if fa := np.Facts; fa != nil {
			fv.Installed = fa.Installed
			fv.HasDataDir = fa.HasDataDir
			fv.HasSyncMarker = fa.HasSyncMarker
			fv.EngineRunning = fa.EngineRunning
			fv.ResourceManaged = fa.ResourceManaged
			fv.InRecovery = fa.InRecovery
			fv.PendingRestart = fa.PendingRestart
			for _, d := range fa.Degradations {
				fv.Degraded = append(fv.Degraded, d.Probe)
			}
		}
		v.Nodes = append(v.Nodes, fv)
	}
	if f == FormatJSON {
		return writeJSON(w, v)
	}

	var b strings.Builder
	if info != nil {
		if info.Configured() {
			fmt.Fprintf(&b, "%s\n", titleStyle.Render("pacemaker cluster: "+strings.Join(info.Nodes, ", ")))
		} else {
			fmt.Fprintf(&b, "%s\n", warnStyle.Render("no pacemaker cluster configured"))
		}
	}

	t := newTable("NODE", "ROLE", "STATE", "INSTALLED", "DATA", "MARKER", "RUNNING", "MANAGED", "RECOVERY")
	for _, n := range v.Nodes {
		recovery := "-"
		if n.Role == "primary" {
			recovery = yesNo(n.InRecovery)
		}
		t.Row(n.Node, n.Role, n.State, yesNo(n.Installed), yesNo(n.HasDataDir), yesNo(n.HasSyncMarker),
			yesNo(n.EngineRunning), yesNo(n.ResourceManaged), recovery)
	}
	fmt.Fprintf(&b, "%s\n", t.Render())

	for _, n := range v.Nodes {
		if len(n.PendingRestart) > 0 {
			fmt.Fprintf(&b, "  %s: %s\n", n.Node, warnStyle.Render("restart pending for: "+strings.Join(n.PendingRestart, ", ")))
		}
		if len(n.Degraded) > 0 {
			fmt.Fprintf(&b, "  %s: %s\n", n.Node, warnStyle.Render("degraded probes: "+strings.Join(n.Degraded, ", ")))
		}
	}
	for _, name := range sortedKeys(v.ProbeErrors) {
		fmt.Fprintf(&b, "  %s: %s\n", name, errorStyle.Render("probe failed: "+v.ProbeErrors[name]))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// History writes journaled runs, newest first.
func History(w io.Writer, runs []journal.Run, f Format) error {
	if f == FormatJSON {
		return writeJSON(w, runs)
	}
	if len(runs) == 0 {
		_, err := io.WriteString(w, "no runs recorded\n")
		return err
	}

	t := newTable("RUN", "STARTED", "CLUSTER", "PRIMARY", "NODES", "CHANGES", "DURATION", "RESULT")
	for _, r := range runs {
		changes := 0
		for _, n := range r.Nodes {
			changes += len(n.Changes)
		}
		result := successStyle.Render("ok")
		if !r.Succeeded {
			result = errorStyle.Render("failed")
		}
		t.Row(r.RunID, r.Started.UTC().Format(time.RFC3339), r.Cluster, r.Primary,
			strconv.Itoa(len(r.Nodes)), strconv.Itoa(changes), r.Duration().Round(time.Second).String(), result)
	}
	_, err := fmt.Fprintf(w, "%s\n", t.Render())
	return err
}

// Bind writes the outcome of binding the cluster to the resource manager.
func Bind(w io.Writer, res *pacemaker.BindResult, f Format) error {
	if f == FormatJSON {
		return writeJSON(w, res)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "pcs %s\n", res.Version)
	if len(res.Created) == 0 {
		fmt.Fprintf(&b, "%s\n", successStyle.Render("all resources and constraints already present"))
	}
	for _, c := range res.Created {
		fmt.Fprintf(&b, "  created %s\n", c)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
