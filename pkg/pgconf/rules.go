package pgconf

import (
	"github.com/dd0wney/cluso-pgha/pkg/topology"
)

// AccessPolicy describes the rules every node's pg_hba.conf carries.
type AccessPolicy struct {
	ReplicationUser string
	Method          string
	Extra           []Rule
}

// BuildRules returns the managed rule set for self: one client rule per node
// granting the replication login, then one replication rule per node. The
// replication rule for self's own address always rejects, so a node can never
// stream from itself, primary included.
func BuildRules(topo *topology.Topology, self topology.Node, policy AccessPolicy) []Rule {
	nodes := topo.Nodes()
	rules := make([]Rule, 0, 2*len(nodes)+len(policy.Extra))

	for _, n := range nodes {
		rules = append(rules, Rule{
			Type:     "host",
			Database: "all",
			User:     policy.ReplicationUser,
			Address:  HostAddress(n.Address),
			Method:   policy.Method,
		})
	}

	for _, n := range nodes {
		method := policy.Method
		if n.Address == self.Address {
			method = MethodReject
		}
		rules = append(rules, Rule{
			Type:     "host",
			Database: "replication",
			User:     policy.ReplicationUser,
			Address:  HostAddress(n.Address),
			Method:   method,
		})
	}

	return append(rules, policy.Extra...)
}
