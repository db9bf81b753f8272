package topology

import (
	"slices"
	"strings"
)

// Role is the part a node plays in the replication topology
type Role int

const (
	RoleReplica Role = iota
	RolePrimary
)

// String returns the string representation of a Role
func (r Role) String() string {
	switch r {
	case RoleReplica:
		return "replica"
	case RolePrimary:
		return "primary"
	default:
		return "unknown"
	}
}

// Node is one participant of the cluster
type Node struct {
	Name    string
	Address string
	Role    Role
}

func (n Node) IsPrimary() bool {
	return n.Role == RolePrimary
}

// Topology is a validated node set with exactly one primary.
type Topology struct {
	nodes   []Node
	primary int
}

// Resolve validates that primary names a member of nodes and tags every node
// with its role. Names are compared case-insensitively, the way host names are.
func Resolve(primary string, nodes []Node) (*Topology, error) {
	if len(nodes) == 0 {
		return nil, &Error{Primary: primary, Err: ErrEmptyTopology}
	}

	names := make(map[string]struct{}, len(nodes))
	addrs := make(map[string]struct{}, len(nodes))
	resolved := make([]Node, len(nodes))
	primaryIdx := -1

	for i, n := range nodes {
		if n.Name == "" || n.Address == "" {
			return nil, &Error{Node: n.Name, Err: ErrInvalidNode}
		}
		key := strings.ToLower(n.Name)
		if _, dup := names[key]; dup {
			return nil, &Error{Node: n.Name, Err: ErrDuplicateNode}
		}
		if _, dup := addrs[n.Address]; dup {
			return nil, &Error{Node: n.Name, Err: ErrDuplicateNode}
		}
		names[key] = struct{}{}
		addrs[n.Address] = struct{}{}

		n.Role = RoleReplica
		if strings.EqualFold(n.Name, primary) {
			n.Role = RolePrimary
			primaryIdx = i
		}
		resolved[i] = n
	}

	if primaryIdx < 0 {
		return nil, &Error{Primary: primary, Err: ErrPrimaryNotMember}
	}

	return &Topology{nodes: resolved, primary: primaryIdx}, nil
}

// Primary returns the primary node
func (t *Topology) Primary() Node {
	return t.nodes[t.primary]
}

// Replicas returns every non-primary node in declaration order
func (t *Topology) Replicas() []Node {
	out := make([]Node, 0, len(t.nodes)-1)
	for i, n := range t.nodes {
		if i != t.primary {
			out = append(out, n)
		}
	}
	return out
}

// Nodes returns a copy of all nodes in declaration order
func (t *Topology) Nodes() []Node {
	return slices.Clone(t.nodes)
}

// Node looks a node up by name
func (t *Topology) Node(name string) (Node, bool) {
	for _, n := range t.nodes {
		if strings.EqualFold(n.Name, name) {
			return n, true
		}
	}
	return Node{}, false
}

// Size returns the number of nodes
func (t *Topology) Size() int {
	return len(t.nodes)
}

// ExpectedReplicas is the number of streaming replicas a converged primary serves
func (t *Topology) ExpectedReplicas() int {
	return len(t.nodes) - 1
}
