// Package topology validates the declared primary/replica layout of a
// cluster before anything touches a node.
//
// A Topology is immutable once resolved: exactly one node is the primary and
// every other node is a replica. Resolution failures are configuration
// errors and are never retried.
package topology
