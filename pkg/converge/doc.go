// Package converge brings a set of PostgreSQL nodes to a single primary with
// streaming replicas.
//
// A run resolves the declared topology, probes every node in parallel, plans
// each node's actions from what it found, then executes in two phases: the
// primary's prerequisites first (any failure aborts the run), then all
// replicas in parallel (failures stay local to the replica). A final poll on
// the primary checks that every replica is streaming.
//
// The only destructive step, wiping and re-copying a replica's data
// directory, is planned solely from the absence of the sync marker file.
package converge
