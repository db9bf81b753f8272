// Package pgctl controls a PostgreSQL instance on one node: its service unit,
// its data directory and the handful of queries the convergence engine needs.
package pgctl
