// Package pacemaker reads and, for the bind command only, creates the
// resources and constraints that put PostgreSQL under Pacemaker control.
package pacemaker
