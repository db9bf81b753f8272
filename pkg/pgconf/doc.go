// Package pgconf edits PostgreSQL configuration text in place.
//
// Two documents are handled: the runtime settings file (postgresql.conf) and
// the host-based access file (pg_hba.conf). Every function is pure: it takes
// the current bytes and returns the new bytes plus a description of what
// changed, so callers decide whether a write or reload is needed. Applying the
// same input twice yields identical bytes.
package pgconf
