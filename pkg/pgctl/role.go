package pgctl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// roleState is what pg_authid says about a replication role.
type roleState struct {
	exists bool
	// privileged is REPLICATION and LOGIN together
	privileged bool
	verifier   string
}

func (r roleState) matches(password string) bool {
	if !r.exists || !r.privileged {
		return false
	}
	ok, _ := VerifySCRAM(r.verifier, password)
	return ok
}

func (e *Engine) lookupRole(ctx context.Context, q Querier, user string) (roleState, error) {
	var st roleState
	err := q.QueryRow(ctx,
		"SELECT rolreplication AND rolcanlogin, coalesce(rolpassword, '') FROM pg_authid WHERE rolname = $1",
		user,
	).Scan(&st.privileged, &st.verifier)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return roleState{}, nil
	case err != nil:
		return roleState{}, fmt.Errorf("looking up role %s: %w", user, err)
	}
	st.exists = true
	return st, nil
}

// ReplicationRoleCurrent reports, without changing anything, whether user is
// already a LOGIN REPLICATION role whose password is password.
func (e *Engine) ReplicationRoleCurrent(ctx context.Context, user, password string) (bool, error) {
	if password == "" {
		return false, ErrEmptyPassword
	}
	q, err := e.querier(ctx)
	if err != nil {
		return false, err
	}
	st, err := e.lookupRole(ctx, q, user)
	if err != nil {
		return false, err
	}
	return st.matches(password), nil
}

// EnsureReplicationRole makes user a LOGIN REPLICATION role whose password is
// password. It reports whether anything had to change.
func (e *Engine) EnsureReplicationRole(ctx context.Context, user, password string) (bool, error) {
	if password == "" {
		return false, ErrEmptyPassword
	}
	q, err := e.querier(ctx)
	if err != nil {
		return false, err
	}
	st, err := e.lookupRole(ctx, q, user)
	if err != nil {
		return false, err
	}
	if st.matches(password) {
		return false, nil
	}

	verb := "ALTER"
	if !st.exists {
		verb = "CREATE"
	}
	verifier, err := SCRAMVerifier(password)
	if err != nil {
		return false, err
	}
	stmt := fmt.Sprintf("%s ROLE %s WITH REPLICATION LOGIN PASSWORD %s",
		verb, pgx.Identifier{user}.Sanitize(), quoteLiteral(verifier))
	if _, err := q.Exec(ctx, stmt); err != nil {
		return false, fmt.Errorf("%s role %s: %w", strings.ToLower(verb), user, err)
	}
	return true, nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
