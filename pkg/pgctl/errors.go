package pgctl

import "errors"

var (
	ErrUnknownStatus   = errors.New("service status unknown")
	ErrNotConnected    = errors.New("engine not reachable")
	ErrInvalidVerifier = errors.New("invalid SCRAM verifier")
	ErrEmptyPassword   = errors.New("replication password is empty")
)
