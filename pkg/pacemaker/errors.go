package pacemaker

import "errors"

var (
	ErrBadVersion         = errors.New("unparseable pcs version")
	ErrUnsupportedVersion = errors.New("unsupported pcs version")
	ErrNoCluster          = errors.New("no pacemaker cluster configured on host")
	ErrNotStarted         = errors.New("resource not started")
)
