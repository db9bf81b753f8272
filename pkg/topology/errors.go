package topology

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyTopology    = errors.New("topology has no nodes")
	ErrPrimaryNotMember = errors.New("declared primary is not a member of the node set")
	ErrDuplicateNode    = errors.New("node declared more than once")
	ErrInvalidNode      = errors.New("node has no name or address")
)

// Error reports why a declared topology could not be resolved.
type Error struct {
	Primary string
	Node    string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Node != "":
		return fmt.Sprintf("topology: node %q: %v", e.Node, e.Err)
	case e.Primary != "":
		return fmt.Sprintf("topology: primary %q: %v", e.Primary, e.Err)
	default:
		return fmt.Sprintf("topology: %v", e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}
