package converge

// State is where a node stands on its way to Ready.
type State int

const (
	Uninitialized State = iota
	NeedsConfig
	NeedsSync
	Synced
	Verifying
	Ready
	// Failed marks a node whose run stopped on an error.
	Failed
)

var stateNames = map[State]string{
	Uninitialized: "uninitialized",
	NeedsConfig:   "needs-config",
	NeedsSync:     "needs-sync",
	Synced:        "synced",
	Verifying:     "verifying",
	Ready:         "ready",
	Failed:        "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText lets reports carry states by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
