package logging

import "time"

// Field is one key-value pair attached to a log line.
type Field struct {
	Key   string
	Value any
}

// keys promoted from "fields" to the top level of each JSON line
const (
	runIDKey = "run_id"
	nodeKey  = "node"
)

func String(key, value string) Field { return Field{Key: key, Value: value} }

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration renders d the way time.Duration prints, e.g. "1.5s".
func Duration(key string, d time.Duration) Field { return Field{Key: key, Value: d.String()} }

// Error records err's message under "error"; a nil err logs null.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error"}
	}
	return Field{Key: "error", Value: err.Error()}
}

func RunID(id string) Field { return String(runIDKey, id) }

func Node(name string) Field { return String(nodeKey, name) }

func Address(addr string) Field { return String("address", addr) }

func Role(role string) Field { return String("role", role) }

func Action(action string) Field { return String("action", action) }

func State(state string) Field { return String("state", state) }

func Path(p string) Field { return String("path", p) }

func Attempt(n int) Field { return Int("attempt", n) }

func Latency(d time.Duration) Field { return Duration("latency", d) }
