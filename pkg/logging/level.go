package logging

import "strings"

// Level is the minimum severity a logger writes.
type Level int

const (
	// DebugLevel adds every probe result and command line.
	DebugLevel Level = iota
	InfoLevel
	// WarnLevel covers degraded probes and skipped edits.
	WarnLevel
	// ErrorLevel covers node and run failures.
	ErrorLevel
)

var levelNames = [...]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

func (l Level) String() string {
	if l < DebugLevel || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel reads a --log-level value, ignoring case. Unknown names fall
// back to InfoLevel.
func ParseLevel(s string) Level {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARNING" {
		return WarnLevel
	}
	for l, n := range levelNames {
		if n == name {
			return Level(l)
		}
	}
	return InfoLevel
}
