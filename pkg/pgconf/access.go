package pgconf

import (
	"fmt"
	"net"
	"strings"
)

// Auth methods the engine writes itself.
const (
	MethodReject = "reject"
	MethodMD5    = "md5"
	MethodSCRAM  = "scram-sha-256"
)

// Rule is one pg_hba.conf entry.
type Rule struct {
	Type     string
	Database string
	User     string
	Address  string
	Method   string
}

// Key identifies a rule regardless of its auth method. Two rules with the
// same key compete for the same connections, so only the first one matters.
func (r Rule) Key() string {
	return strings.Join([]string{r.Type, r.Database, r.User, r.Address}, " ")
}

// String renders the rule as a pg_hba.conf line.
func (r Rule) String() string {
	if r.Type == "local" {
		return fmt.Sprintf("%-7s %-15s %-15s %-23s %s", r.Type, r.Database, r.User, "", r.Method)
	}
	return fmt.Sprintf("%-7s %-15s %-15s %-23s %s", r.Type, r.Database, r.User, r.Address, r.Method)
}

// ParseRule parses a pg_hba.conf line. ok is false for blanks, comments and
// include directives.
func ParseRule(line string) (Rule, bool) {
	if i := strings.Index(line, "#"); i >= 0 {
		line = line[:i]
	}
	f := strings.Fields(line)
	if len(f) < 4 {
		return Rule{}, false
	}
	if f[0] == "local" {
		return Rule{Type: f[0], Database: f[1], User: f[2], Method: f[3]}, true
	}
	if len(f) < 5 || !strings.HasPrefix(f[0], "host") {
		return Rule{}, false
	}
	addr, method := f[3], f[4]
	// address followed by a separate netmask column
	if !strings.Contains(addr, "/") && net.ParseIP(f[4]) != nil && len(f) >= 6 {
		addr, method = addr+" "+f[4], f[5]
	}
	return Rule{Type: f[0], Database: f[1], User: f[2], Address: addr, Method: method}, true
}

func isEntryLine(line string) bool {
	t := strings.TrimSpace(line)
	return t != "" && !strings.HasPrefix(t, "#")
}

// AccessResult describes the outcome of ApplyAccessRules.
type AccessResult struct {
	Added []Rule
	// Replaced holds rules whose engine-written line carried another method.
	Replaced []Rule
}

func (r AccessResult) HasChanges() bool {
	return len(r.Added) > 0 || len(r.Replaced) > 0
}

// ApplyAccessRules inserts every rule whose key is not yet present as one
// block placed immediately before the first existing entry, so the inserted
// rules take precedence. Without any existing entry the block is appended.
//
// A rule whose key already exists keeps the operator's line, whatever its
// method, unless that line is exactly what the engine renders for the key
// with another engine method. Such a line was written by the engine for a
// different node, typically arriving with a base backup, and is rewritten in
// place.
func ApplyAccessRules(doc []byte, rules []Rule) ([]byte, AccessResult) {
	lines := strings.Split(string(doc), "\n")

	// first line holding each key; -1 for keys added by this call
	present := make(map[string]int)
	first := -1
	for i, line := range lines {
		if !isEntryLine(line) {
			continue
		}
		if first < 0 {
			first = i
		}
		if r, ok := ParseRule(line); ok {
			if _, seen := present[r.Key()]; !seen {
				present[r.Key()] = i
			}
		}
	}

	var res AccessResult
	block := make([]string, 0, len(rules))
	for _, r := range rules {
		if i, ok := present[r.Key()]; ok {
			if i >= 0 && rewritable(lines[i], r) {
				lines[i] = r.String()
				res.Replaced = append(res.Replaced, r)
			}
			continue
		}
		present[r.Key()] = -1
		res.Added = append(res.Added, r)
		block = append(block, r.String())
	}

	if !res.HasChanges() {
		return doc, res
	}

	var out []string
	switch {
	case len(block) == 0:
		out = lines
	case first >= 0:
		out = make([]string, 0, len(lines)+len(block))
		out = append(out, lines[:first]...)
		out = append(out, block...)
		out = append(out, lines[first:]...)
	default:
		// keep the trailing newline after the appended block
		trimmed := lines
		if n := len(trimmed); n > 0 && trimmed[n-1] == "" {
			trimmed = trimmed[:n-1]
		}
		out = append(append(trimmed, block...), "")
	}
	return []byte(strings.Join(out, "\n")), res
}

// rewritable reports whether line is want's key as the engine renders it, but
// with a different method the engine itself writes.
func rewritable(line string, want Rule) bool {
	got, ok := ParseRule(line)
	if !ok || got.Method == want.Method || !engineMethod(got.Method) {
		return false
	}
	return line == got.String()
}

func engineMethod(m string) bool {
	switch m {
	case MethodReject, MethodMD5, MethodSCRAM:
		return true
	}
	return false
}

// HostAddress renders a node address as a pg_hba address column: single-host
// CIDR for IP literals, the name itself otherwise.
func HostAddress(addr string) string {
	ip := net.ParseIP(addr)
	switch {
	case ip == nil:
		return addr
	case ip.To4() != nil:
		return ip.String() + "/32"
	default:
		return ip.String() + "/128"
	}
}
