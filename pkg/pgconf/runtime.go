package pgconf

import (
	"regexp"
	"slices"
	"strings"
)

// Directive is one `key = value` runtime setting. Value is written verbatim,
// so string settings carry their own quotes ("'*'").
type Directive struct {
	Key   string
	Value string
}

func (d Directive) String() string {
	return d.Key + " = " + d.Value
}

// Directives converts a settings map to a key-ordered directive list.
func Directives(settings map[string]string) []Directive {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]Directive, 0, len(keys))
	for _, k := range keys {
		out = append(out, Directive{Key: k, Value: settings[k]})
	}
	return out
}

// RuntimeResult describes the outcome of ApplyRuntimeConfig.
type RuntimeResult struct {
	// Changed lists keys whose line was rewritten.
	Changed []string
	// Missing lists keys with no line at all, commented or active. They are
	// left alone; the caller reports them as warnings.
	Missing []string
}

func (r RuntimeResult) HasChanges() bool {
	return len(r.Changed) > 0
}

// ApplyRuntimeConfig rewrites, for every directive, one existing line for
// that key. The last active line wins; if there is none, the last commented
// line is uncommented. A key without any line is never appended.
func ApplyRuntimeConfig(doc []byte, directives []Directive) ([]byte, RuntimeResult) {
	lines := strings.Split(string(doc), "\n")
	var res RuntimeResult

	for _, d := range directives {
		idx := findSettingLine(lines, d.Key)
		if idx < 0 {
			res.Missing = append(res.Missing, d.Key)
			continue
		}
		want := d.String()
		if lines[idx] == want {
			continue
		}
		lines[idx] = want
		res.Changed = append(res.Changed, d.Key)
	}

	if !res.HasChanges() {
		return doc, res
	}
	return []byte(strings.Join(lines, "\n")), res
}

func settingPattern(key string) *regexp.Regexp {
	return regexp.MustCompile(`^\s*(#\s*)?` + regexp.QuoteMeta(key) + `\s*(=|\s)`)
}

func findSettingLine(lines []string, key string) int {
	re := settingPattern(key)
	active, commented := -1, -1
	for i, line := range lines {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if m[1] == "" {
			active = i
		} else {
			commented = i
		}
	}
	if active >= 0 {
		return active
	}
	return commented
}
