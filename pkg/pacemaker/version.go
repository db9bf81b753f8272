package pacemaker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Version is the major.minor of the pcs tool.
type Version struct {
	Major int
	Minor int
}

// SupportedVersions are the pcs releases whose command syntax Binder speaks.
var SupportedVersions = []Version{{0, 9}, {0, 10}, {0, 11}}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

func (v Version) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	return v.Minor < o.Minor
}

func (v Version) Supported() bool {
	for _, s := range SupportedVersions {
		if v == s {
			return true
		}
	}
	return false
}

// ParseVersion reads the first two components of a `pcs --version` line.
func ParseVersion(s string) (Version, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ".", 3)
	if len(parts) < 2 {
		return Version{}, fmt.Errorf("%w: %q", ErrBadVersion, s)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q", ErrBadVersion, s)
	}
	minorStr := parts[1]
	if i := strings.IndexFunc(minorStr, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		minorStr = minorStr[:i]
	}
	minor, err := strconv.Atoi(minorStr)
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q", ErrBadVersion, s)
	}
	return Version{Major: major, Minor: minor}, nil
}

// Version asks pcs for its version.
func (b *Binder) Version(ctx context.Context) (Version, error) {
	out, err := b.host.Run(ctx, append([]string{Command}, VersionArgs...)...)
	if err != nil {
		return Version{}, fmt.Errorf("pcs --version: %w", err)
	}
	return ParseVersion(string(out))
}
