// Package pkgmgr checks for and installs the PostgreSQL packages on a node.
package pkgmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/dd0wney/cluso-pgha/pkg/remote"
)

var QueryCommand = []string{"rpm", "-q"}

var InstallCommand = []string{"dnf", "-y", "install"}

// Outcome is what EnsureInstalled did.
type Outcome int

const (
	AlreadyPresent Outcome = iota
	Installed
)

func (o Outcome) String() string {
	if o == Installed {
		return "installed"
	}
	return "already-present"
}

// Manager drives the node's package manager.
type Manager struct {
	host remote.Host
}

func New(host remote.Host) *Manager {
	return &Manager{host: host}
}

// Missing returns the packages not installed. rpm -q exits non-zero when any
// package is missing and prints "package X is not installed" for each.
func (m *Manager) Missing(ctx context.Context, packages []string) ([]string, error) {
	if len(packages) == 0 {
		return nil, nil
	}
	out, err := m.host.Run(ctx, append(append([]string{}, QueryCommand...), packages...)...)
	if err == nil {
		return nil, nil
	}
	if remote.ExitCode(err) <= 0 {
		return nil, fmt.Errorf("querying packages: %w", err)
	}

	var missing []string
	for _, line := range strings.Split(string(out), "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "package ")
		if !ok {
			continue
		}
		if name, ok := strings.CutSuffix(rest, " is not installed"); ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil, fmt.Errorf("querying packages: %w", err)
	}
	return missing, nil
}

// Present is the check-only form of EnsureInstalled.
func (m *Manager) Present(ctx context.Context, packages []string) (bool, error) {
	missing, err := m.Missing(ctx, packages)
	return err == nil && len(missing) == 0, err
}

// EnsureInstalled installs whichever packages are missing.
func (m *Manager) EnsureInstalled(ctx context.Context, packages []string) (Outcome, error) {
	missing, err := m.Missing(ctx, packages)
	if err != nil {
		return AlreadyPresent, err
	}
	if len(missing) == 0 {
		return AlreadyPresent, nil
	}
	if _, err := m.host.Run(ctx, append(append([]string{}, InstallCommand...), missing...)...); err != nil {
		return AlreadyPresent, fmt.Errorf("installing %s: %w", strings.Join(missing, ", "), err)
	}
	return Installed, nil
}
