package pacemaker

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/avast/retry-go"

	"github.com/dd0wney/cluso-pgha/pkg/remote"
)

// ResourceSpec is a resource for `pcs resource create`.
type ResourceSpec struct {
	ID         string
	Agent      string
	Options    map[string]string
	Promotable bool
}

func (s ResourceSpec) sortedOptions() []string {
	out := make([]string, 0, len(s.Options))
	for _, k := range slices.Sorted(maps.Keys(s.Options)) {
		out = append(out, k+"="+s.Options[k])
	}
	return out
}

// Colocation keeps Resource on the node running With (its promoted instance
// when WithPromoted is set).
type Colocation struct {
	Resource     string
	With         string
	WithPromoted bool
}

// Order starts Then after First has started (or been promoted).
type Order struct {
	First        string
	FirstPromote bool
	Then         string
}

// Binder talks to pcs on one cluster member.
type Binder struct {
	host remote.Host

	waitAttempts uint
	waitDelay    time.Duration
}

type BinderOption func(*Binder)

// WithWait bounds how long WaitStarted polls.
func WithWait(attempts uint, delay time.Duration) BinderOption {
	return func(b *Binder) {
		b.waitAttempts = attempts
		b.waitDelay = delay
	}
}

func NewBinder(host remote.Host, opts ...BinderOption) *Binder {
	b := &Binder{host: host, waitAttempts: 20, waitDelay: 3 * time.Second}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Binder) pcs(ctx context.Context, args ...string) ([]byte, error) {
	return b.host.Run(ctx, append([]string{Command}, args...)...)
}

// CIB fetches the live cluster configuration.
func (b *Binder) CIB(ctx context.Context) (*CIB, error) {
	out, err := b.pcs(ctx, CIBArgs...)
	if err != nil {
		return nil, fmt.Errorf("reading cib: %w", err)
	}
	return ParseCIB(out)
}

func (b *Binder) ResourceExists(ctx context.Context, name string) (bool, error) {
	cib, err := b.CIB(ctx)
	if err != nil {
		return false, err
	}
	return cib.HasResource(name), nil
}

// ConstraintExists reports whether resource takes part in a colocation
// constraint, which is what marks the database as cluster-managed.
func (b *Binder) ConstraintExists(ctx context.Context, resource string) (bool, error) {
	cib, err := b.CIB(ctx)
	if err != nil {
		return false, err
	}
	return cib.HasColocation(resource), nil
}

// Cleanup clears the failure history of name so Pacemaker starts it again.
func (b *Binder) Cleanup(ctx context.Context, name string) error {
	if _, err := b.pcs(ctx, CleanupArgs(name)...); err != nil {
		return fmt.Errorf("resource cleanup %s: %w", name, err)
	}
	return nil
}

// Restart asks Pacemaker to restart name on node, the only safe way to bounce
// an instance it manages.
func (b *Binder) Restart(ctx context.Context, name, node string) error {
	if _, err := b.pcs(ctx, RestartArgs(name, node)...); err != nil {
		return fmt.Errorf("resource restart %s on %s: %w", name, node, err)
	}
	return nil
}

// WaitStarted polls until Pacemaker reports name running on node.
func (b *Binder) WaitStarted(ctx context.Context, name, node string) error {
	return retry.Do(
		func() error {
			out, err := b.host.Run(ctx, append([]string{CrmResourceCommand}, LocateArgs(name)...)...)
			if err != nil {
				return err
			}
			if !runningOn(string(out), node) {
				return fmt.Errorf("%w: %s on %s", ErrNotStarted, name, node)
			}
			return nil
		},
		retry.Attempts(b.waitAttempts),
		retry.Delay(b.waitDelay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}

// runningOn scans crm_resource --locate output:
//
//	resource pgsql-clone is running on: db1 Master
//	resource pgsql-clone is running on: db2
func runningOn(out, node string) bool {
	for _, line := range strings.Split(out, "\n") {
		_, after, ok := strings.Cut(line, "is running on:")
		if !ok {
			continue
		}
		fields := strings.Fields(after)
		if len(fields) > 0 && strings.EqualFold(fields[0], node) {
			return true
		}
	}
	return false
}

func (b *Binder) CreateResource(ctx context.Context, spec ResourceSpec, v Version) error {
	if _, err := b.pcs(ctx, CreateResourceArgs(spec, v)...); err != nil {
		return fmt.Errorf("creating resource %s: %w", spec.ID, err)
	}
	return nil
}

func (b *Binder) CreateColocation(ctx context.Context, c Colocation, v Version) error {
	if _, err := b.pcs(ctx, ColocationArgs(c, v)...); err != nil {
		return fmt.Errorf("colocating %s with %s: %w", c.Resource, c.With, err)
	}
	return nil
}

func (b *Binder) CreateOrder(ctx context.Context, o Order) error {
	if _, err := b.pcs(ctx, OrderArgs(o)...); err != nil {
		return fmt.Errorf("ordering %s before %s: %w", o.First, o.Then, err)
	}
	return nil
}
