package converge

import (
	"context"
	"fmt"

	"github.com/dd0wney/cluso-pgha/pkg/pgctl"
)

// ResyncAction replaces a never-synced replica's data directory with a fresh
// streaming copy of the primary. It is only ever planned when the replica's
// sync marker was absent at probe time.
type ResyncAction struct {
	run     *nodeRun
	DataDir string
	Marker  string
	Source  pgctl.BackupSource
}

func (a ResyncAction) Execute(ctx context.Context) error {
	r := a.run
	fail := func(err error) error { return &ResyncFailure{Node: r.node.Name, Err: err} }

	if r.managed && r.running {
		// the resource manager would restart it under our feet
		return fail(fmt.Errorf("%w; put the resource in maintenance or stop it first", ErrManagedInstanceRunning))
	}
	if !r.managed {
		// unconditional: liveness may have degraded to false
		if err := r.h.Service.Stop(ctx); err != nil {
			return fail(err)
		}
		if r.running {
			r.changed("stopped service")
		}
		r.running = false
	}

	if err := r.h.Files.RemoveAll(ctx, a.DataDir); err != nil {
		return fail(fmt.Errorf("removing %s: %w", a.DataDir, err))
	}
	r.changed("removed %s", a.DataDir)

	if err := r.h.Engine.BaseBackup(ctx, a.Source); err != nil {
		// never leave a partial copy behind
		if rmErr := r.h.Files.RemoveAll(context.WithoutCancel(ctx), a.DataDir); rmErr != nil {
			r.warn("removing partial copy: %v", rmErr)
		}
		return fail(err)
	}

	ok, err := r.h.Files.Exists(ctx, a.Marker)
	if err != nil {
		return fail(err)
	}
	if !ok {
		return fail(ErrMarkerNotCopied)
	}
	r.changed("copied data directory from %s", a.Source.Host)
	return nil
}

func (a ResyncAction) String() string {
	return fmt.Sprintf("Resync(dir=%s, from=%s)", a.DataDir, a.Source.Host)
}

func (a ResyncAction) Mutating() bool { return true }
