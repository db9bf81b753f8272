package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-pgha/pkg/config"
	"github.com/dd0wney/cluso-pgha/pkg/converge"
	"github.com/dd0wney/cluso-pgha/pkg/journal"
	"github.com/dd0wney/cluso-pgha/pkg/logging"
	"github.com/dd0wney/cluso-pgha/pkg/metrics"
	"github.com/dd0wney/cluso-pgha/pkg/report"
)

// ConvergeOptions holds flags for the converge command.
type ConvergeOptions struct {
	*RootOptions
	Primary   string
	NoJournal bool
}

// NewConvergeCommand creates the converge command.
func NewConvergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConvergeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "converge",
		Short: "Bring every node to its role and verify replication",
		Long: `Probe every node, then converge the primary first and the replicas in
parallel. Replicas without the cluster's sync marker are wiped and copied from
the floating address. The run ends by waiting for every replica to stream.

Example:
  pgha converge -c /etc/pgha/cluster.yaml
  pgha converge --primary db2 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConverge(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Primary, "primary", "", "node to converge as primary (default: primary from the config)")
	cmd.Flags().BoolVar(&opts.NoJournal, "no-journal", false, "do not record the run in the journal")

	return cmd
}

func runConverge(cmd *cobra.Command, opts *ConvergeOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	release, err := acquireLock(cfg.LockFile)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	primary := cfg.Primary
	if opts.Primary != "" {
		primary = opts.Primary
	}

	rep, runErr := opts.runner(cfg).Converge(ctx, primary, cfg.TopologyNodes())

	if !opts.NoJournal {
		recordRun(ctx, cfg, rep, opts.logger)
	}
	exportMetrics(cfg, rep, opts.logger)

	if err := report.Run(cmd.OutOrStdout(), rep, opts.format); err != nil {
		return WrapExitError(ExitCommandError, "failed to write report", err)
	}
	if runErr != nil {
		return runError("convergence failed", runErr)
	}
	return nil
}

// recordRun journals rep. Journal failures are logged, never fatal: the
// cluster state is already what it is.
func recordRun(ctx context.Context, cfg *config.Config, rep *converge.Report, logger logging.Logger) {
	if cfg.JournalPath == "" || rep == nil || rep.RunID == "" {
		return
	}
	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		logger.Warn("journal unavailable", logging.Path(cfg.JournalPath), logging.Error(err))
		return
	}
	defer j.Close()

	// record even when the run was interrupted
	if err := j.Record(context.WithoutCancel(ctx), rep); err != nil {
		logger.Warn("failed to record run", logging.RunID(rep.RunID), logging.Error(err))
	}
}

func exportMetrics(cfg *config.Config, rep *converge.Report, logger logging.Logger) {
	if cfg.MetricsFile == "" {
		return
	}
	reg := metrics.NewRegistry()
	reg.ObserveRun(rep)
	if err := reg.WriteTextfile(cfg.MetricsFile); err != nil {
		logger.Warn("failed to export metrics", logging.Path(cfg.MetricsFile), logging.Error(err))
	}
}
