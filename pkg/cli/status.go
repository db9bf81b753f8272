package cli

import (
	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-pgha/pkg/logging"
	"github.com/dd0wney/cluso-pgha/pkg/pacemaker"
	"github.com/dd0wney/cluso-pgha/pkg/report"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe every node and show what was found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			plan, planErr := rootOpts.runner(cfg).Plan(ctx, cfg.Primary, cfg.TopologyNodes())
			if plan == nil {
				return runError("probe failed", planErr)
			}

			var info *pacemaker.ClusterInfo
			if host, err := Dial(ctx, cfg, cfg.Primary); err != nil {
				rootOpts.logger.Warn("cannot inspect pacemaker", logging.Node(cfg.Primary), logging.Error(err))
			} else {
				ci, err := pacemaker.DetectCluster(ctx, host)
				host.Close()
				if err != nil {
					rootOpts.logger.Warn("cannot inspect pacemaker", logging.Node(cfg.Primary), logging.Error(err))
				} else {
					info = &ci
				}
			}

			if err := report.Status(cmd.OutOrStdout(), plan, info, rootOpts.format); err != nil {
				return WrapExitError(ExitCommandError, "failed to write status", err)
			}
			if planErr != nil {
				rootOpts.logger.Warn("cluster needs attention", logging.Error(planErr))
			}
			return nil
		},
	}
}
