package cli

import (
	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-pgha/pkg/report"
)

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	var primary string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what converge would do without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			if primary == "" {
				primary = cfg.Primary
			}
			plan, planErr := rootOpts.runner(cfg).Plan(ctx, primary, cfg.TopologyNodes())
			if plan != nil {
				if err := report.Plan(cmd.OutOrStdout(), plan, rootOpts.format); err != nil {
					return WrapExitError(ExitCommandError, "failed to write plan", err)
				}
			}
			if planErr != nil {
				return runError("planning failed", planErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&primary, "primary", "", "node to plan as primary (default: primary from the config)")

	return cmd
}
