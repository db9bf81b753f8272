package cli

import (
	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-pgha/pkg/pacemaker"
	"github.com/dd0wney/cluso-pgha/pkg/report"
)

// NewBindCommand creates the bind command.
func NewBindCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bind",
		Short: "Create the Pacemaker resources and constraints for the cluster",
		Long: `Create the floating IP and promotable database resources, the colocation
of the floating IP with the promoted instance and the promote-then-start order,
skipping whatever already exists. Requires an existing Pacemaker cluster.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
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

			host, err := Dial(ctx, cfg, cfg.Primary)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to connect to "+cfg.Primary, err)
			}
			defer host.Close()

			res, err := pacemaker.NewBinder(host).Bind(ctx, cfg.BindSpec())
			if err != nil {
				return WrapExitError(ExitFailure, "bind failed", err)
			}
			if err := report.Bind(cmd.OutOrStdout(), &res, rootOpts.format); err != nil {
				return WrapExitError(ExitCommandError, "failed to write result", err)
			}
			return nil
		},
	}
}
