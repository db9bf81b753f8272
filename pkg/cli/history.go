package cli

import (
	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-pgha/pkg/journal"
	"github.com/dd0wney/cluso-pgha/pkg/report"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		limit int
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs from the journal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.JournalPath == "" {
				return NewExitError(ExitCommandError, "no journal_path configured")
			}
			j, err := journal.Open(cfg.JournalPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open journal", err)
			}
			defer j.Close()

			var runs []journal.Run
			if len(args) == 1 {
				run, err := j.Run(cmd.Context(), args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read run", err)
				}
				runs = []journal.Run{run}
			} else {
				cluster := cfg.ClusterName
				if all {
					cluster = ""
				}
				if runs, err = j.Recent(cmd.Context(), cluster, limit); err != nil {
					return WrapExitError(ExitCommandError, "failed to list runs", err)
				}
			}

			if err := report.History(cmd.OutOrStdout(), runs, rootOpts.format); err != nil {
				return WrapExitError(ExitCommandError, "failed to write history", err)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().BoolVar(&all, "all-clusters", false, "include runs of every cluster in the journal")

	return cmd
}
