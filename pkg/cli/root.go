// Package cli implements the pgha command line.
package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-pgha/pkg/config"
	"github.com/dd0wney/cluso-pgha/pkg/converge"
	"github.com/dd0wney/cluso-pgha/pkg/logging"
	"github.com/dd0wney/cluso-pgha/pkg/report"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string
	LogLevel   string

	// Connect overrides how nodes are reached; nil dials per the config.
	Connect func(cfg *config.Config, logger logging.Logger) converge.ConnectFunc

	format report.Format
	logger logging.Logger
}

// NewRootCommand creates the root command for the pgha CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pgha",
		Short: "Converge PostgreSQL primary/replica clusters",
		Long: `pgha drives a set of PostgreSQL nodes to one primary with streaming replicas,
ready to be managed by Pacemaker. Every run probes the nodes, plans only the
missing steps and verifies replication at the end.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(opts.Format)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --format", err)
			}
			opts.format = f
			opts.logger = newLogger(cmd.ErrOrStderr(), opts.LogLevel)
			return nil
		},
	}

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "/etc/pgha/cluster.yaml", "cluster config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", level, "log level (debug|info|warn|error)")

	cmd.AddCommand(NewConvergeCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewBindCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

func newLogger(w io.Writer, level string) logging.Logger {
	return logging.NewJSONLogger(w, logging.ParseLevel(level))
}

// loadConfig reads the config named by --config.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

func (o *RootOptions) connector(cfg *config.Config) converge.ConnectFunc {
	if o.Connect != nil {
		return o.Connect(cfg, o.logger)
	}
	return Connector(cfg, o.logger)
}

func (o *RootOptions) runner(cfg *config.Config) *converge.Runner {
	return converge.NewRunner(cfg.Settings(), o.connector(cfg), converge.WithLogger(o.logger))
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		io.WriteString(stderr, "pgha: "+err.Error()+"\n")
	}
	return GetExitCode(err)
}
