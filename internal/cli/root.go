// Package cli implements the conductor command line.
package cli

import (
	"github.com/soyeahso/conductor/internal/config"
	"github.com/soyeahso/conductor/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	envFile  string

	// loaded by the root command before any subcommand runs
	paths config.Paths
	cfg   config.Config
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conductor",
		Short: "Delegate tasks to agents and run tool workflows",
		Long: "Conductor delegates tasks to remote agents with retries and a circuit breaker,\n" +
			"runs dependency-ordered workflows of tool calls, and mines recurring tool\n" +
			"sequences from call logs to suggest new workflows.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			if envFile == "" {
				envFile = paths.EnvFile
			}
			if err := config.LoadEnvFile(envFile); err != nil {
				return err
			}

			cfg, err = config.Load(paths.Config)
			if err != nil {
				return err
			}

			level := cfg.Logging.Level
			if logLevel != "" {
				level = logLevel
			}
			log = logging.NewWithStyle(nil, level, cfg.Logging.ConsoleStyle)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.conductor/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", ".env file loaded before config expansion (default ~/.conductor/.env)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newAgentsCmd())
	cmd.AddCommand(newDelegateCmd())
	cmd.AddCommand(newWorkflowCmd())
	cmd.AddCommand(newMineCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
