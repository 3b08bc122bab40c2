package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/soyeahso/conductor/internal/config"
	"github.com/soyeahso/conductor/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		addr  string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tool server",
		Long: "Serve exposes local tools, agent-routed tools and configured tool servers\n" +
			"over HTTP, along with workflow execution and Prometheus metrics.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating directories: %w", err)
			}

			rt, err := newRuntime(runtimeOptions{record: cfg.Workflow.Record, metrics: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if watch {
				path := paths.AgentsPath(&cfg)
				err := config.WatchAgents(ctx, path,
					func(doc config.AgentsDocument) {
						if err := rt.reloadAgents(ctx, doc); err != nil {
							log.Warn().Err(err).Msg("agent reload rejected")
						}
					},
					func(err error) {
						log.Warn().Err(err).Str("path", path).Msg("agent file reload failed")
					},
				)
				if err != nil {
					return err
				}
			}

			rt.serveMetrics(ctx, cfg.Metrics.Addr)

			srv := server.New(cfg.Server, rt.executor(), log,
				server.WithHooks(rt.hooks),
				server.WithMetrics(rt.metrics.Handler()),
				server.WithWorkflows(rt.engine()),
			)
			log.Info().
				Int("agents", rt.agents.Count()).
				Bool("record", cfg.Workflow.Record).
				Bool("watch", watch).
				Msg("starting conductor")
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 127.0.0.1:7420)")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload agents when the agents file changes")
	return cmd
}
