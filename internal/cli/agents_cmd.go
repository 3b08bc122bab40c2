package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/soyeahso/conductor/internal/agent"
	"github.com/soyeahso/conductor/internal/config"
	"github.com/soyeahso/conductor/internal/delegation"
	"github.com/soyeahso/conductor/internal/hooks"
	"github.com/spf13/cobra"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agents",
		Aliases: []string{"agent"},
		Short:   "Inspect the agent registry",
	}
	cmd.AddCommand(newAgentsListCmd())
	cmd.AddCommand(newAgentsWatchCmd())
	return cmd
}

func newAgentsListCmd() *cobra.Command {
	var (
		capability string
		tags       []string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agents, optionally filtered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			agents := rt.client.Discover(delegation.DiscoverOptions{
				Capability: capability,
				Tags:       tags,
			})
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(agents)
			}
			return printAgents(cmd.OutOrStdout(), agents)
		},
	}

	cmd.Flags().StringVar(&capability, "capability", "", "only agents advertising this capability")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "only agents carrying one of these tags (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print agents as JSON")
	return cmd
}

func printAgents(out io.Writer, agents []agent.Capability) error {
	if len(agents) == 0 {
		fmt.Fprintln(out, "No agents registered.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROTOCOL\tSTREAMING\tCAPABILITIES\tENDPOINT")
	for _, a := range agents {
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
			a.ID, a.Protocol, a.SupportsStreaming, strings.Join(a.Capabilities, ","), a.Endpoint)
	}
	return w.Flush()
}

func newAgentsWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Reload the agent registry whenever the agents file changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			path := paths.AgentsPath(&cfg)
			out := cmd.OutOrStdout()
			err = config.WatchAgents(ctx, path,
				func(doc config.AgentsDocument) {
					if err := rt.reloadAgents(ctx, doc); err != nil {
						log.Warn().Err(err).Msg("agent reload rejected")
						return
					}
					fmt.Fprintf(out, "Reloaded %d agent(s)\n", rt.agents.Count())
				},
				func(err error) {
					log.Warn().Err(err).Str("path", path).Msg("agent file reload failed")
				},
			)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Watching %s (%d agent(s)). Press Ctrl+C to stop.\n", path, rt.agents.Count())
			<-ctx.Done()
			return nil
		},
	}
}

// reloadAgents swaps in the agents from doc merged with the inline config
// entries. An invalid document leaves the registry untouched.
func (rt *runtime) reloadAgents(ctx context.Context, doc config.AgentsDocument) error {
	agents, err := agent.FromConfigAll(config.MergeAgents(doc.Agents, cfg.Agents))
	if err != nil {
		return err
	}
	if err := rt.agents.Replace(agents); err != nil {
		return err
	}
	rt.hooks.Emit(ctx, hooks.EventAgentsReloaded, map[string]any{
		"count":      len(agents),
		"generation": rt.agents.Generation(),
	})
	return nil
}
