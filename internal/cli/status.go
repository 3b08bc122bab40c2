package cli

import (
	"fmt"
	"strings"

	"github.com/soyeahso/conductor/internal/agent"
	"github.com/soyeahso/conductor/internal/config"
	"github.com/soyeahso/conductor/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show conductor status and configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Conductor %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:   %s\n", paths.Config)
			fmt.Fprintf(out, "Agents:   %s\n", paths.AgentsPath(&cfg))
			fmt.Fprintf(out, "Store:    %s\n", paths.StorePath(&cfg))
			fmt.Fprintln(out)

			d := cfg.Delegation
			fmt.Fprintf(out, "Delegation: retries=%d backoff=%s timeout=%s breaker=%d/%s cache=%d/%s\n",
				d.MaxRetries, d.RetryBackoff, d.Timeout,
				d.CircuitBreaker.Threshold, d.CircuitBreaker.Cooldown,
				d.Idempotency.MaxSize, d.Idempotency.TTL)

			w := cfg.Workflow
			parallel := "unlimited"
			if w.MaxParallel > 0 {
				parallel = fmt.Sprint(w.MaxParallel)
			}
			fmt.Fprintf(out, "Workflow:   backoff=%s parallel=%s routes=%d toolServers=%d record=%v\n",
				w.RetryBackoff, parallel, len(w.Routes), len(w.ToolServers), w.Record)

			m := cfg.Miner
			fmt.Fprintf(out, "Miner:      minFrequency=%d minSuccessRate=%.2f maxLength=%d bucket=%s\n",
				m.MinFrequency, m.MinSuccessRate, m.MaxSequenceLength, m.SessionBucket)

			metricsAddr := cfg.Metrics.Addr
			if metricsAddr == "" {
				metricsAddr = "(disabled)"
			}
			fmt.Fprintf(out, "Metrics:    %s\n", metricsAddr)
			fmt.Fprintf(out, "Server:     %s\n", cfg.Server.Addr)

			reg := agent.NewRegistry(log)
			if err := agent.Load(reg, paths.AgentsPath(&cfg), cfg.Agents); err != nil {
				fmt.Fprintf(out, "\nAgents:     error loading: %v\n", err)
			} else {
				var ids []string
				for _, a := range reg.List() {
					ids = append(ids, a.ID)
				}
				if len(ids) > 0 {
					fmt.Fprintf(out, "\nAgents (%d): %s\n", len(ids), strings.Join(ids, ", "))
				} else {
					fmt.Fprintln(out, "\nAgents:     (none registered)")
				}
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}
			return nil
		},
	}
}
