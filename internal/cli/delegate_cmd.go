package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/soyeahso/conductor/internal/delegation"
	"github.com/spf13/cobra"
)

func newDelegateCmd() *cobra.Command {
	var (
		pairs          []string
		timeout        time.Duration
		idempotencyKey string
		stream         bool
		asJSON         bool
	)

	cmd := &cobra.Command{
		Use:   "delegate <agent-id> <task>",
		Short: "Send a task to a registered agent",
		Example: "  conductor delegate summarizer \"summarize the release notes\" --context lang=en\n" +
			"  conductor delegate writer \"draft a reply\" --stream",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskCtx, err := parseAssignments(pairs)
			if err != nil {
				return err
			}

			rt, err := newRuntime(runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			req := delegation.Request{
				AgentID:        args[0],
				Task:           args[1],
				Context:        taskCtx,
				Timeout:        timeout,
				IdempotencyKey: idempotencyKey,
			}
			out := cmd.OutOrStdout()

			if stream {
				events, err := rt.client.DelegateStream(ctx, req)
				if err != nil {
					return err
				}
				return printStream(out, events)
			}

			resp, err := rt.client.Delegate(ctx, req)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, resp)
			}
			if !resp.Success {
				return fmt.Errorf("delegation to %s failed after %d attempt(s): %s: %s",
					resp.AgentID, resp.Attempts(), resp.ErrorKind(), resp.ErrorMessage())
			}
			return writeJSON(out, resp.Result)
		},
	}

	cmd.Flags().StringArrayVarP(&pairs, "context", "c", nil, "task context entry as key=value (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-attempt timeout (default from config)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "reuse a cached successful response for this key")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the agent's output as it is produced")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response envelope as JSON")
	return cmd
}

// printStream writes chunks as they arrive. A retried stream starts over,
// which is marked so repeated output is recognisable.
func printStream(out io.Writer, events <-chan delegation.StreamEvent) error {
	attempt := 0
	for ev := range events {
		switch ev.Type {
		case delegation.StreamChunk:
			if ev.Attempt != attempt {
				if attempt != 0 {
					fmt.Fprintf(out, "\n--- retry (attempt %d) ---\n", ev.Attempt)
				}
				attempt = ev.Attempt
			}
			fmt.Fprint(out, ev.Content)
		case delegation.StreamDone:
			fmt.Fprintln(out)
			return nil
		case delegation.StreamError:
			fmt.Fprintln(out)
			return ev.Err
		}
	}
	return nil
}

// parseAssignments turns key=value pairs into a map, typing values the
// same way "config set" does.
func parseAssignments(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected key=value", p)
		}
		out[k] = parseValue(v)
	}
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
