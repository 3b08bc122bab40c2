package cli

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/soyeahso/conductor/internal/store"
	"github.com/soyeahso/conductor/internal/workflow"
	"github.com/spf13/cobra"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Validate and run workflow templates",
	}
	cmd.AddCommand(newWorkflowValidateCmd())
	cmd.AddCommand(newWorkflowRunCmd())
	cmd.AddCommand(newWorkflowRunsCmd())
	return cmd
}

func newWorkflowValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a template and print its execution levels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl, err := workflow.LoadTemplate(args[0])
			if err != nil {
				return err
			}
			levels, err := workflow.ResolveLevels(tmpl)
			if err != nil {
				return err
			}
			printLevels(cmd.OutOrStdout(), tmpl, levels)
			return nil
		},
	}
}

func printLevels(out io.Writer, tmpl *workflow.Template, levels [][]*workflow.Step) {
	fmt.Fprintf(out, "Workflow %q: %d step(s) in %d level(s)\n", tmpl.Name, len(tmpl.Steps), len(levels))
	for i, level := range levels {
		ids := make([]string, len(level))
		for j, s := range level {
			ids[j] = s.ID
		}
		fmt.Fprintf(out, "  level %d: %s\n", i, strings.Join(ids, ", "))
	}
}

func newWorkflowRunCmd() *cobra.Command {
	var (
		vars        []string
		asJSON      bool
		maxParallel int
		record      bool
	)

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a workflow template",
		Example: "  conductor workflow run etl.yaml --var source=s3://bucket/in\n" +
			"  conductor workflow run etl.yaml --json --max-parallel 4",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl, err := workflow.LoadTemplate(args[0])
			if err != nil {
				return err
			}
			variables, err := parseAssignments(vars)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("max-parallel") {
				cfg.Workflow.MaxParallel = maxParallel
			}
			if !cmd.Flags().Changed("record") {
				record = cfg.Workflow.Record
			}

			rt, err := newRuntime(runtimeOptions{record: record})
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			wctx, runErr := rt.engine().Execute(ctx, tmpl, variables)
			if wctx == nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			summary := wctx.Summary()
			if asJSON {
				if err := writeJSON(out, map[string]any{
					"summary": summary,
					"results": wctx.Results(),
				}); err != nil {
					return err
				}
			} else {
				printSummary(out, tmpl, summary)
			}

			if runErr != nil {
				return runErr
			}
			if !wctx.Succeeded() {
				return fmt.Errorf("workflow %s: %d step(s) failed", tmpl.Name, summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&vars, "var", nil, "workflow variable as key=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary and step results as JSON")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "max concurrent steps per level, 0 = unlimited")
	cmd.Flags().BoolVar(&record, "record", false, "store step calls for pattern mining (default from config)")
	return cmd
}

func printSummary(out io.Writer, tmpl *workflow.Template, s workflow.Summary) {
	fmt.Fprintf(out, "Workflow %s (%s): %d succeeded, %d failed, %d skipped in %s\n",
		s.Workflow, s.ExecutionID, s.Succeeded, s.Failed, s.Skipped, s.Duration.Round(time.Millisecond))
	for _, step := range tmpl.Steps {
		line := fmt.Sprintf("  %-8s %s", s.Steps[step.ID], step.ID)
		if msg, ok := s.Errors[step.ID]; ok {
			line += ": " + msg
		}
		fmt.Fprintln(out, line)
	}
}

func newWorkflowRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [workflow]",
		Short: "List recorded workflow runs, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(paths.StorePath(&cfg), log)
			if err != nil {
				return err
			}
			defer db.Close()

			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			runs, err := store.NewRuns(db).Recent(cmd.Context(), name, limit)
			if err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")
	return cmd
}

func printRuns(out io.Writer, runs []store.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINISHED\tWORKFLOW\tSTATUS\tOK\tFAILED\tSKIPPED\tDURATION\tEXECUTION")
	for _, r := range runs {
		status := "failed"
		if r.Success {
			status = "success"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%.0fms\t%s\n",
			r.FinishedAt.Local().Format("2006-01-02 15:04:05"), r.Workflow, status,
			r.Succeeded, r.Failed, r.Skipped, r.DurationMS, r.ExecutionID)
	}
	return w.Flush()
}
