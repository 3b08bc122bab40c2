package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/soyeahso/conductor/internal/miner"
	"github.com/soyeahso/conductor/internal/store"
	"github.com/spf13/cobra"
)

func newMineCmd() *cobra.Command {
	var (
		input   string
		since   time.Duration
		top     int
		asJSON  bool
		suggest []string
		outFile string
	)

	cmd := &cobra.Command{
		Use:   "mine",
		Short: "Find recurring tool sequences and suggest workflows",
		Long: "Mine groups tool-call records into sessions, counts contiguous tool\n" +
			"sequences and ranks them by frequency times success rate. Records come\n" +
			"from --input (a JSON array or JSON lines) or from the call-log database.",
		Example: "  conductor mine --input calls.jsonl --min-frequency 2\n" +
			"  conductor mine --since 24h --suggest fetch_data,load_data --out etl.yaml",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := loadRecords(cmd, input, since)
			if err != nil {
				return err
			}

			opts := miner.OptionsFrom(cfg.Miner)
			flags := cmd.Flags()
			if flags.Changed("min-frequency") {
				opts.MinFrequency, _ = flags.GetInt("min-frequency")
			}
			if flags.Changed("min-success-rate") {
				opts.MinSuccessRate, _ = flags.GetFloat64("min-success-rate")
			}
			if flags.Changed("max-length") {
				opts.MaxSequenceLength, _ = flags.GetInt("max-length")
			}
			if flags.Changed("bucket") {
				opts.SessionBucket, _ = flags.GetDuration("bucket")
			}

			patterns := miner.New(opts, log).Mine(records)
			out := cmd.OutOrStdout()

			if len(suggest) > 0 {
				return writeSuggestion(out, suggest, patterns, outFile)
			}

			if top > 0 && len(patterns) > top {
				patterns = patterns[:top]
			}
			if asJSON {
				return writeJSON(out, patterns)
			}
			return printPatterns(out, len(records), patterns)
		},
	}

	def := miner.DefaultOptions()
	cmd.Flags().StringVarP(&input, "input", "i", "", "read call records from this file instead of the database")
	cmd.Flags().DurationVar(&since, "since", 0, "only mine database records newer than this, 0 = all")
	cmd.Flags().Int("min-frequency", def.MinFrequency, "minimum sessions a sequence must appear in")
	cmd.Flags().Float64("min-success-rate", def.MinSuccessRate, "minimum success rate of a sequence")
	cmd.Flags().Int("max-length", def.MaxSequenceLength, "longest sequence to consider")
	cmd.Flags().Duration("bucket", def.SessionBucket, "time bucket for records without a session id")
	cmd.Flags().IntVarP(&top, "top", "n", 20, "show at most this many patterns, 0 = all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print patterns as JSON")
	cmd.Flags().StringSliceVar(&suggest, "suggest", nil, "comma-separated tools to build a workflow for")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the suggested workflow to this file")
	return cmd
}

func loadRecords(cmd *cobra.Command, input string, since time.Duration) ([]miner.CallRecord, error) {
	if input == "-" {
		return miner.ReadRecords(cmd.InOrStdin())
	}
	if input != "" {
		return miner.LoadFile(input)
	}

	db, err := store.Open(paths.StorePath(&cfg), log)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var q store.CallQuery
	if since > 0 {
		q.Since = time.Now().Add(-since)
	}
	return store.NewCallLog(db).Records(cmd.Context(), q)
}

func printPatterns(out io.Writer, records int, patterns []miner.ToolSequence) error {
	if len(patterns) == 0 {
		fmt.Fprintf(out, "No patterns found in %d record(s).\n", records)
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tFREQ\tSUCCESS\tAVG\tSEQUENCE")
	for _, p := range patterns {
		fmt.Fprintf(w, "%.2f\t%d\t%.0f%%\t%.0fms\t%s\n",
			p.Score(), p.Frequency, p.SuccessRate*100, p.AvgDurationMS, p.Key())
	}
	return w.Flush()
}

func writeSuggestion(out io.Writer, target []string, patterns []miner.ToolSequence, outFile string) error {
	tmpl, err := miner.SuggestWorkflow(target, patterns)
	if err != nil {
		return fmt.Errorf("suggest %s: %w", strings.Join(target, ","), err)
	}
	data, err := tmpl.Marshal()
	if err != nil {
		return err
	}
	if outFile == "" {
		_, err = out.Write(data)
		return err
	}
	if err := os.WriteFile(outFile, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote workflow %q (%d steps) to %s\n", tmpl.Name, len(tmpl.Steps), outFile)
	return nil
}
