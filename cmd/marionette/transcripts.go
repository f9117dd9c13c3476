package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/go-go-golems/marionette/pkg/transcript"
	"github.com/spf13/cobra"
)

func newTranscriptsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcripts",
		Short: "Inspect saved runs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openTranscripts()
			if err != nil {
				return err
			}
			defer func() {
				_ = store.Close()
			}()
			records, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list, 0 for all")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a run and its turns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openTranscripts()
			if err != nil {
				return err
			}
			defer func() {
				_ = store.Close()
			}()
			rec, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRecord(cmd.OutOrStdout(), rec)
			return nil
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func openTranscripts() (*transcript.Store, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}
	return transcript.Open(s.Transcript.Path)
}

func printRecords(w io.Writer, records []transcript.Record) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN ID\tVARIANT\tSTARTED\tOUTCOME\tSTOP\tTASK")
	for _, r := range records {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.Variant, r.StartedAt.Format("2006-01-02 15:04:05"), r.Outcome, r.StopReason, shorten(r.Task, 60))
	}
	_ = tw.Flush()
}

func printRecord(w io.Writer, r transcript.Record) {
	_, _ = fmt.Fprintf(w, "run:        %s\n", r.RunID)
	_, _ = fmt.Fprintf(w, "variant:    %s\n", r.Variant)
	_, _ = fmt.Fprintf(w, "task:       %s\n", r.Task)
	_, _ = fmt.Fprintf(w, "outcome:    %s (%s) after %d iterations\n", r.Outcome, r.StopReason, r.Iterations)
	_, _ = fmt.Fprintf(w, "duration:   %s\n", r.FinishedAt.Sub(r.StartedAt))
	if r.Error != "" {
		_, _ = fmt.Fprintf(w, "error:      %s\n", r.Error)
	}
	for i, step := range r.Plan {
		_, _ = fmt.Fprintf(w, "plan %d:     %s\n", i+1, step)
	}
	if r.Answer != "" {
		_, _ = fmt.Fprintf(w, "answer:     %s\n", r.Answer)
	}
	for _, t := range r.Turns {
		_, _ = fmt.Fprintf(w, "\n--- %d %s\n%s\n", t.Sequence, t.Kind, t.Text)
	}
}

func shorten(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
