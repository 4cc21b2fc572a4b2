package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"docrag/internal/service"
)

func newIndexCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "index <recognition-dir>",
		Short: "Index a recognition directory and print a report",
		Long: `Extract chunks from every JSON file under a recognition directory, embed
them and report what was indexed. Files that cannot be parsed are listed
with the reason they were skipped.

Examples:
  docrag index api_outputs/run_20240101/recognition_json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath())
			if err != nil {
				return err
			}
			defer a.close()

			svc, err := a.buildService()
			if err != nil {
				return err
			}
			report, err := svc.Index(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("index failed: %w", err)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func printReport(w io.Writer, r *service.IndexReport) {
	fmt.Fprintf(w, "Indexed %d chunks across %d pages from %s\n", r.Chunks, r.Pages, r.Dir)
	fmt.Fprintf(w, "Generation: %s\n", r.Generation)
	for _, f := range r.Files {
		if f.Skipped {
			fmt.Fprintf(w, "  skipped %s: %s\n", f.Path, f.Reason)
		}
	}
	if r.Summary != "" {
		fmt.Fprintf(w, "\nSummary:\n%s\n", r.Summary)
	}
}
