package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docrag/internal/domain"
)

func newAskCmd(configPath func() string) *cobra.Command {
	var (
		k           int
		window      int
		noRelations bool
		group       int
	)
	cmd := &cobra.Command{
		Use:   "ask <recognition-dir> <question...>",
		Short: "Index a recognition directory and answer one question",
		Long: `Index a recognition directory, answer a single question and print the
answer with its attributed sources as JSON.

Examples:
  docrag ask run_1/recognition_json "What is the invoice total?"
  docrag ask --k 5 --no-relations run_1/recognition_json who signed the contract`,
		Args: cobra.MinimumNArgs(2),
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
			if _, err := svc.Index(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("index failed: %w", err)
			}

			req := domain.QueryRequest{
				Question:      strings.Join(args[1:], " "),
				MaxSources:    k,
				MaxGroupItems: group,
			}
			if cmd.Flags().Changed("window") {
				req.RelationWindow = &window
			}
			if noRelations {
				off := false
				req.IncludeRelations = &off
			}
			answer, err := svc.Query(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("query failed: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(answer)
		},
	}
	cmd.Flags().IntVar(&k, "k", 0, "number of seed chunks to retrieve (default from config)")
	cmd.Flags().IntVar(&window, "window", 0, "line distance for neighbor expansion (default from config)")
	cmd.Flags().BoolVar(&noRelations, "no-relations", false, "answer from seed chunks only")
	cmd.Flags().IntVar(&group, "group", 0, "maximum items per source group (default from config)")
	return cmd
}
