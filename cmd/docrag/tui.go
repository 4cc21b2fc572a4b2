package main

import (
	"fmt"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"docrag/internal/tui"
)

func newTUICmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "tui <recognition-dir>",
		Short: "Index a recognition directory and ask questions interactively",
		Args:  cobra.ExactArgs(1),
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

			title := fmt.Sprintf("docrag  %s  (%d chunks, %d pages)", filepath.Base(filepath.Dir(report.Dir)), report.Chunks, report.Pages)
			m := tui.New(svc, title, report.Summary, a.cfg.RequestTimeout())
			_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
}
