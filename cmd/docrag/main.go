// Command docrag answers questions about OCR-recognized documents.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:   "docrag",
		Short: "Question answering over recognized document pages",
		Long: `docrag indexes the per-page JSON produced by a document recognition run
and answers questions about it with page/line attributed sources.

Configuration is read from --config, ./config.yaml or
~/.config/docrag/config.yaml, and can be overridden with DOCRAG_* variables.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")

	configPath := func() string { return cfgPath }
	root.AddCommand(
		newIndexCmd(configPath),
		newAskCmd(configPath),
		newServeCmd(configPath),
		newTUICmd(configPath),
	)
	return root
}
