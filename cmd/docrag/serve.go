package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docrag/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath func() string) *cobra.Command {
	var recognitionDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve /rag/init, /rag/status and /rag/query over HTTP, plus /health and
/metrics. With --recognition-dir the directory is indexed before the
listener starts.

Examples:
  docrag serve
  docrag serve --recognition-dir api_outputs/run_1/recognition_json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(configPath())
			if err != nil {
				return err
			}
			defer a.close()

			svc, err := a.buildService()
			if err != nil {
				return err
			}
			srv, err := httpapi.NewServer(svc, a.logger, &httpapi.Config{
				Host:           a.cfg.Server.Host,
				Port:           a.cfg.Server.Port,
				OutputsDir:     a.cfg.Server.OutputsDir,
				RequestTimeout: a.cfg.RequestTimeout(),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if recognitionDir != "" {
				report, err := srv.Init(ctx, recognitionDir)
				if err != nil {
					return fmt.Errorf("initial index failed: %w", err)
				}
				a.logger.Info("initial index ready", zap.String("dir", report.Dir), zap.Int("chunks", report.Chunks))
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&recognitionDir, "recognition-dir", "", "index this directory on startup")
	return cmd
}
