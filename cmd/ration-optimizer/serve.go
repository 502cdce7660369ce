package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iwvelando/ration-optimizer/internal/server"
	"github.com/iwvelando/ration-optimizer/pkg/constants"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Serve command flags
var (
	serverConfigLocation string
	serverAddress        string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ration API over HTTP",
	Long: `Serve the ration API. Each request carries its own ration
configuration; the server configuration sets the listen address, logging and
the per-request limits: upload size, timeout, solver workers and stage count.
RATION_SERVER_* environment variables override the file.

Endpoints:
  POST /api/optimize         upload or post a YAML/JSON configuration
  POST /api/editor/optimize  JSON {config, options}
  POST /api/editor/export    JSON configuration to ordered YAML
  GET  /api/version`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serverConfigLocation, "server-config", constants.DefaultServerConfigFile, "path to server configuration file")
	serveCmd.Flags().StringVar(&serverAddress, "address", "", "listen address override")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := server.LoadConfig(serverConfigLocation)
	if err != nil {
		return err
	}
	if serverAddress != "" {
		cfg.Address = serverAddress
	}

	logger, err := initializeLogger(cfg.Logging, logLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	handler := server.NewHandler(logger, cfg.Limits(), version)
	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           http.TimeoutHandler(handler, cfg.RequestTimeout, `{"error":"request timed out"}`),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving ration API",
			zap.String("op", "main.serve"),
			zap.String("address", cfg.Address),
			zap.Int64("maxUploadSize", cfg.UploadSizeBytes()),
			zap.Duration("requestTimeout", cfg.RequestTimeout),
			zap.Int("maxWorkers", cfg.MaxWorkers),
			zap.Int("maxStages", cfg.MaxStages),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down", zap.String("op", "main.serve"))
	return srv.Shutdown(shutdownCtx)
}
