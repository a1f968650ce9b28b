package cmd

import (
	"context"
	"errors"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gcodeml/internal/observability"
	"github.com/3leaps/gcodeml/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the task database over HTTP",
	Long: `Start the HTTP API over the task database.

Routes:
  GET /health                         readiness (task database reachable)
  GET /health/live                    liveness
  GET /version                        build metadata
  GET /v1/sessions                    ingested sessions
  GET /v1/sessions/{name}             session summary
  GET /v1/sessions/{name}/clusters    jobs and failures per cluster
  GET /metrics                        Prometheus metrics

Example:
  gcodeml serve
  gcodeml serve --port 9000 --db taskdb.sqlite`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides server.port)")
	serveCmd.Flags().StringVar(&taskdbPath, "db", "", "Task database path (overrides taskdb.path)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	logger, err := observability.NewServerLogger(binaryName, cfg.Logging.Level)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithVersion(versionInfo.Version),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	}

	if taskdbPath != "" || taskDBConfigured(cfg) {
		db, err := openTaskDB(ctx, cfg)
		if err != nil {
			return exitError(exitCodeFor(err, foundry.ExitFileReadError), "Failed to open task database", err)
		}
		defer func() { _ = db.Close() }()
		opts = append(opts, server.WithTaskDB(db))
	} else {
		logger.Warn("No task database configured; session routes will answer 503")
	}

	if cfg.Metrics.Enabled {
		metrics, handler, err := observability.NewMetrics(ctx)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to initialize metrics", err)
		}
		opts = append(opts, server.WithMetrics(metrics, handler))
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return exitError(foundry.ExitExternalServiceUnavailable, "Shutdown failed", err)
	}
	return <-errCh
}
