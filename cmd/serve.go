package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/finchlabs/finch/internal/api"
	"github.com/finchlabs/finch/internal/config"
	"github.com/finchlabs/finch/internal/observability"
)

const shutdownGrace = 10 * time.Second

var serveTrustProxy bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveTrustProxy, "trust-proxy", false,
		"trust X-Real-IP/X-Forwarded-For headers (behind a reverse proxy)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(true)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	shutdownTracing, err := observability.Setup(ctx, observability.Config{
		CollectorHost: cfg.Otel.Endpoint,
		Environment:   cfg.Otel.Environment,
		ServiceName:   cfg.Otel.ServiceName,
	}, logger)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("flushing traces failed", "error", err)
		}
	}()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	server, err := api.NewServer(api.ServerConfig{
		Runner:     rt.orch,
		Logger:     logger.With("component", "api"),
		Pool:       rt.pool,
		TrustProxy: serveTrustProxy,
	})
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
