package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/calbridge/internal/config"
	"github.com/tonimelisma/calbridge/internal/jobs"
)

// Server timeouts for the metrics listener.
const (
	metricsReadHeaderTimeout = 5 * time.Second
	metricsShutdownTimeout   = 5 * time.Second
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run background jobs from the asynq queue",
		Long: `Consume import and export jobs from Redis until interrupted.

Requires jobs.queue = "asynq". When network.metrics_addr is set, Prometheus
metrics are served there. The first SIGINT/SIGTERM stops taking new jobs and
waits for running ones; a second forces exit.`,
		RunE: runWorker,
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	if resolvedCfg.Jobs.Queue != config.QueueAsynq {
		return fmt.Errorf("worker: jobs.queue is %q; local jobs run inside the command that submits them", resolvedCfg.Jobs.Queue)
	}

	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rdb, err := a.redis(ctx)
	if err != nil {
		return err
	}

	srv := jobs.NewAsynqServer(rdb, a.cfg.Jobs.QueueName, a.cfg.Jobs.Workers, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(jobs.NewServeMux(a.runner)); err != nil {
			return fmt.Errorf("worker: starting asynq server: %w", err)
		}

		logger.Info("worker started",
			slog.String("queue", a.cfg.Jobs.QueueName),
			slog.Int("concurrency", a.cfg.Jobs.Workers),
		)

		<-gctx.Done()
		srv.Shutdown()
		logger.Info("worker stopped")

		return nil
	})

	if addr := a.cfg.Network.MetricsAddr; addr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, addr, a.metrics.Handler(), logger)
		})
	}

	return g.Wait()
}

// serveMetrics serves h at /metrics on addr until ctx ends.
func serveMetrics(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("worker: listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", slog.String("error", err.Error()))
		}
	}()

	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("worker: serving metrics: %w", err)
	}

	return nil
}
