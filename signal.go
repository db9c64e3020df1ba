package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// exitInterrupted is the conventional status for a process killed by SIGINT.
const exitInterrupted = 130

// forceExit ends the process on a second signal. Replaced in tests.
var forceExit = func() { os.Exit(exitInterrupted) }

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and calls forceExit on the second. Cancelling lets a waiting command stop
// polling and lets the pool finish the jobs it already holds.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		var sig os.Signal

		select {
		case sig = <-sigCh:
		case <-ctx.Done():
			return
		}

		logger.Info("shutting down, finishing running jobs",
			slog.String("signal", sig.String()),
		)
		statusf("Stopping; press Ctrl-C again to exit immediately.\n")
		cancel()

		select {
		case sig = <-sigCh:
		case <-parent.Done():
			return
		}

		logger.Warn("forcing exit", slog.String("signal", sig.String()))
		forceExit()
	}()

	return ctx
}
