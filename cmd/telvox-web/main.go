// Command telvox-web serves the browser demo channel: the same dialog
// pipeline as the PBX server, but fed by microphone PCM over a plain
// websocket and played back through the page instead of a call leg.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/telvox/telvox/internal/config"
	"github.com/telvox/telvox/internal/providers"
	"github.com/telvox/telvox/internal/web"
)

func main() {
	os.Exit(run())
}

func run() int {
	robotDir := flag.String("robot", ".", "path to the robot directory")
	addr := flag.String("addr", ":8081", "listen address for the demo channel")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn or error")
	flag.Parse()

	cfg, err := config.Load(*robotDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telvox-web: %v\n", err)
		return 1
	}

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	reg := config.NewRegistry()
	providers.Register(reg)

	handler := web.New(cfg, reg, logger)
	srv := &http.Server{
		Addr:    *addr,
		Handler: handler.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("demo channel up",
		"addr", *addr,
		"robot", cfg.RobotName,
		"mode", cfg.Mode,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		slog.Error("serve error", "err", err)
		return 1
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
