// Command telvox is the PBX-facing voice dialog server. It accepts
// mod_audio_fork websocket streams from FreeSWITCH, runs the configured
// dialog mode against them and plays replies back into the call leg.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/telvox/telvox/internal/app"
	"github.com/telvox/telvox/internal/config"
	"github.com/telvox/telvox/internal/providers"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	robotDir := flag.String("robot", ".", "path to the robot directory")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn or error")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*robotDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telvox: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	slog.Info("telvox starting",
		"robot", cfg.RobotName,
		"mode", cfg.Mode,
		"log_level", *logLevel,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	providers.Register(reg)
	for kind, names := range providers.Builtin {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, reg, app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Telvox — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Robot           : %-19s║\n", cfg.RobotName)
	fmt.Printf("║  Mode            : %-19s║\n", cfg.Mode)
	printProvider("ASR", cfg.ASR.Provider, cfg.ASR.Language)
	printProvider("LLM", cfg.LLM.Provider, cfg.LLM.Model)
	printProvider("TTS", cfg.TTS.Provider, cfg.TTS.Voice)
	printBackend("Postgres", cfg.DB.PostgresDSN)
	printBackend("Mongo", cfg.DB.MongoURI)
	printBackend("Redis", cfg.DB.RedisURL)
	if cfg.Telegram.Enabled {
		fmt.Printf("║  Telegram        : %-19s║\n", "enabled")
	} else {
		fmt.Printf("║  Telegram        : %-19s║\n", "(disabled)")
	}
	fmt.Printf("║  Listen          : %s:%-14d║\n", cfg.WSHost, cfg.WSPort)
	fmt.Printf("║  Admin           : %-19s║\n", cfg.AdminAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	fmt.Printf("║  %-16s: %-19s║\n", kind, value)
}

func printBackend(name, target string) {
	value := "(disabled)"
	if target != "" {
		value = "configured"
	}
	fmt.Printf("║  %-16s: %-19s║\n", name, value)
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
