// Package app wires all telvox subsystems into a running application.
//
// The App struct owns the full lifecycle: New connects the telemetry
// backends, metrics provider and notification channel, Run serves the PBX
// websocket endpoint plus the admin endpoint, and Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithRecorder,
// WithCommandRunner, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telvox/telvox/internal/config"
	"github.com/telvox/telvox/internal/health"
	"github.com/telvox/telvox/internal/notify"
	"github.com/telvox/telvox/internal/observe"
	"github.com/telvox/telvox/internal/playback"
	"github.com/telvox/telvox/internal/scenario"
	"github.com/telvox/telvox/internal/server"
	"github.com/telvox/telvox/internal/session"
	"github.com/telvox/telvox/internal/telemetry"
	"github.com/telvox/telvox/pkg/provider/realtime"
)

// adminShutdownTimeout bounds the admin server drain during Shutdown.
const adminShutdownTimeout = 3 * time.Second

// App owns all subsystem lifetimes and serves the voice dialog endpoint.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	logger   *slog.Logger

	recorder  *telemetry.Recorder
	pgSink    *telemetry.PostgresSink
	mongoSink *telemetry.MongoSink
	redisSink *telemetry.RedisSink
	telegram  *notify.Telegram
	runner   playback.CommandRunner
	dial     func(ctx context.Context, cfg realtime.Config) (realtime.Conn, error)

	server   *server.Server
	adminSrv *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the application logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithRecorder injects a telemetry recorder instead of building sinks from
// the db config.
func WithRecorder(r *telemetry.Recorder) Option {
	return func(a *App) { a.recorder = r }
}

// WithTelegram injects a notifier instead of creating one from the secrets.
func WithTelegram(t *notify.Telegram) Option {
	return func(a *App) { a.telegram = t }
}

// WithCommandRunner injects the switch command runner used for playback
// instead of the real fs_cli wrapper.
func WithCommandRunner(r playback.CommandRunner) Option {
	return func(a *App) { a.runner = r }
}

// WithDialRealtime injects the realtime dialer used by realtime-mode
// sessions.
func WithDialRealtime(fn func(ctx context.Context, cfg realtime.Config) (realtime.Conn, error)) Option {
	return func(a *App) { a.dial = fn }
}

// New creates an App by wiring all subsystems together. The registry comes
// from main (populated with the built-in providers). New performs all
// initialisation synchronously: telemetry sink connection, metrics provider
// setup, scenario seeding and server construction.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		registry: reg,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initTelemetry(ctx); err != nil {
		a.runClosers(ctx)
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	if err := a.initMetrics(ctx); err != nil {
		a.runClosers(ctx)
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}

	if a.pgSink != nil && cfg.ScenarioFile != "" {
		scenario.Seed(ctx, a.pgSink, cfg.ScenarioFile, a.logger)
	}

	if a.telegram == nil {
		a.telegram = notify.NewTelegram(cfg.Secrets.TelegramToken, cfg.Secrets.TelegramChatID)
	}

	a.server = server.New(cfg, a.newSession, server.WithLogger(a.logger))

	return a, nil
}

// initTelemetry connects the sinks named in the db config and builds the
// recorder over them. An empty value disables that sink; with all three
// empty the recorder is a no-op.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.recorder != nil {
		a.closers = append(a.closers, func(ctx context.Context) error {
			a.recorder.Close(ctx)
			return nil
		})
		return nil
	}

	recOpts := []telemetry.RecorderOption{telemetry.WithLogger(a.logger)}

	if dsn := a.cfg.DB.PostgresDSN; dsn != "" {
		sink, err := telemetry.NewPostgresSink(ctx, dsn)
		if err != nil {
			return err
		}
		a.pgSink = sink
		recOpts = append(recOpts, telemetry.WithRelationalSink(sink))
		a.logger.Info("telemetry sink connected", "sink", "postgres")
	}

	if uri := a.cfg.DB.MongoURI; uri != "" {
		db := a.cfg.DB.MongoDatabase
		if db == "" {
			db = "telvox"
		}
		sink, err := telemetry.NewMongoSink(ctx, uri, db)
		if err != nil {
			return err
		}
		a.mongoSink = sink
		recOpts = append(recOpts, telemetry.WithDocumentSink(sink))
		a.logger.Info("telemetry sink connected", "sink", "mongo", "database", db)
	}

	if url := a.cfg.DB.RedisURL; url != "" {
		sink, err := telemetry.DialRedisSink(ctx, url)
		if err != nil {
			return err
		}
		a.redisSink = sink
		recOpts = append(recOpts, telemetry.WithEphemeralSink(sink))
		a.logger.Info("telemetry sink connected", "sink", "redis")
	}

	a.recorder = telemetry.NewRecorder(recOpts...)
	a.closers = append(a.closers, func(ctx context.Context) error {
		a.recorder.Close(ctx)
		return nil
	})
	return nil
}

// initMetrics installs the OTel metrics provider and prepares the admin
// server exposing /metrics, /healthz and /readyz. Readiness covers every
// connected telemetry backend.
func (a *App) initMetrics(ctx context.Context) error {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "telvox",
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdown)

	if a.cfg.AdminAddr != "" {
		var checkers []health.Checker
		if a.pgSink != nil {
			checkers = append(checkers, health.Checker{Name: "postgres", Check: a.pgSink.Ping})
		}
		if a.mongoSink != nil {
			checkers = append(checkers, health.Checker{Name: "mongo", Check: a.mongoSink.Ping})
		}
		if a.redisSink != nil {
			checkers = append(checkers, health.Checker{Name: "redis", Check: a.redisSink.Ping})
		}

		mux := observe.AdminMux()
		health.New(checkers...).Register(mux)
		a.adminSrv = &http.Server{
			Addr:    a.cfg.AdminAddr,
			Handler: mux,
		}
	}
	return nil
}

// newSession is the server's session factory.
func (a *App) newSession(callID string) (session.Session, error) {
	return session.New(callID, a.cfg, session.Deps{
		Registry:     a.registry,
		Recorder:     a.recorder,
		Telegram:     a.telegram,
		Runner:       a.runner,
		Logger:       a.logger,
		DialRealtime: a.dial,
	})
}

// Run serves the PBX websocket endpoint and the admin endpoint until ctx is
// cancelled, then drains both.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Run(ctx)
	})

	if a.adminSrv != nil {
		g.Go(func() error {
			a.logger.Info("admin endpoint up", "addr", a.adminSrv.Addr)
			if err := a.adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("app: admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shCtx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
			defer cancel()
			return a.adminSrv.Shutdown(shCtx)
		})
	}

	return g.Wait()
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))
		shutdownErr = a.runClosers(ctx)
		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers(ctx context.Context) error {
	for i := len(a.closers) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			a.logger.Warn("shutdown deadline exceeded", "remaining", i+1)
			return ctx.Err()
		default:
		}
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("closer error", "index", i, "error", err)
		}
	}
	a.closers = nil
	return nil
}
