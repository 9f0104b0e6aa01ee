// Package app wires the careline runtime: config, logging, HTTP routes, the
// relay, and the assistant/backend clients.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"careline/cmd/internal/assist"
	"careline/cmd/internal/auth"
	"careline/cmd/internal/backend"
	"careline/cmd/internal/relay"
)

// App owns the HTTP server wiring and the relay dependencies.
type App struct {
	cfg Config
	log Logger

	registry *prometheus.Registry
	verifier auth.TokenVerifier

	state      *relay.State
	dispatcher *relay.Dispatcher
	gateway    *relay.Gateway
	archive    relay.Archive

	chat *chatHandlers

	dbPool    *pgxpool.Pool
	dbEnabled bool
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	verifier, err := auth.NewJWTVerifier(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := relay.NewMetrics(registry)

	state := relay.NewState(log, metrics)

	archive, dbPool, dbEnabled, err := newArchive(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	dispatcher := relay.NewDispatcher(log, state, archive, metrics)
	gateway := relay.NewGateway(log, state, dispatcher, verifier)

	api := backend.New(cfg.BackendBaseURL, cfg.BackendTimeout)

	chat := &chatHandlers{
		log:        log,
		state:      state,
		dispatcher: dispatcher,
		patient:    assist.NewPatientBot(log, api),
		doctor:     assist.NewDoctorBot(log, api),
	}

	return &App{
		cfg:        cfg,
		log:        log,
		registry:   registry,
		verifier:   verifier,
		state:      state,
		dispatcher: dispatcher,
		gateway:    gateway,
		archive:    archive,
		chat:       chat,
		dbPool:     dbPool,
		dbEnabled:  dbEnabled,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.gateway, a.chat, a.verifier, a.registry)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.archive.Close(shutdownCtx); err != nil {
		a.log.Error("archive.close.fail", "err", err)
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newArchive decides between the Postgres audit archive and the in-memory-only
// mode. Replayable history always lives in the relay state; the archive is an
// additional durable trail.
func newArchive(ctx context.Context, cfg Config, log Logger) (relay.Archive, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.nop_archive")
		return relay.NopArchive{}, nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	archive, err := relay.NewPostgresArchive(ctx, log, pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_archive")
	return archive, pool, true, nil
}
