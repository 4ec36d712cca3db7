// Command inkra is the interview session orchestrator server.
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

	"github.com/md0nahue/inkra-sub002/internal/archive"
	"github.com/md0nahue/inkra-sub002/internal/backend"
	"github.com/md0nahue/inkra-sub002/internal/config"
	"github.com/md0nahue/inkra-sub002/internal/gateway"
	"github.com/md0nahue/inkra-sub002/internal/health"
	"github.com/md0nahue/inkra-sub002/internal/observe"
	"github.com/md0nahue/inkra-sub002/internal/resilience"
	"github.com/md0nahue/inkra-sub002/internal/session"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "inkra: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "inkra: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("inkra starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "inkra",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Backend client ────────────────────────────────────────────────────────
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:        "backend",
		MaxFailures: cfg.Backend.BreakerMaxFailures,
	})
	client, err := backend.New(cfg.Backend.BaseURL,
		backend.WithToken(cfg.Backend.Token),
		backend.WithCallTimeout(cfg.Backend.CallTimeout()),
		backend.WithBreaker(breaker),
		backend.WithRecorder(metrics),
	)
	if err != nil {
		slog.Error("failed to build backend client", "err", err)
		return 1
	}

	// ── Archive store ─────────────────────────────────────────────────────────
	var store archive.Store
	checkers := []health.Checker{health.CheckPinger("backend", client)}
	if dsn := cfg.Archive.PostgresDSN; dsn != "" {
		pg, err := archive.NewPGStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect archive store", "err", err)
			return 1
		}
		defer pg.Close()
		store = pg
		checkers = append(checkers, health.CheckPinger("archive", pg))
		slog.Info("archive store connected", "driver", "postgres")
	} else {
		store = archive.NewMemStore()
		slog.Warn("no postgres_dsn configured — archiving in memory only")
	}

	// ── Session manager and gateway ───────────────────────────────────────────
	manager := session.NewManager(session.ManagerConfig{
		Client:  client,
		Archive: store,
		Metrics: metrics,
		Session: cfg.Session,
	})
	defer manager.CloseAll()

	srv := gateway.NewServer(gateway.ServerConfig{
		Manager:     manager,
		Archive:     store,
		Metrics:     metrics,
		AutoAdvance: cfg.Session.AutoAdvance,
		Checkers:    checkers,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if tls := cfg.Server.TLS; tls != nil {
			slog.Info("gateway listening", "addr", cfg.Server.ListenAddr, "tls", true)
			serveErr <- httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			return
		}
		slog.Info("gateway listening", "addr", cfg.Server.ListenAddr, "tls", false)
		serveErr <- httpServer.ListenAndServe()
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	manager.CloseAll()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
