// Command argus runs the Argus core service: run lifecycle API, event
// ingestion over WebSocket and HTTP, live fan-out, background reaper,
// and end-of-run security analysis.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	arghttp "github.com/argussec/argus/internal/adapter/http"
	"github.com/argussec/argus/internal/adapter/llm"
	argnats "github.com/argussec/argus/internal/adapter/nats"
	"github.com/argussec/argus/internal/adapter/natskv"
	"github.com/argussec/argus/internal/adapter/otel"
	"github.com/argussec/argus/internal/adapter/postgres"
	"github.com/argussec/argus/internal/adapter/ristretto"
	"github.com/argussec/argus/internal/adapter/tiered"
	"github.com/argussec/argus/internal/adapter/ws"
	"github.com/argussec/argus/internal/analysis"
	"github.com/argussec/argus/internal/config"
	"github.com/argussec/argus/internal/domain/event"
	"github.com/argussec/argus/internal/domain/finding"
	"github.com/argussec/argus/internal/logger"
	portanalysis "github.com/argussec/argus/internal/port/analysis"
	"github.com/argussec/argus/internal/port/cache"
	"github.com/argussec/argus/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)
	log.Info("config loaded",
		"port", cfg.Server.Port,
		"public_host", cfg.Server.PublicHost,
		"reaper_interval", cfg.Reaper.Interval,
		"stale_timeout", cfg.Reaper.StaleTimeout,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("postgres ready")

	shutdownTracer, err := otel.InitTracer(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	shutdownMeter, err := otel.InitMeter(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("init meter: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMeter(shutdownCtx)
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	local, err := ristretto.New(cfg.Auth.KeyCacheSize)
	if err != nil {
		return fmt.Errorf("init key cache: %w", err)
	}
	defer local.Close()
	var keyCache cache.Cache = local

	// Cross-instance relay is optional; single-node deployments run
	// without NATS and fan out in-process only. When NATS is present
	// the API-key cache also gains a shared JetStream KV tier.
	var hub *ws.Hub
	if cfg.NATS.URL != "" {
		rel, err := argnats.Connect(cfg.NATS.URL, log)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer rel.Close()
		hub = ws.NewHub(log, rel)

		shared, err := natskv.New(ctx, rel.Conn(), "argus_keys", cfg.Auth.KeyCacheTTL)
		if err != nil {
			return fmt.Errorf("init shared key cache: %w", err)
		}
		keyCache = tiered.New(local, shared, cfg.Auth.KeyCacheTTL)
	} else {
		hub = ws.NewHub(log, nil)
	}

	cancelRelay, err := hub.StartRelay(ctx)
	if err != nil {
		return fmt.Errorf("start relay subscriber: %w", err)
	}
	defer cancelRelay()

	// --- Services ---

	store := postgres.NewStore(pool)
	authSvc := service.NewAuthService(store, keyCache, cfg.Auth, log)
	projectSvc := service.NewProjectService(store)

	heuristic := portanalysis.Func(func(_ context.Context, events []event.Event) ([]finding.Finding, error) {
		return analysis.Analyze(events), nil
	})
	var deep portanalysis.Analyzer
	if cfg.LLM.URL != "" {
		deep = llm.New(cfg.LLM.URL, cfg.LLM.APIKey, cfg.LLM.Model)
		log.Info("llm analysis enabled", "model", cfg.LLM.Model)
	}
	runSvc := service.NewRunService(store, hub, heuristic, deep, cfg.Server.PublicHost, log)

	wsHandler := ws.NewHandler(hub, authSvc, runSvc, log)
	api := arghttp.NewAPI(runSvc, projectSvc, authSvc, wsHandler, log, metrics, cfg.Ingest)
	router := arghttp.NewRouter(api, log, cfg.Server.CORSOrigin)

	reaper := service.NewReaper(store, cfg.Reaper, log, metrics)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- Supervision ---

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := reaper.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run reaper: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
