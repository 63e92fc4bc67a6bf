// Package main is the entrypoint for the Rockwatch analysis server.
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

	"github.com/kiranshivaraju/rockwatch/internal/api"
	"github.com/kiranshivaraju/rockwatch/internal/api/handler"
	mw "github.com/kiranshivaraju/rockwatch/internal/api/middleware"
	"github.com/kiranshivaraju/rockwatch/internal/cache"
	"github.com/kiranshivaraju/rockwatch/internal/config"
	"github.com/kiranshivaraju/rockwatch/internal/executor"
	"github.com/kiranshivaraju/rockwatch/internal/hub"
	"github.com/kiranshivaraju/rockwatch/internal/logging"
	"github.com/kiranshivaraju/rockwatch/internal/metrics"
	"github.com/kiranshivaraju/rockwatch/internal/orchestrator"
	"github.com/kiranshivaraju/rockwatch/internal/resource"
	"github.com/kiranshivaraju/rockwatch/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config; fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format))
	slog.Info("config loaded", "env", cfg.Server.Env, "max_concurrent", cfg.Orchestrator.MaxConcurrent)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Optional persistence
	var backends backends
	if cfg.Database.URL != "" {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
		backends.store = store.NewPostgresStore(pool)
	} else {
		slog.Warn("DATABASE_URL not set, job history is not persisted")
	}

	// 3. Optional Redis mirror
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")
		backends.cache = redisCache
	}

	// 4. Analysis kinds
	kinds, err := config.LoadCatalog(cfg.Executor.CatalogFile)
	if err != nil {
		return fmt.Errorf("load analysis catalog: %w", err)
	}
	dispatcher, err := executor.NewNotebookDispatcher(kinds, cfg.Executor)
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}
	slog.Info("analysis kinds loaded", "kinds", dispatcher.Kinds())

	// 5. Orchestrator and HTTP surface
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(cfg, dispatcher, resource.HostSampler{}, backends, reg, slog.Default())
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     a.handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: websocket connections are long-lived and bound
		// their own writes.
	}

	// 6. Run everything until a signal or the first failure
	g, gctx := errgroup.WithContext(ctx)

	// The recorder outlives the orchestrator so the final transitions of
	// interrupted jobs still reach storage.
	recCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()
	g.Go(func() error {
		defer stopRecorder()
		return a.orch.Run(gctx)
	})
	g.Go(func() error { return a.recorder.Run(recCtx) })
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("server stopped gracefully")
	return nil
}

// backends are the optional persistence layers. Either may be nil.
type backends struct {
	store *store.PostgresStore
	cache *cache.RedisCache
}

type app struct {
	orch     *orchestrator.Orchestrator
	recorder *store.Recorder
	handler  http.Handler
}

// newApp wires the orchestrator, its observers and the router.
func newApp(cfg *config.Config, exec orchestrator.Executor, sampler resource.Sampler, b backends, reg *prometheus.Registry, logger *slog.Logger) (*app, error) {
	m := metrics.New(reg)

	notifications := hub.New(hub.Options{
		SendTimeout: cfg.Hub.SendTimeout,
		MaxFanout:   cfg.Hub.MaxFanout,
		Logger:      logger,
	})
	governor := resource.NewGovernor(cfg.Orchestrator.MaxConcurrent, cfg.Resource.HighWaterPercent, logger)
	monitor := resource.NewMonitor(sampler, cfg.Resource.SampleInterval, logger)

	// Interface values stay nil when a backend is disabled.
	var (
		history   handler.History
		snapshot  handler.SnapshotCache
		dbPing    handler.Pinger
		cachePing handler.Pinger
		jobStore  store.Store
		mirror    store.StatusMirror
		counter   mw.Counter
	)
	if b.store != nil {
		history, dbPing, jobStore = b.store, b.store, b.store
	}
	if b.cache != nil {
		snapshot, cachePing, mirror, counter = b.cache, b.cache, b.cache, b.cache
	}

	recorder := store.NewRecorder(jobStore, mirror, store.RecorderOptions{
		Buffer:    cfg.Orchestrator.RecorderBuffer,
		StatusTTL: cfg.Redis.StatusTTL,
		Metrics:   m,
		Logger:    logger,
	})

	orch, err := orchestrator.New(orchestrator.Deps{
		Executor:  exec,
		Hub:       notifications,
		Governor:  governor,
		Monitor:   monitor,
		Metrics:   m,
		Observers: []orchestrator.JobObserver{recorder},
		Logger:    logger,
	}, orchestrator.Options{
		AnalysisTimeout: cfg.Orchestrator.AnalysisTimeout,
		MaxIdle:         cfg.Hub.MaxIdle,
		PruneInterval:   cfg.Hub.PruneInterval,
		PingInterval:    cfg.Hub.PingInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	auth := mw.NewAuth(cfg.Auth.KeyHashes)
	if !auth.Enabled() {
		logger.Warn("API_KEY_HASHES not set, API authentication is disabled")
	}

	analyses := &handler.AnalysisHandler{Analyses: orch, Cache: snapshot, History: history}
	router := api.NewRouter(api.Dependencies{
		Auth:        auth,
		RateLimit:   mw.NewRateLimit(counter, cfg.Auth.RequestsPerMinute),
		CORSOrigins: cfg.Server.CORSOrigins,

		HealthHandler:       handler.Health(dbPing, cachePing),
		MetricsHandler:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		SubmitHandler:       analyses.Submit,
		ListHandler:         analyses.List,
		GetHandler:          analyses.Get,
		CancelHandler:       analyses.Cancel,
		RoomHandler:         handler.RoomMembers(orch),
		SystemStatusHandler: handler.SystemStatus(orch),
		UpdatesHandler:      handler.Updates(orch, cfg.Server.CORSOrigins),
	})

	return &app{orch: orch, recorder: recorder, handler: router}, nil
}
