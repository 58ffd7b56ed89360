package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lyceum-lms/lyceum-lms/cmd/lyceum/cli"
	"github.com/lyceum-lms/lyceum-lms/internal/app"
	"github.com/lyceum-lms/lyceum-lms/internal/audit"
	"github.com/lyceum-lms/lyceum-lms/internal/authz"
	authzcache "github.com/lyceum-lms/lyceum-lms/internal/authz/cache"
	"github.com/lyceum-lms/lyceum-lms/internal/claims"
	"github.com/lyceum-lms/lyceum-lms/internal/coursework"
	"github.com/lyceum-lms/lyceum-lms/internal/hierarchy"
	"github.com/lyceum-lms/lyceum-lms/internal/observability"
	"github.com/lyceum-lms/lyceum-lms/internal/ops"
	platformcache "github.com/lyceum-lms/lyceum-lms/internal/platform/cache"
	"github.com/lyceum-lms/lyceum-lms/internal/platform/db"
	"github.com/lyceum-lms/lyceum-lms/jobs"
)

func main() {
	if code, handled := cli.Run(context.Background(), os.Args[1:]); handled {
		os.Exit(code)
	}

	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := platformcache.New(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	treeRepo := hierarchy.NewRepository(pool)
	treeResolver, err := hierarchy.NewResolver(treeRepo, redisClient, cfg.PathCacheTTL, logger)
	if err != nil {
		logger.Error("init hierarchy resolver", slog.Any("error", err))
		os.Exit(1)
	}
	defer treeResolver.Close()
	go treeResolver.ListenForInvalidation(ctx)

	directory := claims.NewResolver(claims.NewRepository(pool), logger)

	var store authzcache.Store
	var epochs authzcache.Epochs
	switch cfg.CacheBackend {
	case "memory":
		mem := authzcache.NewMemory(cfg.CacheSweep)
		defer mem.Close()
		store, epochs = mem, mem
	default:
		shared := authzcache.NewRedis(redisClient, authz.KeyPrefix)
		store, epochs = shared, shared
	}

	metrics := observability.NewMetrics()
	engineMetrics := observability.NewEngineMetrics(metrics.Registerer())

	trailRepo := audit.NewPgRepository(pool)
	recorder := audit.NewRecorder(trailRepo, logger)
	defer recorder.Close()
	trail := audit.NewService(trailRepo)

	engine := authz.NewService(authz.ServiceParams{
		Hierarchy:        treeResolver,
		Claims:           directory,
		Store:            store,
		Epochs:           epochs,
		Paths:            treeResolver,
		Audit:            recorder,
		Metrics:          engineMetrics,
		Logger:           logger,
		TTL:              cfg.DecisionTTL,
		BatchConcurrency: cfg.BatchConcurrency,
	})
	coursework.NewGate(coursework.NewRepository(pool)).Mount(engine.Registry())

	opsHandler := ops.NewHandler(logger, engine, directory, trail, ops.TokenAuth(cfg.OpsTokenHash, logger), cfg.EvalTimeout)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		OpsHandler: opsHandler,
		JobHandler: jobHandler,
		Metrics:    metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
