package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lyceum-lms/lyceum-lms/internal/app"
	"github.com/lyceum-lms/lyceum-lms/internal/audit"
	"github.com/lyceum-lms/lyceum-lms/internal/authz"
	authzcache "github.com/lyceum-lms/lyceum-lms/internal/authz/cache"
	"github.com/lyceum-lms/lyceum-lms/internal/claims"
	"github.com/lyceum-lms/lyceum-lms/internal/hierarchy"
	"github.com/lyceum-lms/lyceum-lms/internal/observability"
	"github.com/lyceum-lms/lyceum-lms/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	treeRepo := hierarchy.NewRepository(pool)
	treeResolver, err := hierarchy.NewResolver(treeRepo, redisClient, cfg.PathCacheTTL, logger)
	if err != nil {
		logger.Error("init hierarchy resolver", slog.Any("error", err))
		os.Exit(1)
	}
	defer treeResolver.Close()

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

	engineMetrics := observability.NewEngineMetrics(nil)

	// The worker only invalidates, so the engine runs without an audit sink.
	engine := authz.NewService(authz.ServiceParams{
		Hierarchy: treeResolver,
		Claims:    directory,
		Store:     store,
		Epochs:    epochs,
		Paths:     treeResolver,
		Metrics:   engineMetrics,
		Logger:    logger,
	})

	trail := audit.NewService(audit.NewPgRepository(pool))

	invalidationJob := jobs.NewInvalidationJob(engine, logger, nil)
	pruneJob := jobs.NewAuditPruneJob(trail, cfg.AuditRetention, logger, nil)
	verifyJob := jobs.NewHierarchyVerifyJob(treeRepo, logger, nil)
	cacheJob := jobs.NewCacheMetricsJob(store, engineMetrics, logger, nil)

	pruneTask, err := jobs.NewAuditPruneTask(0)
	if err != nil {
		logger.Error("build prune task", slog.Any("error", err))
		os.Exit(1)
	}
	verifyTask := jobs.NewHierarchyVerifyTask()
	cacheTask := jobs.NewCacheMetricsTask()

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskInvalidateSubtree, Handler: invalidationJob.HandleSubtree},
			{Type: jobs.TaskInvalidatePrincipal, Handler: invalidationJob.HandlePrincipal},
			{Type: jobs.TaskAuditPrune, Handler: pruneJob.Handle},
			{Type: jobs.TaskHierarchyVerify, Handler: verifyJob.Handle},
			{Type: jobs.TaskCacheMetrics, Handler: cacheJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 3 * * *", Task: pruneTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 1 * * *", Task: verifyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/5 * * * *", Task: cacheTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
