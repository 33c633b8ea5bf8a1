package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/coop-ledger/coopledger/internal/app"
	"github.com/coop-ledger/coopledger/internal/loans"
	"github.com/coop-ledger/coopledger/internal/observability"
	"github.com/coop-ledger/coopledger/internal/platform/cache"
	"github.com/coop-ledger/coopledger/internal/platform/db"
	"github.com/coop-ledger/coopledger/internal/rbac"
	"github.com/coop-ledger/coopledger/jobs"
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
	if cfg.SystemActorID <= 0 {
		logger.Warn("JOBS_SYSTEM_ACTOR_ID not set, overdue sweeps will be rejected")
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, MaxConnIdleTime: cfg.PGMaxIdleTime})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	rbacService := rbac.NewService(rbac.NewRepository(pool), rbac.NewRedisCache(redisClient, cfg.RoleCacheTTL), logger)
	loanService := loans.NewService(loans.NewRepository(pool), rbacService, jobs.NewNotifier(jobClient), logger, loans.Config{
		LimitMultiplier: cfg.LoanLimitMultiplier,
		SystemActorID:   cfg.SystemActorID,
	})

	registry := observability.NewMetrics()
	metrics := registry.Jobs()
	notifyJob := jobs.NewNotifyDispatchJob(nil, logger, metrics)
	overdueJob := jobs.NewOverdueRefreshJob(loanService, logger, metrics)

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := registry.Server(cfg.WorkerMetricsAddr)
		go func() {
			logger.Info("worker metrics listening", slog.String("addr", cfg.WorkerMetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("worker metrics shutdown", slog.Any("error", err))
			}
		}()
	}

	overdueTask, err := jobs.NewOverdueRefreshTask(time.Time{})
	if err != nil {
		logger.Error("build overdue task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskNotifyEvent, Handler: notifyJob.Handle},
			{Type: jobs.TaskOverdueRefresh, Handler: overdueJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.OverdueRefreshCron, Task: overdueTask, Options: []asynq.Option{asynq.Queue(jobs.QueueCritical), asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
