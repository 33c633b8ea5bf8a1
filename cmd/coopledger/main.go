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

	"github.com/coop-ledger/coopledger/cmd/coopledger/cli"
	"github.com/coop-ledger/coopledger/internal/app"
	"github.com/coop-ledger/coopledger/internal/audit"
	audithttp "github.com/coop-ledger/coopledger/internal/audit/http"
	"github.com/coop-ledger/coopledger/internal/auth"
	"github.com/coop-ledger/coopledger/internal/dividends"
	"github.com/coop-ledger/coopledger/internal/ledger"
	"github.com/coop-ledger/coopledger/internal/loans"
	"github.com/coop-ledger/coopledger/internal/members"
	"github.com/coop-ledger/coopledger/internal/observability"
	"github.com/coop-ledger/coopledger/internal/platform/cache"
	"github.com/coop-ledger/coopledger/internal/platform/db"
	"github.com/coop-ledger/coopledger/internal/rbac"
	"github.com/coop-ledger/coopledger/internal/shared"
	"github.com/coop-ledger/coopledger/jobs"
)

func main() {
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
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	if len(os.Args) > 1 {
		os.Exit(runCommand(ctx, cfg, logger, redisOpts, os.Args[1:]))
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, MaxConnIdleTime: cfg.PGMaxIdleTime})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.PGAutoMigrate {
		if err := db.Migrate(ctx, dbpool); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
	}

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

	verifier, err := auth.NewVerifier(cfg.AuthTokenSecret, cfg.AuthIssuer)
	if err != nil {
		logger.Error("init token verifier", slog.Any("error", err))
		os.Exit(1)
	}

	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("job inspector close", slog.Any("error", err))
		}
	}()
	notifier := jobs.NewNotifier(jobClient)

	roleCache := rbac.NewRedisCache(redisClient, cfg.RoleCacheTTL)
	rbacService := rbac.NewService(rbac.NewRepository(dbpool), roleCache, logger)

	memberService := members.NewService(members.NewRepository(dbpool), rbacService, logger).WithRoleCache(roleCache)
	ledgerService := ledger.NewService(ledger.NewRepository(dbpool), rbacService, notifier, logger)
	loanService := loans.NewService(loans.NewRepository(dbpool), rbacService, notifier, logger, loans.Config{
		LimitMultiplier: cfg.LoanLimitMultiplier,
		SystemActorID:   cfg.SystemActorID,
	})
	dividendService := dividends.NewService(dividends.NewRepository(dbpool), rbacService, notifier, logger)
	auditService := audit.NewService(audit.NewRepository(dbpool))

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		Verifier:            verifier,
		RBACMiddleware:      rbac.Middleware{Service: rbacService, Logger: logger},
		MembersHandler:      members.NewHandler(logger, memberService),
		RolesHandler:        rbac.NewHandler(logger, rbacService),
		ContributionHandler: ledger.NewHandler(logger, ledgerService),
		LoansHandler:        loans.NewHandler(logger, loanService),
		DividendsHandler:    dividends.NewHandler(logger, dividendService),
		AuditHandler:        audithttp.NewHandler(logger, auditService, rbacService),
		JobHandler:          jobs.NewHandler(inspector, logger),
		Idempotency:         shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL),
		Metrics:             metrics,
		HealthChecks: map[string]app.HealthCheck{
			"postgres": dbpool.Ping,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

func runCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, redisOpts asynq.RedisClientOpt, args []string) int {
	switch args[0] {
	case "migrate":
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 1})
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			return 1
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			return 1
		}
		logger.Info("schema applied")
		return 0
	case "jobs":
		jobsCLI := cli.NewJobsCLI(redisOpts)
		defer func() {
			if err := jobsCLI.Close(); err != nil {
				logger.Warn("jobs cli close", slog.Any("error", err))
			}
		}()
		return jobsCLI.Run(ctx, args[1:], cli.JobsOptions{})
	default:
		logger.Error("unknown command", slog.String("command", args[0]))
		return 2
	}
}
