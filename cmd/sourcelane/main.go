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

	"github.com/sourcelane/sourcelane/internal/app"
	"github.com/sourcelane/sourcelane/internal/approval"
	"github.com/sourcelane/sourcelane/internal/directory"
	"github.com/sourcelane/sourcelane/internal/money"
	"github.com/sourcelane/sourcelane/internal/observability"
	"github.com/sourcelane/sourcelane/internal/platform/cache"
	"github.com/sourcelane/sourcelane/internal/platform/db"
	"github.com/sourcelane/sourcelane/internal/shared"
	"github.com/sourcelane/sourcelane/internal/sourcing"
	"github.com/sourcelane/sourcelane/jobs"
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

	if err := db.Migrate(cfg.MigrationsDir, cfg.PGDSN); err != nil {
		logger.Error("run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	directoryRepo := directory.NewRepository(pool)

	rateRepo := money.NewRateRepository(pool)
	cachedRates := money.NewCachedRates(redisClient, rateRepo, cfg.FxCacheTTL)
	converter := money.NewConverter(cachedRates)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	notifier := jobs.NewApprovalNotifier(jobClient)

	approvalRepo := approval.NewRepository(pool)
	resolver := approval.NewResolver(directoryRepo)
	approvalService := approval.NewService(approvalRepo, resolver, auditLogger, notifier)
	approvalHandler := approval.NewHandler(logger, approvalService, directoryRepo)

	sourcingRepo := sourcing.NewRepository(pool)
	engine := sourcing.NewEngine(sourcingRepo, converter, directoryRepo, sourcing.NewPOFactory(), auditLogger)
	sourcingHandler := sourcing.NewHandler(logger, engine)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		ApprovalHandler: approvalHandler,
		SourcingHandler: sourcingHandler,
		JobHandler:      jobHandler,
		Pool:            pool,
		Metrics:         metrics,
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
