package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/sourcelane/sourcelane/internal/app"
	jobmetrics "github.com/sourcelane/sourcelane/internal/jobs"
	"github.com/sourcelane/sourcelane/internal/money"
	"github.com/sourcelane/sourcelane/internal/platform/cache"
	"github.com/sourcelane/sourcelane/internal/platform/db"
	"github.com/sourcelane/sourcelane/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
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

	rateRepo := money.NewRateRepository(pool)
	cachedRates := money.NewCachedRates(redisClient, rateRepo, cfg.FxCacheTTL)

	fxRefreshTask, err := jobs.NewFxRefreshTask(false)
	if err != nil {
		logger.Error("build fx refresh task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Metrics:   jobmetrics.NewMetrics(nil),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskFxRefresh, Handler: func(ctx context.Context, _ *asynq.Task) error {
				return jobs.WarmFxCache(ctx, pool, cachedRates, logger)
			}},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 6 * * *", Task: fxRefreshTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
