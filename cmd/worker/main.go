package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/groupledger/groupledger/internal/app"
	"github.com/groupledger/groupledger/internal/consol"
	"github.com/groupledger/groupledger/internal/consol/match"
	"github.com/groupledger/groupledger/internal/hierarchy"
	"github.com/groupledger/groupledger/internal/ledger"
	"github.com/groupledger/groupledger/internal/platform/cache"
	platformdb "github.com/groupledger/groupledger/internal/platform/db"
	"github.com/groupledger/groupledger/jobs"
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

	pool, err := platformdb.New(ctx, cfg.PGDSN)
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

	hierarchyRepo := hierarchy.NewRepository(pool)
	hierarchyService := hierarchy.NewService(hierarchyRepo, logger)

	ledgerRepo := ledger.NewRepository(pool)
	consolRepo := consol.NewRepository(pool)
	matchRepo := match.NewRepository(pool)
	locker := consol.NewRedisLocker(redisClient)
	consolService := consol.NewService(
		consolRepo, matchRepo, hierarchyService, ledgerRepo, locker,
		consol.Config{
			Mode:                 consol.ModeHierarchical,
			WeightAmount:         cfg.Engine.WeightAmount,
			WeightCounterparty:   cfg.Engine.WeightCounterparty,
			WeightTemporal:       cfg.Engine.WeightTemporal,
			WeightFamily:         cfg.Engine.WeightFamily,
			ConfirmThreshold:     cfg.Engine.ConfirmThreshold,
			SuggestFloor:         cfg.Engine.SuggestFloor,
			AmountToleranceRatio: cfg.Engine.AmountToleranceRatio,
			TemporalWindow:       cfg.Engine.TemporalWindow,
			ControlThreshold:     cfg.Engine.ControlThreshold,
			MaxDepth:             cfg.Engine.MaxDepth,
			BalanceTolerance:     cfg.Engine.BalanceTolerance,
		},
		cfg.RunLockTTL, logger,
	)

	executeJob := jobs.NewConsolidationExecuteJob(consolService, logger, nil)
	sweepJob := jobs.NewConsolidationSweepJob(consolRepo, logger, nil)

	sweepTask, err := jobs.NewConsolidationSweepTask(4)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskConsolidationExecute, Handler: executeJob.Handle},
			{Type: jobs.TaskConsolidationSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
