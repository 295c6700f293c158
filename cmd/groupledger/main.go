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

	"github.com/groupledger/groupledger/internal/app"
	"github.com/groupledger/groupledger/internal/consol"
	consolhttp "github.com/groupledger/groupledger/internal/consol/http"
	"github.com/groupledger/groupledger/internal/consol/match"
	"github.com/groupledger/groupledger/internal/hierarchy"
	hierarchyhttp "github.com/groupledger/groupledger/internal/hierarchy/http"
	"github.com/groupledger/groupledger/internal/ledger"
	"github.com/groupledger/groupledger/internal/observability"
	"github.com/groupledger/groupledger/internal/platform/cache"
	platformdb "github.com/groupledger/groupledger/internal/platform/db"
	"github.com/groupledger/groupledger/internal/shared"
	"github.com/groupledger/groupledger/jobs"
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
	hierarchyHandler := hierarchyhttp.NewHandler(logger, hierarchyService)

	ledgerRepo := ledger.NewRepository(pool)
	consolRepo := consol.NewRepository(pool)
	matchRepo := match.NewRepository(pool)
	locker := consol.NewRedisLocker(redisClient)
	consolService := consol.NewService(
		consolRepo, matchRepo, hierarchyService, ledgerRepo, locker,
		engineDefaults(cfg.Engine), cfg.RunLockTTL, logger,
	).WithAuditor(shared.NewAuditLogger(pool))

	queue := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()
	consolHandler := consolhttp.NewHandler(logger, consolService).WithDispatcher(queue)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		ConsolHandler:    consolHandler,
		HierarchyHandler: hierarchyHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
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

func engineDefaults(e app.EngineConfig) consol.Config {
	return consol.Config{
		Mode:                 consol.ModeHierarchical,
		WeightAmount:         e.WeightAmount,
		WeightCounterparty:   e.WeightCounterparty,
		WeightTemporal:       e.WeightTemporal,
		WeightFamily:         e.WeightFamily,
		ConfirmThreshold:     e.ConfirmThreshold,
		SuggestFloor:         e.SuggestFloor,
		AmountToleranceRatio: e.AmountToleranceRatio,
		TemporalWindow:       e.TemporalWindow,
		ControlThreshold:     e.ControlThreshold,
		MaxDepth:             e.MaxDepth,
		BalanceTolerance:     e.BalanceTolerance,
	}
}
