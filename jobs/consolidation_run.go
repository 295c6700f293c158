package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/groupledger/groupledger/internal/consol"
	jobmetrics "github.com/groupledger/groupledger/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ConsolidationService describes the run operations the worker drives.
type ConsolidationService interface {
	Execute(ctx context.Context, runID uuid.UUID) error
	GetRun(ctx context.Context, runID uuid.UUID) (consol.Run, error)
}

// ConsolidationExecuteJob executes prepared runs off the queue so the HTTP
// layer can return immediately after drafting one.
type ConsolidationExecuteJob struct {
	Service ConsolidationService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewConsolidationExecuteJob constructs the job handler.
func NewConsolidationExecuteJob(service ConsolidationService, logger *slog.Logger, metrics *jobmetrics.Metrics) *ConsolidationExecuteJob {
	return &ConsolidationExecuteJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes one consolidation run.
func (j *ConsolidationExecuteJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("consolidation execute: dependencies not configured")
	}
	var payload ConsolidationExecutePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	runID, err := uuid.Parse(payload.RunID)
	if err != nil {
		j.log().Error("invalid run id", slog.String("run_id", payload.RunID))
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskConsolidationExecute)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	if err := j.Service.Execute(ctx, runID); err != nil {
		// A redelivered task may find the run already executed or
		// cancelled. That is not a failure worth retrying.
		if errors.Is(err, consol.ErrRunNotExecutable) {
			j.log().Info("run no longer executable", slog.String("run_id", runID.String()))
			return nil
		}
		resultErr = err
		j.log().Error("execute run", slog.String("run_id", runID.String()), slog.Any("error", err))
		return resultErr
	}

	run, err := j.Service.GetRun(ctx, runID)
	if err == nil {
		for _, w := range run.Warnings {
			j.metrics().AddRunWarnings(w.Kind, 1)
		}
		j.log().Info("run executed",
			slog.String("run_id", runID.String()),
			slog.String("status", string(run.Status)),
			slog.Int("warnings", len(run.Warnings)),
			slog.Duration("duration", time.Since(start)))
	}
	return resultErr
}

func (j *ConsolidationExecuteJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ConsolidationExecuteJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskConsolidationExecute))
	}
	return slog.Default().With(slog.String("job", TaskConsolidationExecute))
}

// StaleRunStore marks abandoned runs as failed.
type StaleRunStore interface {
	FailStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ConsolidationSweepJob reclaims runs left in_progress by a dead worker.
type ConsolidationSweepJob struct {
	Store   StaleRunStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewConsolidationSweepJob constructs the sweep handler.
func NewConsolidationSweepJob(store StaleRunStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *ConsolidationSweepJob {
	return &ConsolidationSweepJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle runs the stale-run sweep.
func (j *ConsolidationSweepJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("consolidation sweep: dependencies not configured")
	}
	var payload ConsolidationSweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.OlderThanHours <= 0 {
		payload.OlderThanHours = 4
	}

	tracker := j.metrics().Track(TaskConsolidationSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	swept, err := j.Store.FailStale(ctx, time.Duration(payload.OlderThanHours)*time.Hour)
	if err != nil {
		resultErr = err
		j.log().Error("sweep stale runs", slog.Any("error", err))
		return resultErr
	}
	if swept > 0 {
		j.log().Warn("swept abandoned runs", slog.Int64("count", swept))
	}
	return resultErr
}

func (j *ConsolidationSweepJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ConsolidationSweepJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskConsolidationSweep))
	}
	return slog.Default().With(slog.String("job", TaskConsolidationSweep))
}
