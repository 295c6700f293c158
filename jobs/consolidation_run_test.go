package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/groupledger/groupledger/internal/consol"
	"github.com/groupledger/groupledger/internal/shared"
)

type fakeConsolService struct {
	executed   []uuid.UUID
	executeErr error
	run        consol.Run
}

func (f *fakeConsolService) Execute(ctx context.Context, runID uuid.UUID) error {
	f.executed = append(f.executed, runID)
	return f.executeErr
}

func (f *fakeConsolService) GetRun(ctx context.Context, runID uuid.UUID) (consol.Run, error) {
	return f.run, nil
}

func TestExecuteJobRunsThePayloadRun(t *testing.T) {
	runID := uuid.New()
	svc := &fakeConsolService{run: consol.Run{
		ID:       runID,
		Status:   consol.StatusCompleted,
		Warnings: []shared.RunWarning{{Kind: shared.WarnCoverageGap}},
	}}
	job := NewConsolidationExecuteJob(svc, nil, nil)

	task, err := NewConsolidationExecuteTask(runID.String())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []uuid.UUID{runID}, svc.executed)
}

func TestExecuteJobSkipsRetryOnBadPayload(t *testing.T) {
	job := NewConsolidationExecuteJob(&fakeConsolService{}, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskConsolidationExecute, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskConsolidationExecute, []byte(`{"run_id":"nope"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestExecuteJobTreatsRedeliveryAsDone(t *testing.T) {
	svc := &fakeConsolService{executeErr: consol.ErrRunNotExecutable}
	job := NewConsolidationExecuteJob(svc, nil, nil)

	task, err := NewConsolidationExecuteTask(uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}

func TestExecuteJobPropagatesFailures(t *testing.T) {
	svc := &fakeConsolService{executeErr: errors.New("boom")}
	job := NewConsolidationExecuteJob(svc, nil, nil)

	task, err := NewConsolidationExecuteTask(uuid.NewString())
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}

type fakeStaleStore struct {
	olderThan time.Duration
	swept     int64
	err       error
}

func (f *fakeStaleStore) FailStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.swept, f.err
}

func TestSweepJobUsesPayloadWindow(t *testing.T) {
	store := &fakeStaleStore{swept: 2}
	job := NewConsolidationSweepJob(store, nil, nil)

	task, err := NewConsolidationSweepTask(6)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 6*time.Hour, store.olderThan)
}

func TestSweepJobDefaultsTheWindow(t *testing.T) {
	store := &fakeStaleStore{}
	job := NewConsolidationSweepJob(store, nil, nil)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskConsolidationSweep, []byte(`{}`))))
	require.Equal(t, 4*time.Hour, store.olderThan)
}
