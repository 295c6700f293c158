package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskConsolidationExecute runs a prepared consolidation run to completion.
	TaskConsolidationExecute = "consol:execute"
	// TaskConsolidationSweep reclaims runs abandoned by a dead worker.
	TaskConsolidationSweep = "consol:sweep"
)

// ConsolidationExecutePayload names the run a worker should execute.
type ConsolidationExecutePayload struct {
	RunID string `json:"run_id"`
}

// NewConsolidationExecuteTask constructs an Asynq task for executing a run.
func NewConsolidationExecuteTask(runID string) (*asynq.Task, error) {
	data, err := json.Marshal(ConsolidationExecutePayload{RunID: runID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConsolidationExecute, data, asynq.Queue(QueueDefault)), nil
}

// ConsolidationSweepPayload configures the stale-run sweep.
type ConsolidationSweepPayload struct {
	OlderThanHours int `json:"older_than_hours"`
}

// NewConsolidationSweepTask constructs an Asynq task for the stale-run sweep.
func NewConsolidationSweepTask(olderThanHours int) (*asynq.Task, error) {
	if olderThanHours <= 0 {
		olderThanHours = 4
	}
	data, err := json.Marshal(ConsolidationSweepPayload{OlderThanHours: olderThanHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConsolidationSweep, data, asynq.Queue(QueueDefault)), nil
}
