package shared

import "time"

// Warning kinds attached to a consolidation run. Data-coverage warnings do
// not stop the run, but the run cannot be approved until each one has been
// acknowledged by a reviewer.
const (
	WarnCoverageGap       = "coverage_gap"
	WarnUnmatchedResidual = "unmatched_residual"
)

// RunWarning is a data-coverage finding recorded against a run.
type RunWarning struct {
	Kind           string    `json:"kind"`
	Step           string    `json:"step,omitempty"`
	EntityID       int64     `json:"entity_id,omitempty"`
	CounterpartyID int64     `json:"counterparty_id,omitempty"`
	Amount         float64   `json:"amount,omitempty"`
	Detail         string    `json:"detail"`
	Acknowledged   bool      `json:"acknowledged"`
	AcknowledgedBy int64     `json:"acknowledged_by,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}
