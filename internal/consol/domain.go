package consol

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/groupledger/groupledger/internal/hierarchy"
	"github.com/groupledger/groupledger/internal/shared"
)

var (
	ErrRunNotFound            = errors.New("consol: run not found")
	ErrRunNotExecutable       = errors.New("consol: run is not in an executable state")
	ErrRunNotCompleted        = errors.New("consol: run has not completed")
	ErrUnacknowledgedWarnings = errors.New("consol: run has unacknowledged warnings")
	ErrWarningIndex           = errors.New("consol: warning index out of range")
)

// Mode selects how the aggregator walks the scope.
type Mode string

const (
	// ModeHierarchical preserves intermediate sub-group statements by
	// consolidating level by level from the deepest entities up.
	ModeHierarchical Mode = "hierarchical"
	// ModeOverall flattens the scope in a single pass; cheaper, no
	// intermediate holding-company statements.
	ModeOverall Mode = "overall"
)

// Valid reports whether the mode is known.
func (m Mode) Valid() bool {
	return m == ModeHierarchical || m == ModeOverall
}

// RunStatus is the lifecycle state of a consolidation run.
type RunStatus string

const (
	StatusDraft      RunStatus = "draft"
	StatusInProgress RunStatus = "in_progress"
	StatusCompleted  RunStatus = "completed"
	StatusApproved   RunStatus = "approved"
	StatusFailed     RunStatus = "failed"
	StatusCancelled  RunStatus = "cancelled"
)

// Frozen reports whether the run may no longer be mutated.
func (s RunStatus) Frozen() bool {
	return s == StatusApproved
}

// ScopeEntry is one entity resolved into the consolidation scope.
type ScopeEntry struct {
	EntityID        int64                 `json:"entity_id"`
	ParentID        int64                 `json:"parent_id"`
	Depth           int                   `json:"depth"`
	Method          hierarchy.Method      `json:"method"`
	Control         hierarchy.ControlType `json:"control"`
	DirectOwnership float64               `json:"direct_ownership"`
	EffectiveShare  float64               `json:"effective_share"`
	// Associate entities stay as a single-line equity-method investment on
	// the investor's books; their balances are never line-by-line combined.
	Associate bool `json:"associate,omitempty"`
}

// Exclusion records an entity left out of scope and why, for auditability.
type Exclusion struct {
	EntityID int64  `json:"entity_id"`
	Reason   string `json:"reason"`
}

// Scope is the resolved entity set of one run, ordered by level.
type Scope struct {
	Entries    []ScopeEntry `json:"entries"`
	Exclusions []Exclusion  `json:"exclusions"`
}

// ConsolidatedIDs returns the entity ids combined line by line, associates
// excluded.
func (s Scope) ConsolidatedIDs() []int64 {
	ids := make([]int64, 0, len(s.Entries))
	for _, e := range s.Entries {
		if e.Associate {
			continue
		}
		ids = append(ids, e.EntityID)
	}
	return ids
}

// InScopeSet returns membership lookup over consolidated entities.
func (s Scope) InScopeSet() map[int64]bool {
	set := make(map[int64]bool, len(s.Entries))
	for _, e := range s.Entries {
		if !e.Associate {
			set[e.EntityID] = true
		}
	}
	return set
}

// Override is a manual scope decision supplied by the project layer. Every
// override carries a recorded reason.
type Override struct {
	EntityID int64  `json:"entity_id"`
	Include  bool   `json:"include"`
	Reason   string `json:"reason"`
}

// Config is the per-run engine configuration. Each run carries its own copy
// so concurrent runs never share mutable parameters.
type Config struct {
	Mode Mode `json:"mode"`

	WeightAmount       float64 `json:"weight_amount" validate:"gte=0,lte=1"`
	WeightCounterparty float64 `json:"weight_counterparty" validate:"gte=0,lte=1"`
	WeightTemporal     float64 `json:"weight_temporal" validate:"gte=0,lte=1"`
	WeightFamily       float64 `json:"weight_family" validate:"gte=0,lte=1"`

	ConfirmThreshold float64 `json:"confirm_threshold" validate:"gt=0,lte=1"`
	SuggestFloor     float64 `json:"suggest_floor" validate:"gte=0,lte=1"`

	AmountToleranceRatio float64       `json:"amount_tolerance_ratio" validate:"gt=0,lt=1"`
	TemporalWindow       time.Duration `json:"temporal_window" validate:"gt=0"`

	ControlThreshold float64 `json:"control_threshold" validate:"gte=0,lte=100"`
	MaxDepth         int     `json:"max_depth" validate:"gt=0,lte=6"`

	BalanceTolerance float64 `json:"balance_tolerance" validate:"gt=0"`
}

var validate = validator.New()

// Validate rejects incoherent run parameters before the run starts.
func (c Config) Validate() error {
	if !c.Mode.Valid() {
		return &shared.ConfigError{Field: "mode", Detail: fmt.Sprintf("unknown mode %q", c.Mode)}
	}
	if err := validate.Struct(c); err != nil {
		return &shared.ConfigError{Field: "engine", Detail: err.Error()}
	}
	sum := c.WeightAmount + c.WeightCounterparty + c.WeightTemporal + c.WeightFamily
	if sum < 0.999 || sum > 1.001 {
		return &shared.ConfigError{Field: "weights", Detail: fmt.Sprintf("match weights must sum to 1, got %.3f", sum)}
	}
	if c.SuggestFloor >= c.ConfirmThreshold {
		return &shared.ConfigError{Field: "suggest_floor", Detail: "suggest floor must be below confirm threshold"}
	}
	return nil
}

// Summary carries the headline figures stored on a completed run.
type Summary struct {
	TotalAssets      float64 `json:"total_assets"`
	TotalLiabilities float64 `json:"total_liabilities"`
	TotalEquity      float64 `json:"total_equity"`
	MinorityInterest float64 `json:"minority_interest"`
	TotalDebits      float64 `json:"total_debits"`
	TotalCredits     float64 `json:"total_credits"`
}

// Run is one execution of the engine for (root entity, period, mode).
// A new run never mutates a previous approved run.
type Run struct {
	ID              uuid.UUID            `json:"id"`
	ProjectID       int64                `json:"project_id"`
	RootEntityID    int64                `json:"root_entity_id"`
	Period          string               `json:"period"`
	Mode            Mode                 `json:"mode"`
	Status          RunStatus            `json:"status"`
	SnapshotVersion string               `json:"snapshot_version"`
	Config          Config               `json:"config"`
	Scope           Scope                `json:"scope"`
	Warnings        []shared.RunWarning  `json:"warnings"`
	Summary         Summary              `json:"summary"`
	FailureReason   string               `json:"failure_reason,omitempty"`
	ApprovedBy      int64                `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time           `json:"approved_at,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// UnacknowledgedWarnings counts warnings still blocking approval.
func (r Run) UnacknowledgedWarnings() int {
	n := 0
	for _, w := range r.Warnings {
		if !w.Acknowledged {
			n++
		}
	}
	return n
}
