package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrRunActive indicates another run already holds the root/period slot.
	ErrRunActive = errors.New("consolidation run already in progress")
	// ErrRunFrozen indicates the run is approved and no longer mutable.
	ErrRunFrozen = errors.New("run is approved and frozen")
)

// StructuralError reports a violated engine invariant: a cycle in the
// ownership graph, an unbalanced entry, or a broken statement identity.
// Structural errors are always fatal to the run and never auto-corrected.
type StructuralError struct {
	Kind   string
	Detail string
	Amount float64
}

func (e *StructuralError) Error() string {
	if e.Amount != 0 {
		return fmt.Sprintf("structural: %s: %s (amount %.2f)", e.Kind, e.Detail, e.Amount)
	}
	return fmt.Sprintf("structural: %s: %s", e.Kind, e.Detail)
}

// NewStructuralError builds a StructuralError for the given invariant kind.
func NewStructuralError(kind, format string, args ...any) *StructuralError {
	return &StructuralError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// IsStructural reports whether err is (or wraps) a StructuralError.
func IsStructural(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}

// Structural invariant kinds.
const (
	StructuralCycle      = "ownership_cycle"
	StructuralDepth      = "depth_exceeded"
	StructuralUnbalanced = "unbalanced_entry"
	StructuralIdentity   = "statement_identity"
)

// PolicyError reports a violated consolidation policy, e.g. a hierarchy
// deeper than the configured maximum. No partial result accompanies it.
type PolicyError struct {
	Rule   string
	Detail string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy: %s: %s", e.Rule, e.Detail)
}

// NewPolicyError builds a PolicyError for the given rule.
func NewPolicyError(rule, format string, args ...any) *PolicyError {
	return &PolicyError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

// ConfigError reports configuration rejected at load time, before any run.
type ConfigError struct {
	Field  string
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Detail)
}
