package hierarchy

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntityRole classifies a legal unit inside the group.
type EntityRole string

const (
	RoleParent     EntityRole = "parent"
	RoleSubsidiary EntityRole = "subsidiary"
	RoleBranch     EntityRole = "branch"
	RoleDivision   EntityRole = "division"
)

// ControlType classifies the investor's control over the investee.
type ControlType string

const (
	ControlFull        ControlType = "full"
	ControlControlling ControlType = "controlling"
	ControlSignificant ControlType = "significant"
	ControlJoint       ControlType = "joint"
	ControlNone        ControlType = "none"
)

// Method is the consolidation method attached to an ownership edge.
type Method string

const (
	MethodFull         Method = "full"
	MethodProportional Method = "proportional"
	MethodEquity       Method = "equity"
	MethodCost         Method = "cost"
)

// Entity is a legal unit participating in the group. Entities are never
// deleted while referenced by edges or historical runs; they are retired.
type Entity struct {
	ID            int64
	Code          string
	Name          string
	Role          EntityRole
	Currency      string
	FiscalYearEnd string
	ProjectID     int64
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OwnershipEdge is a directed investor -> investee relationship. The edge
// set viewed as a directed graph must stay acyclic.
type OwnershipEdge struct {
	ID            int64
	InvestorID    int64
	InvesteeID    int64
	Ownership     decimal.Decimal // percentage, 0-100
	VotingRights  decimal.Decimal
	Control       ControlType
	Method        Method
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
}

// ActiveAt reports whether the edge is effective on the given date.
func (e OwnershipEdge) ActiveAt(at time.Time) bool {
	if at.Before(e.EffectiveFrom) {
		return false
	}
	if e.EffectiveTo != nil && at.After(*e.EffectiveTo) {
		return false
	}
	return true
}

// AncestorPath is one row of the transitive-closure index: descendant is
// reachable from ancestor in Depth edges, with the multiplicative effective
// ownership along the primary (shortest) chain.
type AncestorPath struct {
	AncestorID   int64
	DescendantID int64
	Depth        int
	Share        decimal.Decimal // effective ownership, 0-100
}

var (
	// ErrSelfLoop indicates investor == investee.
	ErrSelfLoop = errors.New("hierarchy: entity cannot invest in itself")
	// ErrCycle indicates the edge would make the ownership graph cyclic.
	ErrCycle = errors.New("hierarchy: edge would create ownership cycle")
	// ErrPercentage indicates an ownership percentage outside [0,100].
	ErrPercentage = errors.New("hierarchy: ownership percentage outside [0,100]")
	// ErrEntityNotFound indicates an unknown entity identifier.
	ErrEntityNotFound = errors.New("hierarchy: entity not found")
	// ErrEdgeNotFound indicates an unknown edge identifier.
	ErrEdgeNotFound = errors.New("hierarchy: edge not found")
	// ErrDuplicateCode indicates the entity code is already taken.
	ErrDuplicateCode = errors.New("hierarchy: entity code already exists")
	// ErrEntityReferenced indicates retirement was refused because edges or
	// runs still reference the entity.
	ErrEntityReferenced = errors.New("hierarchy: entity still referenced")
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// CreateEntityInput captures fields for onboarding an entity.
type CreateEntityInput struct {
	Code          string
	Name          string
	Role          EntityRole
	Currency      string
	FiscalYearEnd string
	ProjectID     int64
}

// Validate ensures the entity input is coherent.
func (in CreateEntityInput) Validate() error {
	if strings.TrimSpace(in.Code) == "" {
		return errors.New("hierarchy: entity code required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return errors.New("hierarchy: entity name required")
	}
	switch in.Role {
	case RoleParent, RoleSubsidiary, RoleBranch, RoleDivision:
	default:
		return errors.New("hierarchy: invalid entity role")
	}
	return nil
}

// AddEdgeInput captures fields for a new ownership edge.
type AddEdgeInput struct {
	InvestorID    int64
	InvesteeID    int64
	Ownership     decimal.Decimal
	VotingRights  decimal.Decimal
	Control       ControlType
	Method        Method
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
}

// Validate rejects self-loops and out-of-range percentages. Cycle detection
// needs the full graph and happens in the store.
func (in AddEdgeInput) Validate() error {
	if in.InvestorID == in.InvesteeID {
		return ErrSelfLoop
	}
	if in.InvestorID == 0 || in.InvesteeID == 0 {
		return errors.New("hierarchy: investor and investee required")
	}
	if in.Ownership.LessThan(zero) || in.Ownership.GreaterThan(hundred) {
		return ErrPercentage
	}
	if in.VotingRights.LessThan(zero) || in.VotingRights.GreaterThan(hundred) {
		return ErrPercentage
	}
	switch in.Control {
	case ControlFull, ControlControlling, ControlSignificant, ControlJoint, ControlNone:
	default:
		return errors.New("hierarchy: invalid control type")
	}
	switch in.Method {
	case MethodFull, MethodProportional, MethodEquity, MethodCost:
	default:
		return errors.New("hierarchy: invalid consolidation method")
	}
	return nil
}

// Statistics summarises a project's hierarchy.
type Statistics struct {
	TotalEntities int
	ByRole        map[EntityRole]int
	ByLevel       map[int]int
	MaxDepth      int
}
