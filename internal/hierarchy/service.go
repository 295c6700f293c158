package hierarchy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Store describes the persistence behaviour the service depends on.
type Store interface {
	InsertEntity(ctx context.Context, in CreateEntityInput) (int64, error)
	GetEntity(ctx context.Context, id int64) (Entity, error)
	UpdateEntityMetadata(ctx context.Context, id int64, name, currency, fiscalYearEnd string) error
	RetireEntity(ctx context.Context, id int64) error
	ListEntities(ctx context.Context, projectID int64) ([]Entity, error)
	ListEdges(ctx context.Context, projectID int64) ([]OwnershipEdge, error)
	SaveEdge(ctx context.Context, projectID int64, in AddEdgeInput, paths []AncestorPath) (int64, error)
	DeleteEdge(ctx context.Context, projectID, edgeID int64, paths []AncestorPath) error
}

// Service owns the hierarchy store operations: entity lifecycle, edge
// insertion with the cycle guard, and closure maintenance.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService constructs a hierarchy service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// CreateEntity onboards a legal unit to a project.
func (s *Service) CreateEntity(ctx context.Context, in CreateEntityInput) (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}
	id, err := s.store.InsertEntity(ctx, in)
	if err != nil {
		return 0, err
	}
	s.log().Info("entity created", slog.Int64("entity_id", id), slog.String("code", in.Code))
	return id, nil
}

// UpdateEntity corrects entity metadata. Structural fields live on edges.
func (s *Service) UpdateEntity(ctx context.Context, id int64, name, currency, fiscalYearEnd string) error {
	return s.store.UpdateEntityMetadata(ctx, id, name, currency, fiscalYearEnd)
}

// RetireEntity soft-retires an entity once nothing references it.
func (s *Service) RetireEntity(ctx context.Context, id int64) error {
	return s.store.RetireEntity(ctx, id)
}

// AddEdge validates and persists an ownership edge. The cycle guard runs
// against the full edge set before anything is written; the closure index
// is recomputed with the edge folded in and replaced atomically.
func (s *Service) AddEdge(ctx context.Context, projectID int64, in AddEdgeInput) (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}
	graph, err := s.loadGraph(ctx, projectID)
	if err != nil {
		return 0, err
	}
	edge := OwnershipEdge{
		InvestorID:    in.InvestorID,
		InvesteeID:    in.InvesteeID,
		Ownership:     in.Ownership,
		VotingRights:  in.VotingRights,
		Control:       in.Control,
		Method:        in.Method,
		EffectiveFrom: in.EffectiveFrom,
		EffectiveTo:   in.EffectiveTo,
	}
	if err := graph.AddEdge(edge); err != nil {
		return 0, err
	}
	id, err := s.store.SaveEdge(ctx, projectID, in, graph.Paths())
	if err != nil {
		return 0, err
	}
	s.log().Info("ownership edge added",
		slog.Int64("investor_id", in.InvestorID),
		slog.Int64("investee_id", in.InvesteeID),
		slog.String("ownership_pct", in.Ownership.String()))
	return id, nil
}

// RemoveEdge deletes an edge and rebuilds the closure from the remainder.
func (s *Service) RemoveEdge(ctx context.Context, projectID, edgeID int64) error {
	edges, err := s.store.ListEdges(ctx, projectID)
	if err != nil {
		return err
	}
	remaining := make([]OwnershipEdge, 0, len(edges))
	found := false
	for _, e := range edges {
		if e.ID == edgeID {
			found = true
			continue
		}
		remaining = append(remaining, e)
	}
	if !found {
		return ErrEdgeNotFound
	}
	entities, err := s.store.ListEntities(ctx, projectID)
	if err != nil {
		return err
	}
	graph, err := NewGraph(entityIDs(entities), remaining)
	if err != nil {
		return fmt.Errorf("hierarchy: rebuild closure: %w", err)
	}
	return s.store.DeleteEdge(ctx, projectID, edgeID, graph.Paths())
}

// Graph loads the project's full ownership graph with its closure index.
func (s *Service) Graph(ctx context.Context, projectID int64) (*Graph, error) {
	return s.loadGraph(ctx, projectID)
}

// EffectiveOwnership answers "what share of descendant does ancestor hold"
// from the closure index.
func (s *Service) EffectiveOwnership(ctx context.Context, projectID, ancestorID, descendantID int64) (decimal.Decimal, error) {
	graph, err := s.loadGraph(ctx, projectID)
	if err != nil {
		return decimal.Zero, err
	}
	share, ok := graph.EffectiveOwnership(ancestorID, descendantID)
	if !ok {
		return decimal.Zero, ErrEntityNotFound
	}
	return share, nil
}

// Statistics summarises the hierarchy of a project.
func (s *Service) Statistics(ctx context.Context, projectID, rootID int64) (Statistics, error) {
	entities, err := s.store.ListEntities(ctx, projectID)
	if err != nil {
		return Statistics{}, err
	}
	graph, err := s.loadGraph(ctx, projectID)
	if err != nil {
		return Statistics{}, err
	}
	stats := Statistics{
		TotalEntities: len(entities),
		ByRole:        make(map[EntityRole]int),
		ByLevel:       make(map[int]int),
	}
	for _, e := range entities {
		stats.ByRole[e.Role]++
	}
	stats.ByLevel[0] = 1
	for _, p := range graph.Descendants(rootID) {
		stats.ByLevel[p.Depth]++
		if p.Depth > stats.MaxDepth {
			stats.MaxDepth = p.Depth
		}
	}
	return stats, nil
}

func (s *Service) loadGraph(ctx context.Context, projectID int64) (*Graph, error) {
	entities, err := s.store.ListEntities(ctx, projectID)
	if err != nil {
		return nil, err
	}
	edges, err := s.store.ListEdges(ctx, projectID)
	if err != nil {
		return nil, err
	}
	graph, err := NewGraph(entityIDs(entities), edges)
	if err != nil {
		// The insertion guard should make this unreachable; a cyclic edge
		// set in storage is a structural fault, not a user error.
		return nil, fmt.Errorf("hierarchy: stored graph invalid: %w", err)
	}
	return graph, nil
}

func entityIDs(entities []Entity) []int64 {
	ids := make([]int64, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	return ids
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "hierarchy"))
	}
	return slog.Default().With(slog.String("component", "hierarchy"))
}
