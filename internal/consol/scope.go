package consol

import (
	"log/slog"
	"sort"
	"time"

	"github.com/groupledger/groupledger/internal/hierarchy"
	"github.com/groupledger/groupledger/internal/shared"
)

// ResolveScope walks the ownership graph level by level from the root and
// decides, per entity, whether it is consolidated line by line, carried as
// an equity-method associate, or excluded with a recorded reason.
//
// A chain deeper than the configured maximum fails with a policy error and
// no partial scope. A cycle cannot survive edge insertion, but the walk
// re-checks and fails structurally rather than looping.
func ResolveScope(graph *hierarchy.Graph, rootID int64, at time.Time, overrides []Override, cfg Config, logger *slog.Logger) (Scope, error) {
	manual := make(map[int64]Override, len(overrides))
	for _, o := range overrides {
		manual[o.EntityID] = o
	}

	scope := Scope{
		Entries: []ScopeEntry{{
			EntityID:        rootID,
			Depth:           0,
			Method:          hierarchy.MethodFull,
			Control:         hierarchy.ControlFull,
			DirectOwnership: 100,
			EffectiveShare:  100,
		}},
	}
	seen := map[int64]bool{rootID: true}

	type frame struct {
		entityID int64
		depth    int
	}
	queue := []frame{{entityID: rootID, depth: 0}}
	visits := 0
	limit := len(graph.Paths()) + 1

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if visits++; visits > limit+1 {
			return Scope{}, shared.NewStructuralError(shared.StructuralCycle,
				"scope walk revisited the graph beyond its closure size; stored edges form a cycle")
		}

		for _, edge := range graph.DirectEdges(cur.entityID, at) {
			child := edge.InvesteeID
			if seen[child] {
				// Diamond ownership: already placed via a shorter chain.
				continue
			}
			depth := cur.depth + 1
			if depth > cfg.MaxDepth {
				return Scope{}, shared.NewPolicyError("max_depth",
					"entity %d sits at depth %d, beyond the configured maximum of %d", child, depth, cfg.MaxDepth)
			}

			ownership := edge.Ownership.InexactFloat64()
			effective := effectiveShare(graph, rootID, child)
			entry := ScopeEntry{
				EntityID:        child,
				ParentID:        cur.entityID,
				Depth:           depth,
				Method:          edge.Method,
				Control:         edge.Control,
				DirectOwnership: ownership,
				EffectiveShare:  effective,
			}

			if o, ok := manual[child]; ok && !o.Include {
				scope.Exclusions = append(scope.Exclusions, Exclusion{EntityID: child, Reason: "manual exclusion: " + o.Reason})
				seen[child] = true
				continue
			}

			switch edge.Method {
			case hierarchy.MethodEquity, hierarchy.MethodCost:
				entry.Associate = true
				scope.Entries = append(scope.Entries, entry)
				seen[child] = true
				// Associates are a single line; never traversed further.
				continue
			}

			controlled := edge.Control == hierarchy.ControlFull ||
				edge.Control == hierarchy.ControlControlling ||
				ownership > cfg.ControlThreshold
			if o, ok := manual[child]; ok && o.Include {
				controlled = true
				entry.Control = hierarchy.ControlControlling
			}
			if !controlled {
				scope.Exclusions = append(scope.Exclusions, Exclusion{
					EntityID: child,
					Reason:   "no control: ownership below threshold and control type insufficient",
				})
				seen[child] = true
				continue
			}

			scope.Entries = append(scope.Entries, entry)
			seen[child] = true
			queue = append(queue, frame{entityID: child, depth: depth})
		}
	}

	sort.SliceStable(scope.Entries, func(i, j int) bool {
		if scope.Entries[i].Depth != scope.Entries[j].Depth {
			return scope.Entries[i].Depth < scope.Entries[j].Depth
		}
		return scope.Entries[i].EntityID < scope.Entries[j].EntityID
	})

	if logger != nil {
		logger.Info("scope resolved",
			slog.Int64("root_id", rootID),
			slog.Int("entities", len(scope.Entries)),
			slog.Int("exclusions", len(scope.Exclusions)))
	}
	return scope, nil
}

func effectiveShare(graph *hierarchy.Graph, rootID, entityID int64) float64 {
	share, ok := graph.EffectiveOwnership(rootID, entityID)
	if !ok {
		return 0
	}
	return share.InexactFloat64()
}
