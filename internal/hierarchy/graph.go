package hierarchy

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type pathKey struct {
	ancestor   int
	descendant int
}

// Graph holds the ownership structure as explicit node/edge collections
// addressed by integer handles, with a transitive-closure index so scope
// and effective-ownership queries need no traversal.
type Graph struct {
	ids   []int64
	index map[int64]int
	edges []OwnershipEdge
	out   [][]int
	paths map[pathKey]AncestorPath
}

// NewGraph builds a graph from the given entity identifiers and edges.
// Edge insertion order does not matter; a cyclic edge set is rejected.
func NewGraph(entityIDs []int64, edges []OwnershipEdge) (*Graph, error) {
	g := &Graph{index: make(map[int64]int, len(entityIDs)), paths: make(map[pathKey]AncestorPath)}
	for _, id := range entityIDs {
		g.AddNode(id)
	}
	for _, e := range edges {
		if err := g.AddEdge(e); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// AddNode registers an entity handle. Adding an existing node is a no-op.
func (g *Graph) AddNode(id int64) {
	if _, ok := g.index[id]; ok {
		return
	}
	g.index[id] = len(g.ids)
	g.ids = append(g.ids, id)
	g.out = append(g.out, nil)
}

// AddEdge inserts an ownership edge after validating it and verifying the
// investee cannot already reach the investor. On success the closure rows
// for every (ancestor of investor, descendant of investee) pair are
// updated incrementally; on failure the graph is unchanged.
func (g *Graph) AddEdge(e OwnershipEdge) error {
	in := AddEdgeInput{
		InvestorID:   e.InvestorID,
		InvesteeID:   e.InvesteeID,
		Ownership:    e.Ownership,
		VotingRights: e.VotingRights,
		Control:      e.Control,
		Method:       e.Method,
	}
	if err := in.Validate(); err != nil {
		return err
	}
	g.AddNode(e.InvestorID)
	g.AddNode(e.InvesteeID)
	u := g.index[e.InvestorID]
	v := g.index[e.InvesteeID]

	if g.reachable(v, u) {
		return ErrCycle
	}

	edgeIdx := len(g.edges)
	g.edges = append(g.edges, e)
	g.out[u] = append(g.out[u], edgeIdx)

	g.mergeClosure(u, v, e.Ownership)
	return nil
}

// mergeClosure folds the new edge u->v (pct percent) into the closure:
// every ancestor of u gains every descendant of v along a chain through
// the new edge, keeping the shortest chain as primary.
func (g *Graph) mergeClosure(u, v int, pct decimal.Decimal) {
	type end struct {
		node  int
		depth int
		share decimal.Decimal
	}
	ancestors := []end{{node: u, depth: 0, share: hundred}}
	descendants := []end{{node: v, depth: 0, share: hundred}}
	for key, p := range g.paths {
		if key.descendant == u {
			ancestors = append(ancestors, end{node: key.ancestor, depth: p.Depth, share: p.Share})
		}
		if key.ancestor == v {
			descendants = append(descendants, end{node: key.descendant, depth: p.Depth, share: p.Share})
		}
	}
	for _, a := range ancestors {
		for _, d := range descendants {
			depth := a.depth + 1 + d.depth
			share := a.share.Mul(pct).Mul(d.share).Div(hundred).Div(hundred)
			key := pathKey{ancestor: a.node, descendant: d.node}
			if existing, ok := g.paths[key]; ok && existing.Depth <= depth {
				continue
			}
			g.paths[key] = AncestorPath{
				AncestorID:   g.ids[a.node],
				DescendantID: g.ids[d.node],
				Depth:        depth,
				Share:        share,
			}
		}
	}
}

func (g *Graph) reachable(from, to int) bool {
	if from == to {
		return true
	}
	_, ok := g.paths[pathKey{ancestor: from, descendant: to}]
	return ok
}

// Reachable reports whether descendant is reachable from ancestor.
func (g *Graph) Reachable(ancestorID, descendantID int64) bool {
	a, ok := g.index[ancestorID]
	if !ok {
		return false
	}
	d, ok := g.index[descendantID]
	if !ok {
		return false
	}
	return g.reachable(a, d)
}

// EffectiveOwnership returns the multiplicative ownership share (0-100) of
// ancestor in descendant along the primary chain.
func (g *Graph) EffectiveOwnership(ancestorID, descendantID int64) (decimal.Decimal, bool) {
	if ancestorID == descendantID {
		return hundred, true
	}
	a, ok := g.index[ancestorID]
	if !ok {
		return zero, false
	}
	d, ok := g.index[descendantID]
	if !ok {
		return zero, false
	}
	p, ok := g.paths[pathKey{ancestor: a, descendant: d}]
	if !ok {
		return zero, false
	}
	return p.Share, true
}

// Descendants lists closure rows under root, ordered by depth then id.
func (g *Graph) Descendants(rootID int64) []AncestorPath {
	r, ok := g.index[rootID]
	if !ok {
		return nil
	}
	rows := make([]AncestorPath, 0)
	for key, p := range g.paths {
		if key.ancestor == r {
			rows = append(rows, p)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Depth != rows[j].Depth {
			return rows[i].Depth < rows[j].Depth
		}
		return rows[i].DescendantID < rows[j].DescendantID
	})
	return rows
}

// Paths returns every closure row, ordered for stable persistence.
func (g *Graph) Paths() []AncestorPath {
	rows := make([]AncestorPath, 0, len(g.paths))
	for _, p := range g.paths {
		rows = append(rows, p)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].AncestorID != rows[j].AncestorID {
			return rows[i].AncestorID < rows[j].AncestorID
		}
		return rows[i].DescendantID < rows[j].DescendantID
	})
	return rows
}

// DirectEdges returns outgoing edges of investor effective on the date.
// A zero time disables the effective-date filter.
func (g *Graph) DirectEdges(investorID int64, at time.Time) []OwnershipEdge {
	u, ok := g.index[investorID]
	if !ok {
		return nil
	}
	edges := make([]OwnershipEdge, 0, len(g.out[u]))
	for _, idx := range g.out[u] {
		e := g.edges[idx]
		if !at.IsZero() && !e.ActiveAt(at) {
			continue
		}
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].InvesteeID < edges[j].InvesteeID })
	return edges
}

// MaxDepth returns the longest chain under root.
func (g *Graph) MaxDepth(rootID int64) int {
	depth := 0
	for _, p := range g.Descendants(rootID) {
		if p.Depth > depth {
			depth = p.Depth
		}
	}
	return depth
}
