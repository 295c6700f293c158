package hierarchy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func pct(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d
}

func edge(investor, investee int64, ownership string) OwnershipEdge {
	return OwnershipEdge{
		InvestorID:   investor,
		InvesteeID:   investee,
		Ownership:    pct(ownership),
		VotingRights: pct(ownership),
		Control:      ControlControlling,
		Method:       MethodFull,
	}
}

func TestClosureListsEveryDescendant(t *testing.T) {
	g, err := NewGraph([]int64{1, 2, 3, 4}, []OwnershipEdge{
		edge(1, 2, "100"),
		edge(2, 3, "80"),
		edge(3, 4, "60"),
	})
	require.NoError(t, err)

	rows := g.Descendants(1)
	require.Len(t, rows, 3)
	require.Equal(t, int64(2), rows[0].DescendantID)
	require.Equal(t, 1, rows[0].Depth)
	require.Equal(t, int64(3), rows[1].DescendantID)
	require.Equal(t, 2, rows[1].Depth)
	require.Equal(t, int64(4), rows[2].DescendantID)
	require.Equal(t, 3, rows[2].Depth)
}

func TestEffectiveOwnershipIsMultiplicative(t *testing.T) {
	g, err := NewGraph([]int64{1, 2, 3}, []OwnershipEdge{
		edge(1, 2, "60"),
		edge(2, 3, "50"),
	})
	require.NoError(t, err)

	share, ok := g.EffectiveOwnership(1, 3)
	require.True(t, ok)
	require.True(t, share.Equal(pct("30")), "expected 30, got %s", share)

	self, ok := g.EffectiveOwnership(1, 1)
	require.True(t, ok)
	require.True(t, self.Equal(pct("100")))
}

func TestCycleInsertionRejectedAndGraphUnchanged(t *testing.T) {
	g, err := NewGraph([]int64{1, 2, 3}, []OwnershipEdge{
		edge(1, 2, "100"),
		edge(2, 3, "100"),
	})
	require.NoError(t, err)

	before := g.Paths()
	err = g.AddEdge(edge(3, 1, "10"))
	require.ErrorIs(t, err, ErrCycle)
	require.Equal(t, before, g.Paths())

	err = g.AddEdge(edge(2, 1, "10"))
	require.ErrorIs(t, err, ErrCycle)
}

func TestSelfLoopRejected(t *testing.T) {
	g, err := NewGraph([]int64{1}, nil)
	require.NoError(t, err)
	require.ErrorIs(t, g.AddEdge(edge(1, 1, "50")), ErrSelfLoop)
}

func TestPercentageRangeRejected(t *testing.T) {
	g, err := NewGraph([]int64{1, 2}, nil)
	require.NoError(t, err)
	require.ErrorIs(t, g.AddEdge(edge(1, 2, "101")), ErrPercentage)
	require.ErrorIs(t, g.AddEdge(edge(1, 2, "-1")), ErrPercentage)
}

func TestMultipleInvestorsAllowed(t *testing.T) {
	// Joint venture: 3 is held 50/50 by 1 and 2 without forming a cycle.
	g, err := NewGraph([]int64{1, 2, 3}, []OwnershipEdge{
		edge(1, 3, "50"),
		edge(2, 3, "50"),
	})
	require.NoError(t, err)
	require.True(t, g.Reachable(1, 3))
	require.True(t, g.Reachable(2, 3))
	require.False(t, g.Reachable(1, 2))
}

func TestShortestChainIsPrimary(t *testing.T) {
	// 1 reaches 4 directly and via 2->3; the direct edge is the primary
	// chain for depth and effective share.
	g, err := NewGraph([]int64{1, 2, 3, 4}, []OwnershipEdge{
		edge(1, 2, "100"),
		edge(2, 3, "100"),
		edge(3, 4, "40"),
		edge(1, 4, "35"),
	})
	require.NoError(t, err)

	share, ok := g.EffectiveOwnership(1, 4)
	require.True(t, ok)
	require.True(t, share.Equal(pct("35")), "expected direct 35, got %s", share)

	for _, p := range g.Descendants(1) {
		if p.DescendantID == 4 {
			require.Equal(t, 1, p.Depth)
		}
	}
}

func TestMaxDepthBoundedChain(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5, 6, 7, 8}
	edges := make([]OwnershipEdge, 0, 7)
	for i := int64(1); i < 8; i++ {
		edges = append(edges, edge(i, i+1, "100"))
	}
	g, err := NewGraph(ids, edges)
	require.NoError(t, err)
	require.Equal(t, 7, g.MaxDepth(1))
}

func TestDescendantsAfterIncrementalInsert(t *testing.T) {
	g, err := NewGraph([]int64{1, 2, 3, 4}, []OwnershipEdge{
		edge(1, 2, "100"),
		edge(3, 4, "70"),
	})
	require.NoError(t, err)

	// Link the two components: every ancestor of 2 must now reach 3 and 4.
	require.NoError(t, g.AddEdge(edge(2, 3, "90")))

	rows := g.Descendants(1)
	require.Len(t, rows, 3)
	share, ok := g.EffectiveOwnership(1, 4)
	require.True(t, ok)
	require.True(t, share.Equal(pct("63")), "expected 100*90*70 = 63, got %s", share)
}
