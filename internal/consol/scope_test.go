package consol

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/groupledger/groupledger/internal/hierarchy"
	"github.com/groupledger/groupledger/internal/shared"
)

func testEngineConfig() Config {
	return Config{
		Mode:                 ModeHierarchical,
		WeightAmount:         0.4,
		WeightCounterparty:   0.3,
		WeightTemporal:       0.15,
		WeightFamily:         0.15,
		ConfirmThreshold:     0.75,
		SuggestFloor:         0.5,
		AmountToleranceRatio: 0.01,
		TemporalWindow:       168 * time.Hour,
		ControlThreshold:     50,
		MaxDepth:             6,
		BalanceTolerance:     0.01,
	}
}

func ownEdge(investor, investee int64, pct float64, control hierarchy.ControlType, method hierarchy.Method) hierarchy.OwnershipEdge {
	return hierarchy.OwnershipEdge{
		InvestorID:   investor,
		InvesteeID:   investee,
		Ownership:    decimal.NewFromFloat(pct),
		VotingRights: decimal.NewFromFloat(pct),
		Control:      control,
		Method:       method,
	}
}

func TestResolveScopeIncludesControlledChain(t *testing.T) {
	g, err := hierarchy.NewGraph([]int64{1, 2, 3}, []hierarchy.OwnershipEdge{
		ownEdge(1, 2, 80, hierarchy.ControlControlling, hierarchy.MethodFull),
		ownEdge(2, 3, 60, hierarchy.ControlControlling, hierarchy.MethodFull),
	})
	require.NoError(t, err)

	scope, err := ResolveScope(g, 1, time.Time{}, nil, testEngineConfig(), nil)
	require.NoError(t, err)
	require.Len(t, scope.Entries, 3)
	require.Empty(t, scope.Exclusions)

	require.Equal(t, int64(1), scope.Entries[0].EntityID)
	require.Equal(t, 0, scope.Entries[0].Depth)
	require.Equal(t, int64(3), scope.Entries[2].EntityID)
	require.Equal(t, 2, scope.Entries[2].Depth)
	require.InDelta(t, 48.0, scope.Entries[2].EffectiveShare, 0.0001)
}

func TestResolveScopeExcludesBelowThreshold(t *testing.T) {
	g, err := hierarchy.NewGraph([]int64{1, 2}, []hierarchy.OwnershipEdge{
		ownEdge(1, 2, 30, hierarchy.ControlSignificant, hierarchy.MethodFull),
	})
	require.NoError(t, err)

	scope, err := ResolveScope(g, 1, time.Time{}, nil, testEngineConfig(), nil)
	require.NoError(t, err)
	require.Len(t, scope.Entries, 1)
	require.Len(t, scope.Exclusions, 1)
	require.Equal(t, int64(2), scope.Exclusions[0].EntityID)
	require.Contains(t, scope.Exclusions[0].Reason, "no control")
}

func TestManualOverridesCarryReasons(t *testing.T) {
	g, err := hierarchy.NewGraph([]int64{1, 2, 3}, []hierarchy.OwnershipEdge{
		ownEdge(1, 2, 90, hierarchy.ControlFull, hierarchy.MethodFull),
		ownEdge(1, 3, 30, hierarchy.ControlSignificant, hierarchy.MethodFull),
	})
	require.NoError(t, err)

	overrides := []Override{
		{EntityID: 2, Include: false, Reason: "held for sale"},
		{EntityID: 3, Include: true, Reason: "de facto control via board seats"},
	}
	scope, err := ResolveScope(g, 1, time.Time{}, overrides, testEngineConfig(), nil)
	require.NoError(t, err)

	require.Len(t, scope.Exclusions, 1)
	require.Contains(t, scope.Exclusions[0].Reason, "held for sale")

	ids := scope.ConsolidatedIDs()
	require.Contains(t, ids, int64(3))
	require.NotContains(t, ids, int64(2))
}

func TestAssociatesAreSingleLineNotTraversed(t *testing.T) {
	// 3 is an equity-method associate of 2; 4 hangs under 3 and must not
	// enter the scope through it.
	g, err := hierarchy.NewGraph([]int64{1, 2, 3, 4}, []hierarchy.OwnershipEdge{
		ownEdge(1, 2, 100, hierarchy.ControlFull, hierarchy.MethodFull),
		ownEdge(2, 3, 25, hierarchy.ControlSignificant, hierarchy.MethodEquity),
		ownEdge(3, 4, 100, hierarchy.ControlFull, hierarchy.MethodFull),
	})
	require.NoError(t, err)

	scope, err := ResolveScope(g, 1, time.Time{}, nil, testEngineConfig(), nil)
	require.NoError(t, err)

	var associate *ScopeEntry
	for i := range scope.Entries {
		if scope.Entries[i].EntityID == 3 {
			associate = &scope.Entries[i]
		}
		require.NotEqual(t, int64(4), scope.Entries[i].EntityID)
	}
	require.NotNil(t, associate)
	require.True(t, associate.Associate)
	require.NotContains(t, scope.ConsolidatedIDs(), int64(3))
}

func TestDepthSevenChainFailsWithPolicyErrorNoPartialScope(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5, 6, 7, 8}
	edges := make([]hierarchy.OwnershipEdge, 0, 7)
	for i := int64(1); i < 8; i++ {
		edges = append(edges, ownEdge(i, i+1, 100, hierarchy.ControlFull, hierarchy.MethodFull))
	}
	g, err := hierarchy.NewGraph(ids, edges)
	require.NoError(t, err)

	scope, err := ResolveScope(g, 1, time.Time{}, nil, testEngineConfig(), nil)
	var perr *shared.PolicyError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "max_depth", perr.Rule)
	require.Empty(t, scope.Entries, "no partial scope on a policy failure")
}

func TestDiamondOwnershipEntersScopeOnce(t *testing.T) {
	g, err := hierarchy.NewGraph([]int64{1, 2, 3, 4}, []hierarchy.OwnershipEdge{
		ownEdge(1, 2, 100, hierarchy.ControlFull, hierarchy.MethodFull),
		ownEdge(1, 3, 100, hierarchy.ControlFull, hierarchy.MethodFull),
		ownEdge(2, 4, 60, hierarchy.ControlControlling, hierarchy.MethodFull),
		ownEdge(3, 4, 40, hierarchy.ControlSignificant, hierarchy.MethodFull),
	})
	require.NoError(t, err)

	scope, err := ResolveScope(g, 1, time.Time{}, nil, testEngineConfig(), nil)
	require.NoError(t, err)

	seen := 0
	for _, e := range scope.Entries {
		if e.EntityID == 4 {
			seen++
		}
	}
	require.Equal(t, 1, seen, "a jointly held entity must be placed exactly once")
}

func TestConfigValidation(t *testing.T) {
	cfg := testEngineConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.WeightAmount = 0.9
	err := bad.Validate()
	var cerr *shared.ConfigError
	require.ErrorAs(t, err, &cerr, "weights not summing to 1 must be rejected")

	bad = cfg
	bad.SuggestFloor = 0.8
	require.ErrorAs(t, bad.Validate(), &cerr, "floor above threshold must be rejected")

	bad = cfg
	bad.MaxDepth = 9
	require.ErrorAs(t, bad.Validate(), &cerr, "depth beyond 6 must be rejected")

	bad = cfg
	bad.Mode = "sideways"
	require.ErrorAs(t, bad.Validate(), &cerr)
}
