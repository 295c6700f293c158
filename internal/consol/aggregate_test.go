package consol

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/groupledger/groupledger/internal/consol/elim"
	"github.com/groupledger/groupledger/internal/hierarchy"
	"github.com/groupledger/groupledger/internal/ledger"
	"github.com/groupledger/groupledger/internal/shared"
)

// tb builds a balanced two-line trial balance for an entity.
func tb(entityID int64, asset, liability float64) []ledger.AccountBalance {
	return []ledger.AccountBalance{
		{EntityID: entityID, AccountCode: "1100", AccountName: "Cash", Debit: asset},
		{EntityID: entityID, AccountCode: "2100", AccountName: "Other payables", Credit: liability},
	}
}

func threeLevelScope() Scope {
	return Scope{Entries: []ScopeEntry{
		{EntityID: 1, Depth: 0, Method: hierarchy.MethodFull, Control: hierarchy.ControlFull, DirectOwnership: 100, EffectiveShare: 100},
		{EntityID: 2, ParentID: 1, Depth: 1, Method: hierarchy.MethodFull, Control: hierarchy.ControlControlling, DirectOwnership: 80, EffectiveShare: 80},
		{EntityID: 3, ParentID: 2, Depth: 2, Method: hierarchy.MethodFull, Control: hierarchy.ControlControlling, DirectOwnership: 60, EffectiveShare: 48},
	}}
}

func threeLevelSnapshot() *ledger.Snapshot {
	return &ledger.Snapshot{
		Period: "2026-01",
		Balances: map[int64][]ledger.AccountBalance{
			1: tb(1, 50000, 50000),
			2: tb(2, 30000, 30000),
			3: tb(3, 20000, 20000),
		},
	}
}

func debtEntry(runID uuid.UUID, investor, investee int64, amount float64) elim.Entry {
	return elim.NewEntry(runID, elim.CategoryIntercompanyDebt,
		elim.AcctPayables, elim.AcctReceivables, amount, investor, investee, "t", "")
}

func TestHierarchicalAndOverallAgreeAtRoot(t *testing.T) {
	runID := uuid.New()
	scope := threeLevelScope()
	snap := threeLevelSnapshot()
	entries := []elim.Entry{
		debtEntry(runID, 1, 2, 4000),
		debtEntry(runID, 2, 3, 2500),
	}

	a := NewAggregator(nil)
	hier, err := a.Aggregate(context.Background(), ModeHierarchical, scope, snap, entries)
	require.NoError(t, err)
	overall, err := a.Aggregate(context.Background(), ModeOverall, scope, snap, entries)
	require.NoError(t, err)

	require.Equal(t, len(overall.Accounts), len(hier.Accounts))
	for code, want := range overall.Accounts {
		got, ok := hier.Accounts[code]
		require.True(t, ok, "account %s missing from hierarchical result", code)
		require.InDelta(t, want.Debit, got.Debit, 0.001, "debit mismatch on %s", code)
		require.InDelta(t, want.Credit, got.Credit, 0.001, "credit mismatch on %s", code)
	}
}

func TestHierarchicalKeepsIntermediateSubGroups(t *testing.T) {
	runID := uuid.New()
	scope := threeLevelScope()
	snap := threeLevelSnapshot()
	entries := []elim.Entry{debtEntry(runID, 2, 3, 2500)}

	a := NewAggregator(nil)
	res, err := a.Aggregate(context.Background(), ModeHierarchical, scope, snap, entries)
	require.NoError(t, err)

	// Entity 2's sub-group: its own balances plus entity 3's, plus the
	// elimination it carries as investor.
	sub, ok := res.Intermediate[2]
	require.True(t, ok)
	require.InDelta(t, 50000.0, sub["1100"].Debit, 0.001)
	require.InDelta(t, 2500.0, sub[elim.AcctPayables].Debit, 0.001)

	// Overall mode never materializes sub-totals.
	overall, err := a.Aggregate(context.Background(), ModeOverall, scope, snap, entries)
	require.NoError(t, err)
	require.Nil(t, overall.Intermediate)
}

func TestAssociateBalancesStayOut(t *testing.T) {
	scope := Scope{Entries: []ScopeEntry{
		{EntityID: 1, Depth: 0, Method: hierarchy.MethodFull, DirectOwnership: 100, EffectiveShare: 100},
		{EntityID: 5, ParentID: 1, Depth: 1, Method: hierarchy.MethodEquity, DirectOwnership: 25, EffectiveShare: 25, Associate: true},
	}}
	snap := &ledger.Snapshot{
		Period: "2026-01",
		Balances: map[int64][]ledger.AccountBalance{
			1: tb(1, 1000, 1000),
			5: tb(5, 999999, 999999),
		},
	}

	a := NewAggregator(nil)
	res, err := a.Aggregate(context.Background(), ModeOverall, scope, snap, nil)
	require.NoError(t, err)
	require.InDelta(t, 1000.0, res.Accounts["1100"].Debit, 0.001, "associate lines must not be combined")
}

func TestFilterSectionByAccountPrefix(t *testing.T) {
	lines := []AccountTotal{
		{AccountCode: "1100", Debit: 1000},
		{AccountCode: "2100", Credit: 600},
		{AccountCode: "3100", Credit: 400},
		{AccountCode: "4100", Credit: 250},
	}

	all, err := FilterSection(lines, "")
	require.NoError(t, err)
	require.Len(t, all, 4)

	assets, err := FilterSection(lines, "assets")
	require.NoError(t, err)
	require.Len(t, assets, 1)
	require.Equal(t, "1100", assets[0].AccountCode)

	equity, err := FilterSection(lines, "equity")
	require.NoError(t, err)
	require.Len(t, equity, 1)
	require.Equal(t, "3100", equity[0].AccountCode)

	_, err = FilterSection(lines, "income")
	require.Error(t, err)
}

func TestValidateAcceptsBalancedRun(t *testing.T) {
	runID := uuid.New()
	scope := threeLevelScope()
	snap := threeLevelSnapshot()
	entries := []elim.Entry{debtEntry(runID, 1, 2, 4000)}

	a := NewAggregator(nil)
	res, err := a.Aggregate(context.Background(), ModeOverall, scope, snap, entries)
	require.NoError(t, err)
	require.NoError(t, ValidateResult(res, entries, 0.01))

	sum := res.Summarize()
	require.InDelta(t, sum.TotalDebits, sum.TotalCredits, 0.01)
}

func TestValidateRejectsImbalance(t *testing.T) {
	res := &Result{Accounts: map[string]*AccountTotal{
		"1100": {AccountCode: "1100", Debit: 1000},
		"2100": {AccountCode: "2100", Credit: 700},
	}}
	err := ValidateResult(res, nil, 0.01)
	require.Error(t, err)
	require.True(t, shared.IsStructural(err))

	var serr *shared.StructuralError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, shared.StructuralIdentity, serr.Kind)
	require.InDelta(t, 300.0, serr.Amount, 0.001, "the imbalance amount must be surfaced")
}

func TestValidateRejectsNegativeMinorityInterest(t *testing.T) {
	res := &Result{Accounts: map[string]*AccountTotal{
		elim.AcctMinorityInterest: {AccountCode: elim.AcctMinorityInterest, Debit: 500},
		"1100":                    {AccountCode: "1100", Credit: 500},
	}}
	err := ValidateResult(res, nil, 0.01)
	require.Error(t, err)
	require.True(t, shared.IsStructural(err))
}

func TestValidateRejectsTamperedEntry(t *testing.T) {
	runID := uuid.New()
	e := debtEntry(runID, 1, 2, 100)
	e.CreditAccount = ""
	err := ValidateResult(&Result{Accounts: map[string]*AccountTotal{}}, []elim.Entry{e}, 0.01)
	require.Error(t, err)
	require.True(t, shared.IsStructural(err))
}
