package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/groupledger/groupledger/internal/ledger"
)

func testConfig() Config {
	return Config{
		WeightAmount:         0.4,
		WeightCounterparty:   0.3,
		WeightTemporal:       0.15,
		WeightFamily:         0.15,
		ConfirmThreshold:     0.75,
		SuggestFloor:         0.5,
		AmountToleranceRatio: 0.01,
		TemporalWindow:       168 * time.Hour,
	}
}

func day(d int) time.Time {
	return time.Date(2026, time.January, d, 0, 0, 0, 0, time.UTC)
}

func snapshotWith(details map[int64][]ledger.DetailLine) *ledger.Snapshot {
	return &ledger.Snapshot{
		Period:  "2026-01",
		Details: details,
		Entities: map[int64]ledger.EntityRef{
			1: {ID: 1, Code: "ROOT", Name: "Root Co"},
			2: {ID: 2, Code: "SUB", Name: "Sub Co"},
			3: {ID: 3, Code: "BETA", Name: "Beta Industries"},
		},
	}
}

func TestExactReceivablePayableAutoMatches(t *testing.T) {
	snap := snapshotWith(map[int64][]ledger.DetailLine{
		1: {{ID: "r-1", EntityID: 1, AccountCode: "1130", CounterpartyRef: "sub co", Date: day(15), Amount: 10000}},
		2: {{ID: "p-1", EntityID: 2, AccountCode: "2110", CounterpartyRef: "root co", Date: day(15), Amount: 10000}},
	})

	m := NewMatcher(testConfig(), nil)
	txs, err := m.Run(context.Background(), snap, []int64{1, 2}, nil)
	require.NoError(t, err)
	require.Len(t, txs, 1)

	tx := txs[0]
	require.Equal(t, StatusAuto, tx.Status)
	require.Equal(t, FamilyReceivablePayable, tx.Family)
	require.GreaterOrEqual(t, tx.Confidence, 0.9)
	require.Equal(t, 10000.0, tx.Amount)
	require.Equal(t, "r-1", tx.SellerLineID)
	require.Equal(t, "p-1", tx.BuyerLineID)
	require.Zero(t, tx.Residual())
}

func TestRerunIsDeterministic(t *testing.T) {
	snap := snapshotWith(map[int64][]ledger.DetailLine{
		1: {
			{ID: "r-1", EntityID: 1, AccountCode: "1130", CounterpartyRef: "sub co", Date: day(10), Amount: 5000},
			{ID: "r-2", EntityID: 1, AccountCode: "1130", CounterpartyRef: "sub co", Date: day(12), Amount: 7500},
		},
		2: {
			{ID: "p-1", EntityID: 2, AccountCode: "2110", CounterpartyRef: "root co", Date: day(10), Amount: 5000},
			{ID: "p-2", EntityID: 2, AccountCode: "2110", CounterpartyRef: "root co", Date: day(12), Amount: 7500},
		},
	})

	m := NewMatcher(testConfig(), nil)
	first, err := m.Run(context.Background(), snap, []int64{1, 2}, nil)
	require.NoError(t, err)
	second, err := m.Run(context.Background(), snap, []int64{1, 2}, nil)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestPinnedDecisionsSurviveRerun(t *testing.T) {
	snap := snapshotWith(map[int64][]ledger.DetailLine{
		1: {{ID: "r-1", EntityID: 1, AccountCode: "1130", CounterpartyRef: "sub co", Date: day(10), Amount: 5000}},
		2: {{ID: "p-1", EntityID: 2, AccountCode: "2110", CounterpartyRef: "root co", Date: day(10), Amount: 5000}},
	})
	pinned := Transaction{
		Period:       "2026-01",
		Family:       FamilyReceivablePayable,
		SellerID:     1,
		BuyerID:      2,
		SellerLineID: "r-1",
		BuyerLineID:  "p-1",
		Amount:       5000,
		Status:       StatusConfirmed,
		Confidence:   0.6,
	}

	m := NewMatcher(testConfig(), nil)
	txs, err := m.Run(context.Background(), snap, []int64{1, 2}, []Transaction{pinned})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, pinned, txs[0], "pinned record must pass through untouched")
}

func TestTiedCandidatesRetainRunnerUp(t *testing.T) {
	// One receivable against two identical payables: both pairings score the
	// same, the smaller line key wins, the loser is recorded as alternative.
	snap := snapshotWith(map[int64][]ledger.DetailLine{
		1: {{ID: "r-1", EntityID: 1, AccountCode: "1130", CounterpartyRef: "beta industries gmbh holdings x", Date: day(10), Amount: 4000}},
		3: {
			{ID: "p-1", EntityID: 3, AccountCode: "2110", CounterpartyRef: "root co ltd trading x", Date: day(10), Amount: 4000},
			{ID: "p-2", EntityID: 3, AccountCode: "2110", CounterpartyRef: "root co ltd trading x", Date: day(10), Amount: 4000},
		},
	})

	m := NewMatcher(testConfig(), nil)
	txs, err := m.Run(context.Background(), snap, []int64{1, 3}, nil)
	require.NoError(t, err)
	require.Len(t, txs, 1)

	tx := txs[0]
	require.InDelta(t, 0.82, tx.Confidence, 0.001)
	require.Equal(t, "p-1", tx.BuyerLineID)
	require.Equal(t, "p-2", tx.AltLineID, "runner-up must be recorded, not discarded")
	require.InDelta(t, tx.Confidence, tx.AltScore, 0.001)
}

func TestBelowFloorNotSurfaced(t *testing.T) {
	// Amounts far apart and no counterparty overlap: nothing crosses the floor.
	snap := snapshotWith(map[int64][]ledger.DetailLine{
		1: {{ID: "r-1", EntityID: 1, AccountCode: "1130", CounterpartyRef: "someone else", Date: day(1), Amount: 100}},
		2: {{ID: "p-1", EntityID: 2, AccountCode: "2110", CounterpartyRef: "other party", Date: day(28), Amount: 99999}},
	})

	m := NewMatcher(testConfig(), nil)
	txs, err := m.Run(context.Background(), snap, []int64{1, 2}, nil)
	require.NoError(t, err)
	require.Empty(t, txs)
}

func TestSuggestionBandStaysUnmatched(t *testing.T) {
	// Exact amount and family but stale date and weak counterparty text:
	// above the floor, below the confirmation threshold.
	snap := snapshotWith(map[int64][]ledger.DetailLine{
		1: {{ID: "r-1", EntityID: 1, AccountCode: "1130", CounterpartyRef: "sub", Date: day(1), Amount: 3000}},
		2: {{ID: "p-1", EntityID: 2, AccountCode: "2110", CounterpartyRef: "unrelated name here", Date: day(7), Amount: 3000}},
	})

	m := NewMatcher(testConfig(), nil)
	txs, err := m.Run(context.Background(), snap, []int64{1, 2}, nil)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, StatusUnmatched, txs[0].Status)
	require.Less(t, txs[0].Confidence, 0.75)
	require.GreaterOrEqual(t, txs[0].Confidence, 0.5)
}

func TestSummarizeCountsByStatus(t *testing.T) {
	txs := []Transaction{
		{Status: StatusAuto, SellerAmount: 1000, BuyerAmount: 990},
		{Status: StatusManual, SellerAmount: 500, BuyerAmount: 500},
		{Status: StatusConfirmed, SellerAmount: 2000, BuyerAmount: 2020},
		{Status: StatusUnmatched, SellerAmount: 300, BuyerAmount: 100},
	}

	s := Summarize(txs)
	require.Equal(t, 4, s.Total)
	require.Equal(t, 3, s.Matched)
	require.Equal(t, 1, s.AutoMatched)
	require.Equal(t, 1, s.Manual)
	require.Equal(t, 1, s.Confirmed)
	require.Equal(t, 1, s.RequiresReview)
	require.InDelta(t, 30.0, s.TotalResidual, 0.001, "unmatched residuals must stay out")
	require.InDelta(t, 10.0, s.AvgResidual, 0.001)
	require.InDelta(t, 0.75, s.CompletionRate, 0.001)

	require.Equal(t, Summary{}, Summarize(nil))
}

func TestMatchedAmountIsMinOfSides(t *testing.T) {
	snap := snapshotWith(map[int64][]ledger.DetailLine{
		1: {{ID: "r-1", EntityID: 1, AccountCode: "1130", CounterpartyRef: "sub co", Date: day(10), Amount: 10050}},
		2: {{ID: "p-1", EntityID: 2, AccountCode: "2110", CounterpartyRef: "root co", Date: day(10), Amount: 10000}},
	})

	m := NewMatcher(testConfig(), nil)
	txs, err := m.Run(context.Background(), snap, []int64{1, 2}, nil)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, 10000.0, txs[0].Amount)
	require.InDelta(t, 50.0, txs[0].Residual(), 0.001)
}
