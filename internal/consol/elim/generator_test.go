package elim

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/groupledger/groupledger/internal/consol/match"
	"github.com/groupledger/groupledger/internal/ledger"
	"github.com/groupledger/groupledger/internal/shared"
)

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC) }
}

func baseInput() Input {
	return Input{
		RunID:  uuid.New(),
		Period: "2026-01",
		Snapshot: &ledger.Snapshot{
			Period: "2026-01",
			Balances: map[int64][]ledger.AccountBalance{
				2: {
					{EntityID: 2, AccountCode: "3100", Closing: 80000},
					{EntityID: 2, AccountCode: "3200", Closing: 20000},
				},
			},
		},
		Holdings: []Holding{
			{InvestorID: 1, InvesteeID: 2, Ownership: 60, Effective: 60, Method: "full"},
		},
		InScope: map[int64]bool{1: true, 2: true},
	}
}

func countCategory(entries []Entry, c Category) int {
	n := 0
	for _, e := range entries {
		if e.Category == c {
			n++
		}
	}
	return n
}

func TestEquityEliminationSplitsMinorityInterest(t *testing.T) {
	g := NewGenerator(0.01, nil).WithClock(fixedClock())
	entries, _, err := g.Generate(baseInput())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := countCategory(entries, CategoryEquityInvestment); got != 2 {
		t.Fatalf("expected 2 equity entries, got %d", got)
	}

	var owned, minority Entry
	for _, e := range entries {
		if e.Category != CategoryEquityInvestment {
			continue
		}
		if e.CreditAccount == AcctMinorityInterest {
			minority = e
		} else {
			owned = e
		}
	}
	if owned.Amount != 60000 || owned.CreditAccount != AcctInvestment {
		t.Fatalf("owned share: got %s %.2f", owned.CreditAccount, owned.Amount)
	}
	if minority.Amount != 40000 {
		t.Fatalf("minority interest: expected 40%% of 100000 equity, got %.2f", minority.Amount)
	}
	if minority.Amount < 0 {
		t.Fatal("minority interest must be non-negative")
	}
}

func TestDebtEliminationFlagsResidual(t *testing.T) {
	in := baseInput()
	in.Transactions = []match.Transaction{{
		Period: "2026-01", Family: match.FamilyReceivablePayable,
		SellerID: 1, BuyerID: 2,
		SellerLineID: "r-1", BuyerLineID: "p-1",
		SellerAmount: 10000, BuyerAmount: 9400, Amount: 9400,
		Status: match.StatusAuto,
	}}

	g := NewGenerator(0.01, nil).WithClock(fixedClock())
	entries, warnings, err := g.Generate(in)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var debt Entry
	for _, e := range entries {
		if e.Category == CategoryIntercompanyDebt {
			debt = e
		}
	}
	if debt.Amount != 9400 || debt.DebitAccount != AcctPayables || debt.CreditAccount != AcctReceivables {
		t.Fatalf("debt entry wrong: %+v", debt)
	}
	found := false
	for _, w := range warnings {
		if w.Kind == shared.WarnUnmatchedResidual && w.Amount == 600 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a 600.00 unmatched-residual warning")
	}
}

func TestUnmatchedTransactionsDoNotEliminate(t *testing.T) {
	in := baseInput()
	in.Transactions = []match.Transaction{{
		Family: match.FamilyReceivablePayable, SellerID: 1, BuyerID: 2,
		SellerLineID: "r-1", BuyerLineID: "p-1",
		Amount: 5000, Status: match.StatusUnmatched,
	}}
	g := NewGenerator(0.01, nil).WithClock(fixedClock())
	entries, _, err := g.Generate(in)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := countCategory(entries, CategoryIntercompanyDebt); got != 0 {
		t.Fatalf("suggestion must not drive elimination, got %d entries", got)
	}
}

func TestMissingHoldingSignalIsCoverageGapNotGuess(t *testing.T) {
	in := baseInput()
	in.Transactions = []match.Transaction{{
		Family: match.FamilySalesPurchase, SellerID: 1, BuyerID: 2,
		SellerLineID: "s-1", BuyerLineID: "b-1",
		Amount: 20000, Status: match.StatusConfirmed,
	}}

	g := NewGenerator(0.01, nil).WithClock(fixedClock())
	entries, warnings, err := g.Generate(in)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := countCategory(entries, CategoryUnrealizedProfit); got != 0 {
		t.Fatalf("expected no unrealized-profit entry without a holding signal, got %d", got)
	}
	found := false
	for _, w := range warnings {
		if w.Kind == shared.WarnCoverageGap && w.Step == string(CategoryUnrealizedProfit) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a coverage-gap warning for the missing holding signal")
	}
}

func TestUnrealizedProfitUsesHoldingAndMargin(t *testing.T) {
	in := baseInput()
	in.Snapshot.InventoryHoldings = []ledger.InventoryHolding{
		{SellerID: 1, BuyerID: 2, HoldingRatio: 0.5, MarginRatio: 0.2},
	}
	in.Transactions = []match.Transaction{{
		Family: match.FamilySalesPurchase, SellerID: 1, BuyerID: 2,
		SellerLineID: "s-1", BuyerLineID: "b-1",
		Amount: 20000, Status: match.StatusConfirmed,
	}}

	g := NewGenerator(0.01, nil).WithClock(fixedClock())
	entries, _, err := g.Generate(in)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, e := range entries {
		if e.Category == CategoryUnrealizedProfit {
			if e.Amount != 2000 || e.CreditAccount != AcctInventory {
				t.Fatalf("expected 20000*0.5*0.2 = 2000 against inventory, got %+v", e)
			}
			return
		}
	}
	t.Fatal("expected an unrealized-profit entry")
}

func TestAssetTransferLossFlipsSides(t *testing.T) {
	in := baseInput()
	in.Snapshot.AssetTransfers = []ledger.AssetTransfer{{
		SellerID: 1, BuyerID: 2, Kind: ledger.TransferFixed,
		SaleAmount: 4500, CarryingAmount: 5000, DepreciationRate: 0.1,
	}}

	g := NewGenerator(0.01, nil).WithClock(fixedClock())
	entries, _, err := g.Generate(in)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var gain Entry
	for _, e := range entries {
		if e.Category == CategoryFixedAssetGain && e.SourceLink != "" && e.CreditAccount == AcctDisposalLoss {
			gain = e
		}
	}
	if gain.Amount != 500 || gain.DebitAccount != AcctFixedAssets {
		t.Fatalf("loss on sale must restore the asset base: %+v", gain)
	}
}

func TestEveryGeneratedEntryBalances(t *testing.T) {
	in := baseInput()
	in.Snapshot.InventoryHoldings = []ledger.InventoryHolding{{SellerID: 1, BuyerID: 2, HoldingRatio: 0.3, MarginRatio: 0.25}}
	in.Snapshot.AssetTransfers = []ledger.AssetTransfer{{SellerID: 1, BuyerID: 2, Kind: ledger.TransferIntangible, SaleAmount: 800, CarryingAmount: 300, DepreciationRate: 0.2}}
	in.Snapshot.Impairments = []ledger.ImpairmentProvision{{EntityID: 1, CounterpartyID: 2, AccountCode: "1190", Amount: 1200}}
	in.Snapshot.CashMovements = []ledger.CashMovement{{PayerID: 2, ReceiverID: 1, Kind: ledger.CashDividend, Amount: 3000}}
	in.Snapshot.PriorEffects = []ledger.PriorEffect{{InvestorID: 1, InvesteeID: 2, Category: "unrealized_inventory_profit", Amount: 900}}
	in.Transactions = []match.Transaction{
		{Family: match.FamilyReceivablePayable, SellerID: 1, BuyerID: 2, SellerLineID: "r", BuyerLineID: "p", SellerAmount: 1000, BuyerAmount: 1000, Amount: 1000, Status: match.StatusAuto},
		{Family: match.FamilySalesPurchase, SellerID: 1, BuyerID: 2, SellerLineID: "s", BuyerLineID: "b", SellerAmount: 5000, BuyerAmount: 5000, Amount: 5000, Status: match.StatusAuto},
		{Family: match.FamilyDividend, SellerID: 2, BuyerID: 1, SellerLineID: "d1", BuyerLineID: "d2", SellerAmount: 3000, BuyerAmount: 3000, Amount: 3000, Status: match.StatusConfirmed},
	}

	g := NewGenerator(0.01, nil).WithClock(fixedClock())
	entries, _, err := g.Generate(in)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected entries from every step")
	}
	for _, e := range entries {
		if !e.Balanced() {
			t.Fatalf("unbalanced entry constructed: %+v", e)
		}
		if !e.Category.Valid() {
			t.Fatalf("unknown category %q", e.Category)
		}
	}
}

func TestPriorEffectProportionedByOwnership(t *testing.T) {
	in := baseInput()
	in.Snapshot.PriorEffects = []ledger.PriorEffect{{InvestorID: 1, InvesteeID: 2, Category: "fixed_asset_transfer", Amount: 1000}}

	g := NewGenerator(0.01, nil).WithClock(fixedClock())
	entries, _, err := g.Generate(in)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, e := range entries {
		if e.Category == CategoryRetainedEarnings {
			if e.Amount != 600 {
				t.Fatalf("expected 60%% of 1000, got %.2f", e.Amount)
			}
			return
		}
	}
	t.Fatal("expected a retained-earnings entry")
}

func TestCheckedEntryRejectsImbalance(t *testing.T) {
	_, err := NewCheckedEntry(uuid.New(), CategoryIntercompanyDebt,
		AcctPayables, 100.00, AcctReceivables, 99.00, 1, 2, "x", "")
	if err == nil {
		t.Fatal("expected structural error for unequal debit/credit")
	}
	if !shared.IsStructural(err) {
		t.Fatalf("expected StructuralError, got %v", err)
	}
}

func TestCheckedEntryToleratesSubCentRounding(t *testing.T) {
	e, err := NewCheckedEntry(uuid.New(), CategoryIntercompanyDebt,
		AcctPayables, 100.004, AcctReceivables, 100.001, 1, 2, "x", "")
	if err != nil {
		t.Fatalf("sub-cent difference must round away: %v", err)
	}
	if e.Amount != 100.00 {
		t.Fatalf("expected cent rounding, got %v", e.Amount)
	}
}
