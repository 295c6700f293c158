package consol

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/groupledger/groupledger/internal/consol/elim"
	"github.com/groupledger/groupledger/internal/ledger"
)

// AccountTotal is one consolidated trial-balance line.
type AccountTotal struct {
	AccountCode string  `json:"account_code"`
	AccountName string  `json:"account_name"`
	Debit       float64 `json:"debit"`
	Credit      float64 `json:"credit"`
}

// Balance is the net debit balance of the line.
func (t AccountTotal) Balance() float64 {
	return roundCents(t.Debit - t.Credit)
}

// sectionPrefixes maps a statement section to its account-code prefix in
// the group chart of accounts.
var sectionPrefixes = map[string]string{
	"assets":      "1",
	"liabilities": "2",
	"equity":      "3",
}

// FilterSection narrows trial-balance lines to one statement section. An
// empty section returns the lines untouched.
func FilterSection(lines []AccountTotal, section string) ([]AccountTotal, error) {
	if section == "" {
		return lines, nil
	}
	prefix, ok := sectionPrefixes[section]
	if !ok {
		return nil, fmt.Errorf("consol: unknown statement section %q", section)
	}
	out := make([]AccountTotal, 0, len(lines))
	for _, l := range lines {
		if strings.HasPrefix(l.AccountCode, prefix) {
			out = append(out, l)
		}
	}
	return out, nil
}

// Result is the aggregator output: the root-level consolidated accounts
// and, in hierarchical mode, the consolidated-as-of-level accounts per
// intermediate entity.
type Result struct {
	Accounts     map[string]*AccountTotal
	Intermediate map[int64]map[string]*AccountTotal
}

// Lines returns the consolidated accounts ordered by code.
func (r *Result) Lines() []AccountTotal {
	lines := make([]AccountTotal, 0, len(r.Accounts))
	for _, t := range r.Accounts {
		lines = append(lines, *t)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].AccountCode < lines[j].AccountCode })
	return lines
}

// Summarize derives the headline figures from the consolidated accounts.
func (r *Result) Summarize() Summary {
	var s Summary
	for code, t := range r.Accounts {
		s.TotalDebits += t.Debit
		s.TotalCredits += t.Credit
		switch {
		case strings.HasPrefix(code, "1"):
			s.TotalAssets += t.Balance()
		case strings.HasPrefix(code, "2"):
			s.TotalLiabilities -= t.Balance()
		case strings.HasPrefix(code, "3"):
			s.TotalEquity -= t.Balance()
		}
		if code == elim.AcctMinorityInterest {
			s.MinorityInterest = -t.Balance()
		}
	}
	s.TotalDebits = roundCents(s.TotalDebits)
	s.TotalCredits = roundCents(s.TotalCredits)
	s.TotalAssets = roundCents(s.TotalAssets)
	s.TotalLiabilities = roundCents(s.TotalLiabilities)
	s.TotalEquity = roundCents(s.TotalEquity)
	s.MinorityInterest = roundCents(s.MinorityInterest)
	return s
}

// Aggregator combines entity balances with elimination entries.
type Aggregator struct {
	logger *slog.Logger
}

// NewAggregator constructs an aggregator.
func NewAggregator(logger *slog.Logger) *Aggregator {
	return &Aggregator{logger: logger}
}

// Aggregate runs the mode chosen for the run. Both modes apply every entity
// balance and every entry exactly once, so root-level totals agree.
func (a *Aggregator) Aggregate(ctx context.Context, mode Mode, scope Scope, snap *ledger.Snapshot, entries []elim.Entry) (*Result, error) {
	if mode == ModeHierarchical {
		return a.hierarchical(ctx, scope, snap, entries)
	}
	return a.overall(ctx, scope, snap, entries)
}

// overall flattens the whole scope: one pass summing every entity's
// balances, then the full elimination set. No intermediate sub-totals.
func (a *Aggregator) overall(ctx context.Context, scope Scope, snap *ledger.Snapshot, entries []elim.Entry) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	accounts := make(map[string]*AccountTotal)
	for _, id := range scope.ConsolidatedIDs() {
		addBalances(accounts, snap.BalancesFor(id))
	}
	for _, e := range entries {
		applyEntry(accounts, e)
	}
	a.log().Info("overall aggregation complete", slog.Int("accounts", len(accounts)))
	return &Result{Accounts: accounts}, nil
}

// hierarchical processes levels from deepest to shallowest. Entities within
// one level share no descendants, so the per-level work fans out; a parent
// is only processed once all its children have finished.
func (a *Aggregator) hierarchical(ctx context.Context, scope Scope, snap *ledger.Snapshot, entries []elim.Entry) (*Result, error) {
	children := make(map[int64][]int64)
	byLevel := make(map[int][]ScopeEntry)
	maxDepth := 0
	for _, e := range scope.Entries {
		if e.Associate {
			continue
		}
		byLevel[e.Depth] = append(byLevel[e.Depth], e)
		if e.Depth > 0 {
			children[e.ParentID] = append(children[e.ParentID], e.EntityID)
		}
		if e.Depth > maxDepth {
			maxDepth = e.Depth
		}
	}
	entriesByInvestor := make(map[int64][]elim.Entry)
	for _, e := range entries {
		entriesByInvestor[e.InvestorID] = append(entriesByInvestor[e.InvestorID], e)
	}

	var (
		mu           sync.Mutex
		consolidated = make(map[int64]map[string]*AccountTotal)
	)
	for depth := maxDepth; depth >= 0; depth-- {
		g, gctx := errgroup.WithContext(ctx)
		for _, entry := range byLevel[depth] {
			entry := entry
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				accounts := make(map[string]*AccountTotal)
				addBalances(accounts, snap.BalancesFor(entry.EntityID))
				mu.Lock()
				for _, childID := range children[entry.EntityID] {
					mergeAccounts(accounts, consolidated[childID])
				}
				mu.Unlock()
				for _, e := range entriesByInvestor[entry.EntityID] {
					applyEntry(accounts, e)
				}
				mu.Lock()
				consolidated[entry.EntityID] = accounts
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	rootID := scope.Entries[0].EntityID
	a.log().Info("hierarchical aggregation complete",
		slog.Int("levels", maxDepth+1),
		slog.Int("accounts", len(consolidated[rootID])))
	return &Result{Accounts: consolidated[rootID], Intermediate: consolidated}, nil
}

func addBalances(accounts map[string]*AccountTotal, balances []ledger.AccountBalance) {
	for _, b := range balances {
		t := ensure(accounts, b.AccountCode)
		if t.AccountName == "" {
			t.AccountName = b.AccountName
		}
		t.Debit += b.Debit
		t.Credit += b.Credit
	}
}

func mergeAccounts(into map[string]*AccountTotal, from map[string]*AccountTotal) {
	for code, f := range from {
		t := ensure(into, code)
		if t.AccountName == "" {
			t.AccountName = f.AccountName
		}
		t.Debit += f.Debit
		t.Credit += f.Credit
	}
}

func applyEntry(accounts map[string]*AccountTotal, e elim.Entry) {
	ensure(accounts, e.DebitAccount).Debit += e.Amount
	ensure(accounts, e.CreditAccount).Credit += e.Amount
}

func ensure(accounts map[string]*AccountTotal, code string) *AccountTotal {
	t, ok := accounts[code]
	if !ok {
		t = &AccountTotal{AccountCode: code, AccountName: accountNames[code]}
		accounts[code] = t
	}
	return t
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func (a *Aggregator) log() *slog.Logger {
	if a != nil && a.logger != nil {
		return a.logger.With(slog.String("component", "consol.aggregate"))
	}
	return slog.Default().With(slog.String("component", "consol.aggregate"))
}

// accountNames labels the group-chart lines the generator posts to, so
// exports stay readable even when no source balance named the account.
var accountNames = map[string]string{
	elim.AcctReceivables:        "Trade receivables",
	elim.AcctLoansReceivable:    "Loans receivable",
	elim.AcctInventory:          "Inventory",
	elim.AcctInvestment:         "Investments in group companies",
	elim.AcctFixedAssets:        "Property, plant and equipment",
	elim.AcctAccumDepr:          "Accumulated depreciation",
	elim.AcctIntangibles:        "Intangible assets",
	elim.AcctAccumAmort:         "Accumulated amortization",
	elim.AcctPayables:           "Trade payables",
	elim.AcctBorrowings:         "Borrowings",
	elim.AcctShareCapital:       "Share capital and reserves",
	elim.AcctRetainedEarnings:   "Retained earnings",
	elim.AcctMinorityInterest:   "Non-controlling interests",
	elim.AcctSales:              "Revenue",
	elim.AcctPurchases:          "Purchases and cost of sales",
	elim.AcctDepreciation:       "Depreciation expense",
	elim.AcctAmortization:       "Amortization expense",
	elim.AcctPriorPeriod:        "Prior-period elimination carryover",
	elim.AcctDividendInc:        "Dividend income",
	elim.AcctDisposalGain:       "Gain on disposal",
	elim.AcctDisposalLoss:       "Loss on disposal",
	elim.AcctImpairmentExp:      "Impairment losses",
	elim.AcctCFDividendsReceived: "CF adj: dividends received",
	elim.AcctCFDividendsPaid:    "CF adj: dividends paid",
	elim.AcctCFLoansAdvanced:    "CF adj: loans advanced",
	elim.AcctCFLoansRepaid:      "CF adj: loans repaid",
}
