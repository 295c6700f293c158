package elim

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/groupledger/groupledger/internal/consol/match"
	"github.com/groupledger/groupledger/internal/ledger"
	"github.com/groupledger/groupledger/internal/shared"
)

// Holding is one ownership relation inside the resolved scope, flattened
// to the figures the generator needs.
type Holding struct {
	InvestorID int64
	InvesteeID int64
	Ownership  float64 // direct percentage, 0-100
	Effective  float64 // effective share from the root, 0-100
	Method     string  // full / proportional / equity / cost
}

// Input carries everything one generation pass reads. The generator holds
// no state of its own; each run passes its own input and configuration.
type Input struct {
	RunID        uuid.UUID
	Period       string
	Snapshot     *ledger.Snapshot
	Holdings     []Holding
	InScope      map[int64]bool
	Transactions []match.Transaction
}

// Generator emits the eight standard categories of elimination entries.
type Generator struct {
	balanceTolerance float64
	logger           *slog.Logger
	now              func() time.Time
}

// NewGenerator constructs a generator. The tolerance bounds the residual a
// matched debt pair may carry before a reconciliation warning is raised.
func NewGenerator(balanceTolerance float64, logger *slog.Logger) *Generator {
	return &Generator{balanceTolerance: balanceTolerance, logger: logger, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

type genState struct {
	in       Input
	entries  []Entry
	warnings []shared.RunWarning
}

// Generate runs the steps in their fixed order. Steps that lack the data
// they need at the required granularity record a coverage gap and move on;
// they never guess. A structural error aborts the whole pass.
func (g *Generator) Generate(in Input) ([]Entry, []shared.RunWarning, error) {
	st := &genState{in: in}
	steps := []struct {
		category Category
		run      func(*genState) error
	}{
		{CategoryEquityInvestment, g.equityInvestment},
		{CategoryIntercompanyDebt, g.intercompanyDebt},
		{CategoryUnrealizedProfit, g.unrealizedProfit},
		{CategoryFixedAssetGain, g.fixedAssetTransfers},
		{CategoryIntangibleGain, g.intangibleTransfers},
		{CategoryRetainedEarnings, g.retainedEarnings},
		{CategoryImpairmentReverse, g.impairmentReversal},
		{CategoryCashFlow, g.cashFlow},
	}
	for _, step := range steps {
		if err := step.run(st); err != nil {
			return nil, nil, fmt.Errorf("elim: step %s: %w", step.category, err)
		}
	}
	stamp := g.now().UTC()
	for i := range st.warnings {
		st.warnings[i].RecordedAt = stamp
	}
	for i := range st.entries {
		st.entries[i].CreatedAt = stamp
	}
	g.log().Info("elimination pass complete",
		slog.String("period", in.Period),
		slog.Int("entries", len(st.entries)),
		slog.Int("warnings", len(st.warnings)))
	return st.entries, st.warnings, nil
}

// equityInvestment eliminates the investor's carrying amount against the
// investee's equity, proportional to ownership. The non-owned remainder
// becomes a minority-interest balance rather than being eliminated.
func (g *Generator) equityInvestment(st *genState) error {
	for _, h := range st.in.Holdings {
		if h.Method != "full" {
			continue
		}
		equity := investeeEquity(st.in.Snapshot, h.InvesteeID)
		if equity == 0 {
			st.warn(shared.RunWarning{
				Kind:     shared.WarnCoverageGap,
				Step:     string(CategoryEquityInvestment),
				EntityID: h.InvesteeID,
				Detail:   "no equity balances on file for investee; investment elimination skipped",
			})
			continue
		}
		link := g.link(CategoryEquityInvestment, h.InvestorID, h.InvesteeID)
		owned := equity * h.Ownership / 100
		st.add(NewEntry(st.in.RunID, CategoryEquityInvestment,
			AcctShareCapital, AcctInvestment, owned,
			h.InvestorID, h.InvesteeID, link,
			fmt.Sprintf("eliminate %.2f%% of investee equity against investment", h.Ownership)))

		if minority := equity - owned; minority != 0 {
			st.add(NewEntry(st.in.RunID, CategoryEquityInvestment,
				AcctShareCapital, AcctMinorityInterest, minority,
				h.InvestorID, h.InvesteeID, link+"|nci",
				"reclassify non-owned equity share to minority interest"))
		}
	}
	return nil
}

// intercompanyDebt eliminates both sides of each settled receivable/payable
// or loan match up to the matched amount. Residuals stay on the
// consolidated balance and are flagged, never silently dropped.
func (g *Generator) intercompanyDebt(st *genState) error {
	for _, tx := range st.in.Transactions {
		if !settled(tx) {
			continue
		}
		var debit, credit string
		switch tx.Family {
		case match.FamilyReceivablePayable:
			debit, credit = AcctPayables, AcctReceivables
		case match.FamilyLoan:
			debit, credit = AcctBorrowings, AcctLoansReceivable
		default:
			continue
		}
		st.add(NewEntry(st.in.RunID, CategoryIntercompanyDebt,
			debit, credit, tx.Amount,
			tx.SellerID, tx.BuyerID, g.txLink(CategoryIntercompanyDebt, tx),
			fmt.Sprintf("eliminate matched %s balance", tx.Family)))

		if residual := tx.Residual(); residual > g.balanceTolerance {
			st.warn(shared.RunWarning{
				Kind:           shared.WarnUnmatchedResidual,
				Step:           string(CategoryIntercompanyDebt),
				EntityID:       tx.SellerID,
				CounterpartyID: tx.BuyerID,
				Amount:         residual,
				Detail:         fmt.Sprintf("unmatched remainder on %s pair after eliminating %.2f", tx.Family, tx.Amount),
			})
		}
	}
	return nil
}

// unrealizedProfit eliminates the seller's margin still embedded in the
// buyer's closing inventory, driven by the externally supplied holding
// signal. A missing signal is a coverage gap, never a guessed turnover.
func (g *Generator) unrealizedProfit(st *genState) error {
	for _, tx := range st.in.Transactions {
		if tx.Family != match.FamilySalesPurchase || !settled(tx) {
			continue
		}
		holding, ok := st.in.Snapshot.HoldingFor(tx.SellerID, tx.BuyerID)
		if !ok {
			st.warn(shared.RunWarning{
				Kind:           shared.WarnCoverageGap,
				Step:           string(CategoryUnrealizedProfit),
				EntityID:       tx.SellerID,
				CounterpartyID: tx.BuyerID,
				Amount:         tx.Amount,
				Detail:         "no inventory holding signal for pair; unrealized profit not eliminated",
			})
			continue
		}
		unrealized := tx.Amount * holding.HoldingRatio * holding.MarginRatio
		if unrealized == 0 {
			continue
		}
		st.add(NewEntry(st.in.RunID, CategoryUnrealizedProfit,
			AcctPurchases, AcctInventory, unrealized,
			tx.SellerID, tx.BuyerID, g.txLink(CategoryUnrealizedProfit, tx),
			fmt.Sprintf("defer %.0f%% margin on goods still held by buyer", holding.MarginRatio*100)))
	}
	return nil
}

func (g *Generator) fixedAssetTransfers(st *genState) error {
	return g.assetTransfers(st, ledger.TransferFixed, CategoryFixedAssetGain,
		AcctFixedAssets, AcctAccumDepr, AcctDepreciation)
}

func (g *Generator) intangibleTransfers(st *genState) error {
	return g.assetTransfers(st, ledger.TransferIntangible, CategoryIntangibleGain,
		AcctIntangibles, AcctAccumAmort, AcctAmortization)
}

// assetTransfers eliminates the gain or loss on intra-group asset sales and
// reverses the excess depreciation charged on the stepped-up base.
func (g *Generator) assetTransfers(st *genState, kind ledger.AssetTransferKind, category Category, assetAcct, accumAcct, chargeAcct string) error {
	for _, h := range st.in.Holdings {
		for i, t := range st.in.Snapshot.TransfersBetween(h.InvestorID, h.InvesteeID, kind) {
			gain := t.SaleAmount - t.CarryingAmount
			if gain == 0 {
				continue
			}
			link := fmt.Sprintf("%s|%d", g.link(category, t.SellerID, t.BuyerID), i)
			gainAcct := AcctDisposalGain
			if gain < 0 {
				gainAcct = AcctDisposalLoss
			}
			// NewEntry flips sides for a negative amount, which is exactly
			// the loss posting.
			st.add(NewEntry(st.in.RunID, category,
				gainAcct, assetAcct, gain,
				t.SellerID, t.BuyerID, link,
				"reverse gain or loss on intra-group asset sale"))

			if t.DepreciationRate > 0 {
				st.add(NewEntry(st.in.RunID, category,
					accumAcct, chargeAcct, gain*t.DepreciationRate,
					t.SellerID, t.BuyerID, link+"|depr",
					"reverse excess charge on stepped-up asset base"))
			} else if gain > 0 {
				st.warn(shared.RunWarning{
					Kind:           shared.WarnCoverageGap,
					Step:           string(category),
					EntityID:       t.SellerID,
					CounterpartyID: t.BuyerID,
					Amount:         gain,
					Detail:         "no depreciation rate on transferred asset; base adjustment skipped",
				})
			}
		}
	}
	return nil
}

// retainedEarnings carries the cumulative effect of prior-period
// eliminations into opening retained earnings, proportioned by ownership.
func (g *Generator) retainedEarnings(st *genState) error {
	if len(st.in.Snapshot.PriorEffects) == 0 {
		st.warn(shared.RunWarning{
			Kind:   shared.WarnCoverageGap,
			Step:   string(CategoryRetainedEarnings),
			Detail: "no prior cumulative elimination effects supplied; opening retained earnings not adjusted",
		})
		return nil
	}
	for _, effect := range st.in.Snapshot.PriorEffects {
		pct := g.ownershipBetween(st.in.Holdings, effect.InvestorID, effect.InvesteeID)
		amount := effect.Amount * pct / 100
		if amount == 0 {
			continue
		}
		st.add(NewEntry(st.in.RunID, CategoryRetainedEarnings,
			AcctRetainedEarnings, AcctPriorPeriod, amount,
			effect.InvestorID, effect.InvesteeID,
			g.link(CategoryRetainedEarnings, effect.InvestorID, effect.InvesteeID)+"|"+effect.Category,
			fmt.Sprintf("carry forward prior %s elimination effect", effect.Category)))
	}
	return nil
}

// impairmentReversal removes intercompany impairment provisions that have
// no substance outside the group.
func (g *Generator) impairmentReversal(st *genState) error {
	for _, imp := range st.in.Snapshot.Impairments {
		if !st.in.InScope[imp.EntityID] || !st.in.InScope[imp.CounterpartyID] {
			continue
		}
		st.add(NewEntry(st.in.RunID, CategoryImpairmentReverse,
			imp.AccountCode, AcctImpairmentExp, imp.Amount,
			imp.EntityID, imp.CounterpartyID,
			g.link(CategoryImpairmentReverse, imp.EntityID, imp.CounterpartyID)+"|"+imp.AccountCode,
			"reverse intercompany impairment provision"))
	}
	return nil
}

// cashFlow removes intercompany cash movements from the consolidated
// cash-flow view: settled dividend matches plus the recorded movements.
// The 9xxx lines are statistical and never reach the balance sheet.
func (g *Generator) cashFlow(st *genState) error {
	for _, tx := range st.in.Transactions {
		if tx.Family != match.FamilyDividend || !settled(tx) {
			continue
		}
		st.add(NewEntry(st.in.RunID, CategoryCashFlow,
			AcctDividendInc, AcctRetainedEarnings, tx.Amount,
			tx.SellerID, tx.BuyerID, g.txLink(CategoryCashFlow, tx),
			"eliminate intercompany dividend income"))
	}
	for i, mv := range st.in.Snapshot.CashMovements {
		if !st.in.InScope[mv.PayerID] || !st.in.InScope[mv.ReceiverID] {
			continue
		}
		var debit, credit string
		switch mv.Kind {
		case ledger.CashDividend:
			debit, credit = AcctCFDividendsReceived, AcctCFDividendsPaid
		case ledger.CashLoanAdvance:
			debit, credit = AcctCFLoansAdvanced, AcctCFLoansRepaid
		case ledger.CashLoanRepayment:
			debit, credit = AcctCFLoansRepaid, AcctCFLoansAdvanced
		default:
			continue
		}
		st.add(NewEntry(st.in.RunID, CategoryCashFlow,
			debit, credit, mv.Amount,
			mv.ReceiverID, mv.PayerID,
			fmt.Sprintf("%s|%d", g.link(CategoryCashFlow, mv.ReceiverID, mv.PayerID), i),
			fmt.Sprintf("remove intercompany %s from cash-flow view", mv.Kind)))
	}
	return nil
}

func (g *Generator) ownershipBetween(holdings []Holding, investorID, investeeID int64) float64 {
	for _, h := range holdings {
		if h.InvestorID == investorID && h.InvesteeID == investeeID {
			return h.Ownership
		}
	}
	for _, h := range holdings {
		if h.InvesteeID == investeeID {
			return h.Effective
		}
	}
	return 0
}

// investeeEquity sums the investee's closing equity balances, minority
// interest excluded.
func investeeEquity(snap *ledger.Snapshot, entityID int64) float64 {
	total := 0.0
	for _, b := range snap.BalancesFor(entityID) {
		if strings.HasPrefix(b.AccountCode, "3") && !strings.HasPrefix(b.AccountCode, AcctMinorityInterest) {
			total += b.Closing
		}
	}
	return total
}

// settled reports whether a match may drive an elimination.
func settled(tx match.Transaction) bool {
	return tx.Status == match.StatusAuto || tx.Status == match.StatusManual || tx.Status == match.StatusConfirmed
}

func (g *Generator) link(category Category, investorID, investeeID int64) string {
	return fmt.Sprintf("%s|%d|%d", category, investorID, investeeID)
}

func (g *Generator) txLink(category Category, tx match.Transaction) string {
	return fmt.Sprintf("%s|%s|%s", category, tx.SellerLineID, tx.BuyerLineID)
}

func (st *genState) add(e Entry) {
	if e.Amount == 0 {
		return
	}
	st.entries = append(st.entries, e)
}

func (st *genState) warn(w shared.RunWarning) {
	st.warnings = append(st.warnings, w)
}

func (g *Generator) log() *slog.Logger {
	if g != nil && g.logger != nil {
		return g.logger.With(slog.String("component", "consol.elim"))
	}
	return slog.Default().With(slog.String("component", "consol.elim"))
}
