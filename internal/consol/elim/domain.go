package elim

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/groupledger/groupledger/internal/shared"
)

// Category names one of the eight elimination steps, in generation order.
type Category string

const (
	CategoryEquityInvestment  Category = "equity_investment"
	CategoryIntercompanyDebt  Category = "intercompany_debt"
	CategoryUnrealizedProfit  Category = "unrealized_inventory_profit"
	CategoryFixedAssetGain    Category = "fixed_asset_transfer"
	CategoryIntangibleGain    Category = "intangible_transfer"
	CategoryRetainedEarnings  Category = "retained_earnings"
	CategoryImpairmentReverse Category = "impairment_provision"
	CategoryCashFlow          Category = "cash_flow"
)

// Categories lists the steps in their fixed execution order. Order matters:
// the retained-earnings step depends on amounts from steps 1 through 5.
var Categories = []Category{
	CategoryEquityInvestment,
	CategoryIntercompanyDebt,
	CategoryUnrealizedProfit,
	CategoryFixedAssetGain,
	CategoryIntangibleGain,
	CategoryRetainedEarnings,
	CategoryImpairmentReverse,
	CategoryCashFlow,
}

// Valid reports whether c is one of the eight categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Group chart-of-accounts codes the generator posts against.
const (
	AcctReceivables     = "1130"
	AcctLoansReceivable = "1140"
	AcctInventory       = "1200"
	AcctInvestment      = "1300"
	AcctFixedAssets     = "1500"
	AcctAccumDepr       = "1510"
	AcctIntangibles     = "1600"
	AcctAccumAmort      = "1610"

	AcctPayables   = "2110"
	AcctBorrowings = "2140"

	AcctShareCapital     = "3100"
	AcctRetainedEarnings = "3200"
	AcctMinorityInterest = "3900"

	AcctSales         = "4100"
	AcctPurchases     = "5100"
	AcctDepreciation  = "5200"
	AcctAmortization  = "5300"
	AcctPriorPeriod   = "5900"
	AcctDividendInc   = "7100"
	AcctDisposalGain  = "7200"
	AcctDisposalLoss  = "8200"
	AcctImpairmentExp = "8300"

	// Cash-flow statement adjustment lines, statistical only.
	AcctCFDividendsReceived = "9320"
	AcctCFLoansAdvanced     = "9330"
	AcctCFDividendsPaid     = "9620"
	AcctCFLoansRepaid       = "9630"
)

// Provenance records whether an entry came from the generator or a reviewer.
type Provenance string

const (
	ProvenanceAuto   Provenance = "auto"
	ProvenanceManual Provenance = "manual"
)

// Entry is one journal-style adjustment. It carries a single amount posted
// to one debit and one credit account, so an unbalanced entry cannot be
// represented. Construct through NewEntry only.
type Entry struct {
	ID            uuid.UUID
	RunID         uuid.UUID
	Category      Category
	DebitAccount  string
	CreditAccount string
	Amount        float64
	InvestorID    int64
	InvesteeID    int64
	Provenance    Provenance
	SourceLink    string
	Memo          string
	CreatedAt     time.Time
}

// NewEntry builds a balanced elimination entry. The amount is rounded to
// cents; a negative amount flips the debit and credit sides so stored
// amounts are always positive.
func NewEntry(runID uuid.UUID, category Category, debit, credit string, amount float64, investorID, investeeID int64, sourceLink, memo string) Entry {
	amount = roundCents(amount)
	if amount < 0 {
		debit, credit = credit, debit
		amount = -amount
	}
	return Entry{
		ID:            uuid.New(),
		RunID:         runID,
		Category:      category,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		InvestorID:    investorID,
		InvesteeID:    investeeID,
		Provenance:    ProvenanceAuto,
		SourceLink:    sourceLink,
		Memo:          memo,
	}
}

// NewCheckedEntry accepts independently computed debit and credit amounts
// and fails with a structural error when they disagree beyond half a cent.
// Callers that derive both sides separately must use this variant.
func NewCheckedEntry(runID uuid.UUID, category Category, debit string, debitAmount float64, credit string, creditAmount float64, investorID, investeeID int64, sourceLink, memo string) (Entry, error) {
	if diff := roundCents(debitAmount) - roundCents(creditAmount); math.Abs(diff) > 0.005 {
		serr := shared.NewStructuralError(shared.StructuralUnbalanced,
			"%s entry %s/%s: debit %.2f != credit %.2f", category, debit, credit, debitAmount, creditAmount)
		serr.Amount = diff
		return Entry{}, serr
	}
	return NewEntry(runID, category, debit, credit, debitAmount, investorID, investeeID, sourceLink, memo), nil
}

// Balanced reports whether the entry holds its construction invariant.
// Always true for entries built here; the validator re-checks defensively.
func (e Entry) Balanced() bool {
	return e.Amount >= 0 && e.DebitAccount != "" && e.CreditAccount != "" && e.DebitAccount != e.CreditAccount
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
