package match

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTransactionNotFound = errors.New("match: transaction not found")
	ErrStatusPinned        = errors.New("match: manual or confirmed transaction cannot be rescored")
)

// Family names a complementary transaction family. The two account prefixes
// of a family identify which side of the pairing a detail line belongs to.
type Family string

const (
	FamilyReceivablePayable Family = "receivable_payable"
	FamilySalesPurchase     Family = "sales_purchase"
	FamilyLoan              Family = "loan"
	FamilyDividend          Family = "dividend"
)

// Families lists every configured family in scoring order.
var Families = []Family{FamilyReceivablePayable, FamilySalesPurchase, FamilyLoan, FamilyDividend}

// familyPrefixes maps a family to its (seller-side, buyer-side) account
// code prefixes in the group chart of accounts.
var familyPrefixes = map[Family][2]string{
	FamilyReceivablePayable: {"113", "211"}, // trade receivables / trade payables
	FamilySalesPurchase:     {"41", "51"},   // revenue / purchases
	FamilyLoan:              {"114", "214"}, // loans receivable / borrowings
	FamilyDividend:          {"71", "329"},  // dividend income / dividends paid
}

// Prefixes returns the seller and buyer account prefixes of a family.
func (f Family) Prefixes() (seller, buyer string) {
	p := familyPrefixes[f]
	return p[0], p[1]
}

// Valid reports whether the family is one of the configured four.
func (f Family) Valid() bool {
	_, ok := familyPrefixes[f]
	return ok
}

// Status tracks who decided a pairing. Auto rows may be rescored on a
// re-run; manual and confirmed rows are pinned.
type Status string

const (
	StatusUnmatched Status = "unmatched"
	StatusAuto      Status = "auto"
	StatusManual    Status = "manual"
	StatusConfirmed Status = "confirmed"
)

// Pinned reports whether a re-run must leave the record untouched.
func (s Status) Pinned() bool {
	return s == StatusManual || s == StatusConfirmed
}

// Line is one candidate ledger-detail row on either side of a pairing.
type Line struct {
	ID              string
	EntityID        int64
	AccountCode     string
	CounterpartyRef string
	Date            time.Time
	Amount          float64
}

// ScoreBreakdown carries the individual signals behind a total score so a
// reviewer can see why a pairing was proposed without re-deriving them.
type ScoreBreakdown struct {
	Amount       float64 `json:"amount"`
	Counterparty float64 `json:"counterparty"`
	Temporal     float64 `json:"temporal"`
	Family       float64 `json:"family"`
	Total        float64 `json:"total"`
}

// Transaction is a scored pairing of one seller line and one buyer line.
// Amount is the matched amount, min of the two sides; the remainder is the
// residual surfaced as a reconciliation warning downstream.
type Transaction struct {
	ID           int64
	Period       string
	Family       Family
	SellerID     int64
	BuyerID      int64
	SellerLineID string
	BuyerLineID  string
	SellerAmount float64
	BuyerAmount  float64
	Amount       float64
	Status       Status
	Confidence   float64
	Breakdown    ScoreBreakdown

	// Runner-up candidate retained when another pairing scored close.
	AltLineID string
	AltScore  float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key identifies a pairing across runs: same period, family, and source
// lines always map to the same record.
func (t Transaction) Key() string {
	return fmt.Sprintf("%s|%s|%d|%d|%s|%s", t.Family, t.Period, t.SellerID, t.BuyerID, t.SellerLineID, t.BuyerLineID)
}

// Residual is the unmatched remainder between the two sides.
func (t Transaction) Residual() float64 {
	d := t.SellerAmount - t.BuyerAmount
	if d < 0 {
		d = -d
	}
	return d
}

// Summary aggregates a period's reconciliation state for reporting.
type Summary struct {
	Total          int     `json:"total"`
	Matched        int     `json:"matched"`
	AutoMatched    int     `json:"auto_matched"`
	Manual         int     `json:"manual"`
	Confirmed      int     `json:"confirmed"`
	RequiresReview int     `json:"requires_review"`
	TotalResidual  float64 `json:"total_residual"`
	AvgResidual    float64 `json:"avg_residual"`
	CompletionRate float64 `json:"completion_rate"`
}

// Summarize folds a period's transactions into headline figures. The
// completion rate is matched over total; residuals count matched pairs
// only, since an unmatched suggestion has no settled amount yet.
func Summarize(txs []Transaction) Summary {
	var s Summary
	s.Total = len(txs)
	for _, t := range txs {
		switch t.Status {
		case StatusAuto:
			s.AutoMatched++
		case StatusManual:
			s.Manual++
		case StatusConfirmed:
			s.Confirmed++
		default:
			s.RequiresReview++
			continue
		}
		s.Matched++
		s.TotalResidual += t.Residual()
	}
	if s.Matched > 0 {
		s.AvgResidual = s.TotalResidual / float64(s.Matched)
	}
	if s.Total > 0 {
		s.CompletionRate = float64(s.Matched) / float64(s.Total)
	}
	return s
}

// Config carries the scoring parameters of one run.
type Config struct {
	WeightAmount       float64
	WeightCounterparty float64
	WeightTemporal     float64
	WeightFamily       float64

	ConfirmThreshold float64
	SuggestFloor     float64

	AmountToleranceRatio float64
	TemporalWindow       time.Duration
}
