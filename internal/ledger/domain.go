package ledger

import (
	"strings"
	"time"
)

// AccountBalance is one trial-balance row for an entity and period.
// Owned by the ingestion layer; the consolidation engine never writes it.
type AccountBalance struct {
	EntityID    int64
	AccountCode string
	AccountName string
	Opening     float64
	Debit       float64
	Credit      float64
	Closing     float64
	Currency    string
}

// DetailLine is one ledger-detail row used for intercompany matching.
type DetailLine struct {
	ID              string
	EntityID        int64
	AccountCode     string
	CounterpartyRef string
	Date            time.Time
	Amount          float64
}

// EntityRef carries the names and codes used for counterparty matching.
type EntityRef struct {
	ID      int64
	Code    string
	Name    string
	Aliases []string
}

// Tokens returns the lower-cased name/code tokens for similarity scoring.
func (e EntityRef) Tokens() []string {
	tokens := make([]string, 0, 2+len(e.Aliases))
	if e.Code != "" {
		tokens = append(tokens, strings.ToLower(e.Code))
	}
	tokens = append(tokens, strings.Fields(strings.ToLower(e.Name))...)
	for _, a := range e.Aliases {
		tokens = append(tokens, strings.Fields(strings.ToLower(a))...)
	}
	return tokens
}

// InventoryHolding is the externally supplied signal for unrealized-profit
// elimination: the share of intercompany goods still held by the buyer at
// period end and the seller's margin ratio on those goods.
type InventoryHolding struct {
	SellerID     int64
	BuyerID      int64
	HoldingRatio float64 // 0-1
	MarginRatio  float64 // 0-1
}

// AssetTransferKind distinguishes fixed from intangible transfers.
type AssetTransferKind string

const (
	TransferFixed      AssetTransferKind = "fixed"
	TransferIntangible AssetTransferKind = "intangible"
)

// AssetTransfer describes an intra-group asset sale for steps 4 and 5.
type AssetTransfer struct {
	SellerID         int64
	BuyerID          int64
	Kind             AssetTransferKind
	SaleAmount       float64
	CarryingAmount   float64
	DepreciationRate float64 // annual, 0-1; zero for non-depreciating assets
}

// ImpairmentProvision is an intercompany impairment with no external
// substance, to be reversed in step 7.
type ImpairmentProvision struct {
	EntityID       int64
	CounterpartyID int64
	AccountCode    string
	Amount         float64
}

// CashMovementKind classifies intercompany cash flows for step 8.
type CashMovementKind string

const (
	CashDividend      CashMovementKind = "dividend"
	CashLoanAdvance   CashMovementKind = "loan_advance"
	CashLoanRepayment CashMovementKind = "loan_repayment"
)

// CashMovement is an intercompany cash flow recorded by both sides.
type CashMovement struct {
	PayerID    int64
	ReceiverID int64
	Kind       CashMovementKind
	Amount     float64
	Date       time.Time
}

// PriorEffect is the cumulative profit-and-loss effect of a prior period's
// eliminations for an entity pair, carried into opening retained earnings.
type PriorEffect struct {
	InvestorID int64
	InvesteeID int64
	Category   string
	Amount     float64
}

// Snapshot is the materialized, immutable view of everything a run reads.
// It is taken once at run start; later ledger mutations are invisible.
type Snapshot struct {
	Period   string
	Version  string
	TakenAt  time.Time
	Balances map[int64][]AccountBalance
	Details  map[int64][]DetailLine
	Entities map[int64]EntityRef

	InventoryHoldings []InventoryHolding
	AssetTransfers    []AssetTransfer
	Impairments       []ImpairmentProvision
	CashMovements     []CashMovement
	PriorEffects      []PriorEffect
}

// BalancesFor returns the entity's trial-balance rows.
func (s *Snapshot) BalancesFor(entityID int64) []AccountBalance {
	return s.Balances[entityID]
}

// DetailsFor returns the entity's detail lines under an account prefix.
// An empty prefix returns every line.
func (s *Snapshot) DetailsFor(entityID int64, accountPrefix string) []DetailLine {
	lines := s.Details[entityID]
	if accountPrefix == "" {
		return lines
	}
	out := make([]DetailLine, 0, len(lines))
	for _, l := range lines {
		if strings.HasPrefix(l.AccountCode, accountPrefix) {
			out = append(out, l)
		}
	}
	return out
}

// EntityRef returns the matching reference for counterparty scoring.
func (s *Snapshot) EntityRef(entityID int64) (EntityRef, bool) {
	ref, ok := s.Entities[entityID]
	return ref, ok
}

// HoldingFor returns the inventory-holding signal for a seller/buyer pair.
func (s *Snapshot) HoldingFor(sellerID, buyerID int64) (InventoryHolding, bool) {
	for _, h := range s.InventoryHoldings {
		if h.SellerID == sellerID && h.BuyerID == buyerID {
			return h, true
		}
	}
	return InventoryHolding{}, false
}

// TransfersBetween returns asset transfers for an ordered entity pair.
func (s *Snapshot) TransfersBetween(sellerID, buyerID int64, kind AssetTransferKind) []AssetTransfer {
	out := make([]AssetTransfer, 0)
	for _, t := range s.AssetTransfers {
		if t.SellerID == sellerID && t.BuyerID == buyerID && t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}
