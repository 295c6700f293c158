package http

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/groupledger/groupledger/internal/consol"
	"github.com/groupledger/groupledger/internal/consol/elim"
	"github.com/groupledger/groupledger/internal/consol/match"
)

var amounts = message.NewPrinter(language.English)

// formatAmount renders a money amount with digit grouping for display and
// CSV export headers. Raw values stay numeric in the JSON payloads.
func formatAmount(v float64) string {
	return amounts.Sprintf("%.2f", v)
}

type runView struct {
	consol.Run
	SummaryDisplay map[string]string `json:"summary_display"`
}

func newRunView(run consol.Run) runView {
	return runView{
		Run: run,
		SummaryDisplay: map[string]string{
			"total_assets":      formatAmount(run.Summary.TotalAssets),
			"total_liabilities": formatAmount(run.Summary.TotalLiabilities),
			"total_equity":      formatAmount(run.Summary.TotalEquity),
			"minority_interest": formatAmount(run.Summary.MinorityInterest),
			"total_debits":      formatAmount(run.Summary.TotalDebits),
			"total_credits":     formatAmount(run.Summary.TotalCredits),
		},
	}
}

type balanceView struct {
	AccountCode string  `json:"account_code"`
	AccountName string  `json:"account_name"`
	Debit       float64 `json:"debit"`
	Credit      float64 `json:"credit"`
	Balance     float64 `json:"balance"`
}

func newBalanceViews(lines []consol.AccountTotal) []balanceView {
	out := make([]balanceView, 0, len(lines))
	for _, l := range lines {
		out = append(out, balanceView{
			AccountCode: l.AccountCode,
			AccountName: l.AccountName,
			Debit:       l.Debit,
			Credit:      l.Credit,
			Balance:     l.Balance(),
		})
	}
	return out
}

type entryView struct {
	ID            string  `json:"id"`
	Category      string  `json:"category"`
	DebitAccount  string  `json:"debit_account"`
	CreditAccount string  `json:"credit_account"`
	Amount        float64 `json:"amount"`
	InvestorID    int64   `json:"investor_id"`
	InvesteeID    int64   `json:"investee_id"`
	Provenance    string  `json:"provenance"`
	SourceLink    string  `json:"source_link"`
	Memo          string  `json:"memo,omitempty"`
}

func newEntryViews(entries []elim.Entry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{
			ID:            e.ID.String(),
			Category:      string(e.Category),
			DebitAccount:  e.DebitAccount,
			CreditAccount: e.CreditAccount,
			Amount:        e.Amount,
			InvestorID:    e.InvestorID,
			InvesteeID:    e.InvesteeID,
			Provenance:    string(e.Provenance),
			SourceLink:    e.SourceLink,
			Memo:          e.Memo,
		})
	}
	return out
}

type transactionView struct {
	ID         int64                `json:"id"`
	Family     string               `json:"family"`
	SellerID   int64                `json:"seller_id"`
	BuyerID    int64                `json:"buyer_id"`
	Amount     float64              `json:"amount"`
	Residual   float64              `json:"residual"`
	Status     string               `json:"status"`
	Confidence float64              `json:"confidence"`
	Breakdown  match.ScoreBreakdown `json:"breakdown"`
	AltLineID  string               `json:"alt_line_id,omitempty"`
	AltScore   float64              `json:"alt_score,omitempty"`
}

func newTransactionViews(txs []match.Transaction) []transactionView {
	out := make([]transactionView, 0, len(txs))
	for _, t := range txs {
		out = append(out, transactionView{
			ID:         t.ID,
			Family:     string(t.Family),
			SellerID:   t.SellerID,
			BuyerID:    t.BuyerID,
			Amount:     t.Amount,
			Residual:   t.Residual(),
			Status:     string(t.Status),
			Confidence: t.Confidence,
			Breakdown:  t.Breakdown,
			AltLineID:  t.AltLineID,
			AltScore:   t.AltScore,
		})
	}
	return out
}
