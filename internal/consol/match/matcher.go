package match

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/groupledger/groupledger/internal/ledger"
)

// Matcher pairs ledger-detail lines across entities in scope. Scoring per
// entity pair runs concurrently; the greedy consumption step is a single
// coordinating pass so two matches never double-claim a source line.
type Matcher struct {
	cfg    Config
	logger *slog.Logger
}

// NewMatcher constructs a matcher for one run's configuration.
func NewMatcher(cfg Config, logger *slog.Logger) *Matcher {
	return &Matcher{cfg: cfg, logger: logger}
}

type candidate struct {
	family Family
	seller Line
	buyer  Line
	score  ScoreBreakdown
}

// pairKey orders candidates deterministically when totals tie exactly.
func (c candidate) pairKey() string {
	return c.seller.ID + "|" + c.buyer.ID
}

// Run scores every ordered entity pair and family, then consumes candidates
// greedily by descending score. Lines referenced by pinned transactions are
// removed from candidacy first, so re-running after a reviewer decision
// leaves that decision untouched and never double-claims its lines.
func (m *Matcher) Run(ctx context.Context, snap *ledger.Snapshot, entityIDs []int64, pinned []Transaction) ([]Transaction, error) {
	consumed := make(map[string]bool, 2*len(pinned))
	out := make([]Transaction, 0, len(pinned))
	for _, p := range pinned {
		consumed[p.SellerLineID] = true
		consumed[p.BuyerLineID] = true
		out = append(out, p)
	}

	candidates, err := m.scorePairs(ctx, snap, entityIDs, consumed)
	if err != nil {
		return nil, err
	}

	// Descending total; exact ties fall back to the smaller source-line key
	// so re-runs on unchanged data reproduce identical matches.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score.Total != candidates[j].score.Total {
			return candidates[i].score.Total > candidates[j].score.Total
		}
		return candidates[i].pairKey() < candidates[j].pairKey()
	})

	for i, c := range candidates {
		if c.score.Total < m.cfg.SuggestFloor {
			break
		}
		if consumed[c.seller.ID] || consumed[c.buyer.ID] {
			continue
		}
		consumed[c.seller.ID] = true
		consumed[c.buyer.ID] = true

		tx := Transaction{
			Period:       snap.Period,
			Family:       c.family,
			SellerID:     c.seller.EntityID,
			BuyerID:      c.buyer.EntityID,
			SellerLineID: c.seller.ID,
			BuyerLineID:  c.buyer.ID,
			SellerAmount: c.seller.Amount,
			BuyerAmount:  c.buyer.Amount,
			Amount:       min(abs(c.seller.Amount), abs(c.buyer.Amount)),
			Status:       StatusAuto,
			Confidence:   c.score.Total,
			Breakdown:    c.score,
		}
		if tx.Confidence < m.cfg.ConfirmThreshold {
			// Suggestion band: surfaced with the candidate retained but not
			// auto-matched; a reviewer promotes it to manual/confirmed.
			tx.Status = StatusUnmatched
		}
		if alt, ok := runnerUp(candidates[i+1:], c, consumed, m.cfg.SuggestFloor); ok {
			tx.AltLineID = alt.buyer.ID
			if alt.seller.ID != c.seller.ID {
				tx.AltLineID = alt.seller.ID
			}
			tx.AltScore = alt.score.Total
		}
		out = append(out, tx)
	}

	m.log().Info("matching complete",
		slog.String("period", snap.Period),
		slog.Int("candidates", len(candidates)),
		slog.Int("transactions", len(out)))
	return out, nil
}

// scorePairs fans the per-pair scoring out with errgroup; results land in a
// shared slice under a mutex. Consumption happens later in one pass.
func (m *Matcher) scorePairs(ctx context.Context, snap *ledger.Snapshot, entityIDs []int64, consumed map[string]bool) ([]candidate, error) {
	var (
		mu  sync.Mutex
		all []candidate
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, sellerID := range entityIDs {
		for _, buyerID := range entityIDs {
			if sellerID == buyerID {
				continue
			}
			sellerID, buyerID := sellerID, buyerID
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				batch := m.scorePair(snap, sellerID, buyerID, consumed)
				if len(batch) == 0 {
					return nil
				}
				mu.Lock()
				all = append(all, batch...)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

func (m *Matcher) scorePair(snap *ledger.Snapshot, sellerID, buyerID int64, consumed map[string]bool) []candidate {
	sellerRef, ok := snap.EntityRef(sellerID)
	if !ok {
		return nil
	}
	buyerRef, ok := snap.EntityRef(buyerID)
	if !ok {
		return nil
	}

	var batch []candidate
	for _, family := range Families {
		sp, bp := family.Prefixes()
		for _, sl := range snap.DetailsFor(sellerID, sp) {
			if consumed[sl.ID] {
				continue
			}
			seller := asLine(sl)
			for _, bl := range snap.DetailsFor(buyerID, bp) {
				if consumed[bl.ID] {
					continue
				}
				buyer := asLine(bl)
				score := Score(seller, buyer, sellerRef, buyerRef, family, m.cfg)
				if score.Total < m.cfg.SuggestFloor {
					continue
				}
				batch = append(batch, candidate{family: family, seller: seller, buyer: buyer, score: score})
			}
		}
	}
	return batch
}

// runnerUp finds the best remaining candidate sharing a line with the
// selected match. It is recorded, not discarded, so a reviewer can override.
func runnerUp(rest []candidate, chosen candidate, consumed map[string]bool, floor float64) (candidate, bool) {
	for _, c := range rest {
		if c.score.Total < floor {
			break
		}
		sharesSeller := c.seller.ID == chosen.seller.ID
		sharesBuyer := c.buyer.ID == chosen.buyer.ID
		if !sharesSeller && !sharesBuyer {
			continue
		}
		// The shared line is the chosen one; the other side must still be free.
		if sharesSeller && consumed[c.buyer.ID] {
			continue
		}
		if sharesBuyer && consumed[c.seller.ID] {
			continue
		}
		return c, true
	}
	return candidate{}, false
}

func asLine(l ledger.DetailLine) Line {
	return Line{
		ID:              l.ID,
		EntityID:        l.EntityID,
		AccountCode:     l.AccountCode,
		CounterpartyRef: l.CounterpartyRef,
		Date:            l.Date,
		Amount:          l.Amount,
	}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func (m *Matcher) log() *slog.Logger {
	if m != nil && m.logger != nil {
		return m.logger.With(slog.String("component", "consol.match"))
	}
	return slog.Default().With(slog.String("component", "consol.match"))
}
