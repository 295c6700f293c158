package match

import (
	"strings"

	"github.com/groupledger/groupledger/internal/ledger"
)

// Score is a pure function of a candidate pair plus configuration. It
// returns the structured breakdown, not just a scalar, so runner-up
// retention and reviewer explanations need no re-derivation.
func Score(seller, buyer Line, sellerRef, buyerRef ledger.EntityRef, family Family, cfg Config) ScoreBreakdown {
	b := ScoreBreakdown{
		Amount:       amountProximity(seller.Amount, buyer.Amount, cfg.AmountToleranceRatio),
		Counterparty: counterpartySimilarity(seller, buyer, sellerRef, buyerRef),
		Temporal:     temporalProximity(seller, buyer, cfg),
		Family:       familyCompatibility(seller, buyer, family),
	}
	b.Total = cfg.WeightAmount*b.Amount +
		cfg.WeightCounterparty*b.Counterparty +
		cfg.WeightTemporal*b.Temporal +
		cfg.WeightFamily*b.Family
	return b
}

// amountProximity is 1 for an exact match and decays linearly to 0 at the
// tolerance band, measured against the larger absolute amount.
func amountProximity(a, b, toleranceRatio float64) float64 {
	a, b = abs(a), abs(b)
	base := a
	if b > base {
		base = b
	}
	if base == 0 {
		return 1
	}
	diff := abs(a - b)
	band := base * toleranceRatio
	if band <= 0 || diff >= band {
		if diff == 0 {
			return 1
		}
		return 0
	}
	return 1 - diff/band
}

// counterpartySimilarity compares each side's recorded counterparty
// reference against the other entity's known names and codes by token
// overlap, averaging the two directions.
func counterpartySimilarity(seller, buyer Line, sellerRef, buyerRef ledger.EntityRef) float64 {
	s := tokenOverlap(seller.CounterpartyRef, buyerRef.Tokens())
	b := tokenOverlap(buyer.CounterpartyRef, sellerRef.Tokens())
	return (s + b) / 2
}

func tokenOverlap(ref string, known []string) float64 {
	tokens := strings.Fields(strings.ToLower(ref))
	if len(tokens) == 0 || len(known) == 0 {
		return 0
	}
	hits := 0
	for _, t := range tokens {
		for _, k := range known {
			if t == k {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(tokens))
}

// temporalProximity decays linearly from 1 at zero gap to 0 at the window.
// The gap is exact elapsed time in fractional days, never truncated, so
// same-day and near-day transactions are not systematically underscored.
func temporalProximity(seller, buyer Line, cfg Config) float64 {
	if cfg.TemporalWindow <= 0 {
		return 0
	}
	gap := seller.Date.Sub(buyer.Date)
	if gap < 0 {
		gap = -gap
	}
	if gap >= cfg.TemporalWindow {
		return 0
	}
	return 1 - float64(gap)/float64(cfg.TemporalWindow)
}

// familyCompatibility is 1 when the two accounts sit on the declared
// complementary prefixes of the family, else 0.
func familyCompatibility(seller, buyer Line, family Family) float64 {
	sp, bp := family.Prefixes()
	if strings.HasPrefix(seller.AccountCode, sp) && strings.HasPrefix(buyer.AccountCode, bp) {
		return 1
	}
	return 0
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
