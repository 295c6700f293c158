package consol

import (
	"math"

	"github.com/groupledger/groupledger/internal/consol/elim"
	"github.com/groupledger/groupledger/internal/shared"
)

// ValidateResult verifies the aggregated output before a run may complete:
// every entry balances, total consolidated debits equal total credits
// within tolerance, and minority interest is non-negative. A violation is a
// structural error carrying the imbalance amount and affected accounts; it
// is surfaced, never approximated away.
func ValidateResult(res *Result, entries []elim.Entry, tolerance float64) error {
	for _, e := range entries {
		if !e.Balanced() {
			serr := shared.NewStructuralError(shared.StructuralUnbalanced,
				"entry %s (%s/%s) violates its construction invariant", e.ID, e.DebitAccount, e.CreditAccount)
			serr.Amount = e.Amount
			return serr
		}
	}

	var debits, credits float64
	for _, t := range res.Accounts {
		debits += t.Debit
		credits += t.Credit
	}
	if diff := debits - credits; math.Abs(diff) > tolerance {
		serr := shared.NewStructuralError(shared.StructuralIdentity,
			"consolidated debits %.2f do not equal credits %.2f", debits, credits)
		serr.Amount = roundCents(diff)
		return serr
	}

	if t, ok := res.Accounts[elim.AcctMinorityInterest]; ok {
		// Minority interest is credit-natured; a debit balance means a
		// negative non-controlling interest.
		if minority := t.Credit - t.Debit; minority < -tolerance {
			serr := shared.NewStructuralError(shared.StructuralIdentity,
				"minority interest on %s is negative", elim.AcctMinorityInterest)
			serr.Amount = roundCents(minority)
			return serr
		}
	}
	return nil
}
