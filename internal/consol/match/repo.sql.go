package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	platformdb "github.com/groupledger/groupledger/internal/platform/db"
)

// Repository persists intercompany transactions. Rows are keyed by
// (period, family, source lines) so a re-run upserts instead of duplicating,
// and pinned rows survive across runs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a transaction repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const upsertTransaction = `
INSERT INTO intercompany_transactions (
    period, family, seller_id, buyer_id, seller_line, buyer_line,
    seller_amount, buyer_amount, amount, status, confidence,
    score_amount, score_counterparty, score_temporal, score_family,
    alt_line, alt_score, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NOW(),NOW())
ON CONFLICT (period, family, seller_line, buyer_line) DO UPDATE SET
    seller_amount = EXCLUDED.seller_amount,
    buyer_amount  = EXCLUDED.buyer_amount,
    amount        = EXCLUDED.amount,
    status        = EXCLUDED.status,
    confidence    = EXCLUDED.confidence,
    score_amount       = EXCLUDED.score_amount,
    score_counterparty = EXCLUDED.score_counterparty,
    score_temporal     = EXCLUDED.score_temporal,
    score_family       = EXCLUDED.score_family,
    alt_line  = EXCLUDED.alt_line,
    alt_score = EXCLUDED.alt_score,
    updated_at = NOW()
WHERE intercompany_transactions.status NOT IN ('manual', 'confirmed')`

// SaveAll upserts the matcher output in one transaction. Pinned rows are
// protected by the conflict guard even if one slips into the batch.
func (r *Repository) SaveAll(ctx context.Context, txs []Transaction) error {
	err := platformdb.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, t := range txs {
			_, err := tx.Exec(ctx, upsertTransaction,
				t.Period, t.Family, t.SellerID, t.BuyerID, t.SellerLineID, t.BuyerLineID,
				t.SellerAmount, t.BuyerAmount, t.Amount, t.Status, t.Confidence,
				t.Breakdown.Amount, t.Breakdown.Counterparty, t.Breakdown.Temporal, t.Breakdown.Family,
				t.AltLineID, t.AltScore,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("match: save transactions: %w", err)
	}
	return nil
}

const selectTransactions = `
SELECT id, period, family, seller_id, buyer_id, seller_line, buyer_line,
       seller_amount, buyer_amount, amount, status, confidence,
       score_amount, score_counterparty, score_temporal, score_family,
       alt_line, alt_score, created_at, updated_at
FROM intercompany_transactions`

// ListForPeriod returns every transaction of a period ordered for stable output.
func (r *Repository) ListForPeriod(ctx context.Context, period string) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, selectTransactions+`
WHERE period = $1
ORDER BY family, seller_id, buyer_id, seller_line, buyer_line`, period)
	if err != nil {
		return nil, fmt.Errorf("match: list transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// ListPinned returns the manual/confirmed rows of a period; the matcher
// treats them as settled and removes their lines from candidacy.
func (r *Repository) ListPinned(ctx context.Context, period string) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, selectTransactions+`
WHERE period = $1 AND status IN ('manual', 'confirmed')
ORDER BY family, seller_id, buyer_id, seller_line, buyer_line`, period)
	if err != nil {
		return nil, fmt.Errorf("match: list pinned: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// SetStatus records a reviewer decision. Only unmatched and auto rows may
// move; manual/confirmed rows are final.
func (r *Repository) SetStatus(ctx context.Context, id int64, status Status) error {
	const query = `
UPDATE intercompany_transactions
SET status = $2, updated_at = NOW()
WHERE id = $1 AND status NOT IN ('manual', 'confirmed')`
	tag, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("match: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if r.exists(ctx, id) {
			return ErrStatusPinned
		}
		return ErrTransactionNotFound
	}
	return nil
}

func (r *Repository) exists(ctx context.Context, id int64) bool {
	var one int
	err := r.pool.QueryRow(ctx, `SELECT 1 FROM intercompany_transactions WHERE id = $1`, id).Scan(&one)
	return !errors.Is(err, pgx.ErrNoRows) && err == nil
}

func scanTransactions(rows pgx.Rows) ([]Transaction, error) {
	txs := make([]Transaction, 0)
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(
			&t.ID, &t.Period, &t.Family, &t.SellerID, &t.BuyerID, &t.SellerLineID, &t.BuyerLineID,
			&t.SellerAmount, &t.BuyerAmount, &t.Amount, &t.Status, &t.Confidence,
			&t.Breakdown.Amount, &t.Breakdown.Counterparty, &t.Breakdown.Temporal, &t.Breakdown.Family,
			&t.AltLineID, &t.AltScore, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		t.Breakdown.Total = t.Confidence
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
