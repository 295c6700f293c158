package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads ledger data owned by the ingestion layer. Everything is
// read-only from this side.
type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRepository constructs a ledger repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: time.Now}
}

// Take materializes the snapshot one run reads: balances, detail lines,
// entity references, and the elimination signals, all inside a single
// RepeatableRead transaction so the run never observes ledger mutations
// that land after it starts. The version stamp identifies the database
// snapshot the data came from.
func (r *Repository) Take(ctx context.Context, period string, entityIDs []int64) (*Snapshot, error) {
	snap := &Snapshot{
		Period:   period,
		TakenAt:  r.now().UTC(),
		Balances: make(map[int64][]AccountBalance, len(entityIDs)),
		Details:  make(map[int64][]DetailLine, len(entityIDs)),
		Entities: make(map[int64]EntityRef, len(entityIDs)),
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("ledger: begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx, `SELECT pg_current_snapshot()::text`).Scan(&snap.Version); err != nil {
		return nil, fmt.Errorf("ledger: snapshot version: %w", err)
	}
	if err := r.loadEntities(ctx, tx, entityIDs, snap); err != nil {
		return nil, err
	}
	if err := r.loadBalances(ctx, tx, period, entityIDs, snap); err != nil {
		return nil, err
	}
	if err := r.loadDetails(ctx, tx, period, entityIDs, snap); err != nil {
		return nil, err
	}
	if err := r.loadSignals(ctx, tx, period, entityIDs, snap); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ledger: close snapshot: %w", err)
	}
	return snap, nil
}

func (r *Repository) loadEntities(ctx context.Context, tx pgx.Tx, entityIDs []int64, snap *Snapshot) error {
	const query = `
SELECT e.id, e.code, e.name, COALESCE(array_agg(a.alias) FILTER (WHERE a.alias IS NOT NULL), '{}')
FROM entities e
LEFT JOIN entity_aliases a ON a.entity_id = e.id
WHERE e.id = ANY($1)
GROUP BY e.id, e.code, e.name`
	rows, err := tx.Query(ctx, query, entityIDs)
	if err != nil {
		return fmt.Errorf("ledger: load entities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ref EntityRef
		if err := rows.Scan(&ref.ID, &ref.Code, &ref.Name, &ref.Aliases); err != nil {
			return err
		}
		snap.Entities[ref.ID] = ref
	}
	return rows.Err()
}

func (r *Repository) loadBalances(ctx context.Context, tx pgx.Tx, period string, entityIDs []int64, snap *Snapshot) error {
	const query = `
SELECT entity_id, account_code, account_name, opening, debit, credit, closing, currency
FROM account_balances
WHERE period = $1 AND entity_id = ANY($2)
ORDER BY entity_id, account_code`
	rows, err := tx.Query(ctx, query, period, entityIDs)
	if err != nil {
		return fmt.Errorf("ledger: load balances: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b AccountBalance
		if err := rows.Scan(&b.EntityID, &b.AccountCode, &b.AccountName, &b.Opening, &b.Debit, &b.Credit, &b.Closing, &b.Currency); err != nil {
			return err
		}
		snap.Balances[b.EntityID] = append(snap.Balances[b.EntityID], b)
	}
	return rows.Err()
}

func (r *Repository) loadDetails(ctx context.Context, tx pgx.Tx, period string, entityIDs []int64, snap *Snapshot) error {
	const query = `
SELECT line_id, entity_id, account_code, counterparty_ref, tx_date, amount
FROM ledger_details
WHERE period = $1 AND entity_id = ANY($2)
ORDER BY entity_id, line_id`
	rows, err := tx.Query(ctx, query, period, entityIDs)
	if err != nil {
		return fmt.Errorf("ledger: load details: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l DetailLine
		if err := rows.Scan(&l.ID, &l.EntityID, &l.AccountCode, &l.CounterpartyRef, &l.Date, &l.Amount); err != nil {
			return err
		}
		snap.Details[l.EntityID] = append(snap.Details[l.EntityID], l)
	}
	return rows.Err()
}

// loadSignals pulls the optional elimination inputs. Missing rows are not
// an error here; their absence surfaces later as coverage-gap warnings.
func (r *Repository) loadSignals(ctx context.Context, tx pgx.Tx, period string, entityIDs []int64, snap *Snapshot) error {
	rows, err := tx.Query(ctx, `
SELECT seller_id, buyer_id, holding_ratio, margin_ratio
FROM inventory_holdings WHERE period = $1 AND seller_id = ANY($2)`, period, entityIDs)
	if err != nil {
		return fmt.Errorf("ledger: load inventory holdings: %w", err)
	}
	for rows.Next() {
		var h InventoryHolding
		if err := rows.Scan(&h.SellerID, &h.BuyerID, &h.HoldingRatio, &h.MarginRatio); err != nil {
			rows.Close()
			return err
		}
		snap.InventoryHoldings = append(snap.InventoryHoldings, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = tx.Query(ctx, `
SELECT seller_id, buyer_id, kind, sale_amount, carrying_amount, depreciation_rate
FROM asset_transfers WHERE period = $1 AND seller_id = ANY($2)`, period, entityIDs)
	if err != nil {
		return fmt.Errorf("ledger: load asset transfers: %w", err)
	}
	for rows.Next() {
		var t AssetTransfer
		if err := rows.Scan(&t.SellerID, &t.BuyerID, &t.Kind, &t.SaleAmount, &t.CarryingAmount, &t.DepreciationRate); err != nil {
			rows.Close()
			return err
		}
		snap.AssetTransfers = append(snap.AssetTransfers, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = tx.Query(ctx, `
SELECT entity_id, counterparty_id, account_code, amount
FROM impairment_provisions WHERE period = $1 AND entity_id = ANY($2)`, period, entityIDs)
	if err != nil {
		return fmt.Errorf("ledger: load impairments: %w", err)
	}
	for rows.Next() {
		var imp ImpairmentProvision
		if err := rows.Scan(&imp.EntityID, &imp.CounterpartyID, &imp.AccountCode, &imp.Amount); err != nil {
			rows.Close()
			return err
		}
		snap.Impairments = append(snap.Impairments, imp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = tx.Query(ctx, `
SELECT payer_id, receiver_id, kind, amount, tx_date
FROM cash_movements WHERE period = $1 AND payer_id = ANY($2)`, period, entityIDs)
	if err != nil {
		return fmt.Errorf("ledger: load cash movements: %w", err)
	}
	for rows.Next() {
		var mv CashMovement
		if err := rows.Scan(&mv.PayerID, &mv.ReceiverID, &mv.Kind, &mv.Amount, &mv.Date); err != nil {
			rows.Close()
			return err
		}
		snap.CashMovements = append(snap.CashMovements, mv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = tx.Query(ctx, `
SELECT investor_id, investee_id, category, amount
FROM prior_elimination_effects WHERE period = $1 AND investor_id = ANY($2)`, period, entityIDs)
	if err != nil {
		return fmt.Errorf("ledger: load prior effects: %w", err)
	}
	for rows.Next() {
		var p PriorEffect
		if err := rows.Scan(&p.InvestorID, &p.InvesteeID, &p.Category, &p.Amount); err != nil {
			rows.Close()
			return err
		}
		snap.PriorEffects = append(snap.PriorEffects, p)
	}
	rows.Close()
	return rows.Err()
}
