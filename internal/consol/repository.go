package consol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/groupledger/groupledger/internal/consol/elim"
	platformdb "github.com/groupledger/groupledger/internal/platform/db"
	"github.com/groupledger/groupledger/internal/shared"
)

// Repository persists runs, their elimination ledger, and their
// consolidated balances. Scope, config, and warnings live as jsonb on the
// run row; entries and balances get their own tables for filtered queries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a run repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertRun stores a new draft run.
func (r *Repository) InsertRun(ctx context.Context, run *Run) error {
	scope, err := json.Marshal(run.Scope)
	if err != nil {
		return fmt.Errorf("consol: marshal scope: %w", err)
	}
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("consol: marshal config: %w", err)
	}
	const query = `
INSERT INTO consolidation_runs (
    id, project_id, root_entity_id, period, mode, status,
    snapshot_version, config, scope, warnings, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'[]',$10,$10)`
	_, err = r.pool.Exec(ctx, query,
		run.ID, run.ProjectID, run.RootEntityID, run.Period, run.Mode, run.Status,
		run.SnapshotVersion, cfg, scope, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("consol: insert run: %w", err)
	}
	return nil
}

const selectRun = `
SELECT id, project_id, root_entity_id, period, mode, status, snapshot_version,
       config, scope, warnings,
       total_assets, total_liabilities, total_equity, minority_interest,
       total_debits, total_credits,
       failure_reason, approved_by, approved_at, created_at, updated_at
FROM consolidation_runs`

// GetRun fetches one run with its scope and warnings.
func (r *Repository) GetRun(ctx context.Context, id uuid.UUID) (Run, error) {
	row := r.pool.QueryRow(ctx, selectRun+` WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrRunNotFound
		}
		return Run{}, fmt.Errorf("consol: get run: %w", err)
	}
	return run, nil
}

// ListRuns returns a project's runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, projectID int64) ([]Run, error) {
	rows, err := r.pool.Query(ctx, selectRun+` WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("consol: list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SetStatus moves the run lifecycle. Approved runs are frozen at the SQL
// level too, so no code path can mutate them.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status RunStatus, failureReason string) error {
	const query = `
UPDATE consolidation_runs
SET status = $2, failure_reason = $3, updated_at = NOW()
WHERE id = $1 AND status <> 'approved'`
	tag, err := r.pool.Exec(ctx, query, id, status, failureReason)
	if err != nil {
		return fmt.Errorf("consol: set run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.frozenOrMissing(ctx, id)
	}
	return nil
}

// SaveWarnings replaces the run's warning list.
func (r *Repository) SaveWarnings(ctx context.Context, id uuid.UUID, warnings []shared.RunWarning) error {
	if warnings == nil {
		warnings = []shared.RunWarning{}
	}
	payload, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("consol: marshal warnings: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
UPDATE consolidation_runs SET warnings = $2, updated_at = NOW()
WHERE id = $1 AND status <> 'approved'`, id, payload)
	if err != nil {
		return fmt.Errorf("consol: save warnings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.frozenOrMissing(ctx, id)
	}
	return nil
}

// SaveSummary stores the headline figures of a completed aggregation.
func (r *Repository) SaveSummary(ctx context.Context, id uuid.UUID, s Summary) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE consolidation_runs SET
    total_assets = $2, total_liabilities = $3, total_equity = $4,
    minority_interest = $5, total_debits = $6, total_credits = $7,
    updated_at = NOW()
WHERE id = $1 AND status <> 'approved'`,
		id, s.TotalAssets, s.TotalLiabilities, s.TotalEquity, s.MinorityInterest, s.TotalDebits, s.TotalCredits)
	if err != nil {
		return fmt.Errorf("consol: save summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.frozenOrMissing(ctx, id)
	}
	return nil
}

// Approve freezes a completed run.
func (r *Repository) Approve(ctx context.Context, id uuid.UUID, approvedBy int64, at time.Time) error {
	const query = `
UPDATE consolidation_runs
SET status = 'approved', approved_by = $2, approved_at = $3, updated_at = NOW()
WHERE id = $1 AND status = 'completed'`
	tag, err := r.pool.Exec(ctx, query, id, approvedBy, at)
	if err != nil {
		return fmt.Errorf("consol: approve run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.frozenOrMissing(ctx, id)
	}
	return nil
}

// SaveEntries upserts the run's elimination ledger under a serializable
// transaction. Deterministic source links make re-running a draft run
// idempotent: the same economic entry lands on the same row.
func (r *Repository) SaveEntries(ctx context.Context, runID uuid.UUID, entries []elim.Entry) error {
	const upsert = `
INSERT INTO elimination_entries (
    id, run_id, category, debit_account, credit_account, amount,
    investor_id, investee_id, provenance, source_link, memo, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (run_id, source_link) DO UPDATE SET
    category = EXCLUDED.category,
    debit_account = EXCLUDED.debit_account,
    credit_account = EXCLUDED.credit_account,
    amount = EXCLUDED.amount,
    memo = EXCLUDED.memo`
	err := platformdb.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, e := range entries {
			if _, err := tx.Exec(ctx, upsert,
				e.ID, runID, e.Category, e.DebitAccount, e.CreditAccount, e.Amount,
				e.InvestorID, e.InvesteeID, e.Provenance, e.SourceLink, e.Memo, e.CreatedAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("consol: save entries: %w", err)
	}
	return nil
}

// DeleteEntries discards a cancelled run's output.
func (r *Repository) DeleteEntries(ctx context.Context, runID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM elimination_entries WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("consol: delete entries: %w", err)
	}
	return nil
}

// ListEntries returns the elimination ledger, optionally filtered by
// category or entity pair.
func (r *Repository) ListEntries(ctx context.Context, runID uuid.UUID, f EntryFilter) ([]elim.Entry, error) {
	query := `
SELECT id, run_id, category, debit_account, credit_account, amount,
       investor_id, investee_id, provenance, source_link, memo, created_at
FROM elimination_entries
WHERE run_id = $1`
	args := []any{runID}
	if f.Category != "" {
		args = append(args, f.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if f.InvestorID != 0 {
		args = append(args, f.InvestorID)
		query += fmt.Sprintf(" AND investor_id = $%d", len(args))
	}
	if f.InvesteeID != 0 {
		args = append(args, f.InvesteeID)
		query += fmt.Sprintf(" AND investee_id = $%d", len(args))
	}
	query += " ORDER BY category, source_link"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("consol: list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]elim.Entry, 0)
	for rows.Next() {
		var e elim.Entry
		if err := rows.Scan(
			&e.ID, &e.RunID, &e.Category, &e.DebitAccount, &e.CreditAccount, &e.Amount,
			&e.InvestorID, &e.InvesteeID, &e.Provenance, &e.SourceLink, &e.Memo, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveBalances replaces the run's consolidated trial balance.
func (r *Repository) SaveBalances(ctx context.Context, runID uuid.UUID, lines []AccountTotal) error {
	err := platformdb.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM consolidated_balances WHERE run_id = $1`, runID); err != nil {
			return err
		}
		const insert = `
INSERT INTO consolidated_balances (run_id, account_code, account_name, debit, credit)
VALUES ($1,$2,$3,$4,$5)`
		for _, l := range lines {
			if _, err := tx.Exec(ctx, insert, runID, l.AccountCode, l.AccountName, l.Debit, l.Credit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("consol: save balances: %w", err)
	}
	return nil
}

// ListBalances returns the consolidated trial balance ordered by account.
func (r *Repository) ListBalances(ctx context.Context, runID uuid.UUID) ([]AccountTotal, error) {
	rows, err := r.pool.Query(ctx, `
SELECT account_code, account_name, debit, credit
FROM consolidated_balances WHERE run_id = $1 ORDER BY account_code`, runID)
	if err != nil {
		return nil, fmt.Errorf("consol: list balances: %w", err)
	}
	defer rows.Close()

	lines := make([]AccountTotal, 0)
	for rows.Next() {
		var l AccountTotal
		if err := rows.Scan(&l.AccountCode, &l.AccountName, &l.Debit, &l.Credit); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// FailStale marks in-progress runs without a heartbeat as failed. A run
// whose worker died keeps its lock only until the TTL expires; this sweep
// moves the row out of in_progress so the period can be re-run.
func (r *Repository) FailStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	const query = `
UPDATE consolidation_runs
SET status = 'failed', failure_reason = 'run abandoned by worker', updated_at = NOW()
WHERE status = 'in_progress' AND updated_at < NOW() - make_interval(secs => $1)`
	tag, err := r.pool.Exec(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("consol: fail stale runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) frozenOrMissing(ctx context.Context, id uuid.UUID) error {
	var status RunStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM consolidation_runs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRunNotFound
	}
	if err != nil {
		return fmt.Errorf("consol: check run status: %w", err)
	}
	if status.Frozen() {
		return shared.ErrRunFrozen
	}
	return fmt.Errorf("consol: run %s not in a writable state (%s)", id, status)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run            Run
		cfgRaw         []byte
		scopeRaw       []byte
		warningsRaw    []byte
		failureReason  *string
		approvedBy     *int64
		approvedAt     *time.Time
	)
	if err := row.Scan(
		&run.ID, &run.ProjectID, &run.RootEntityID, &run.Period, &run.Mode, &run.Status, &run.SnapshotVersion,
		&cfgRaw, &scopeRaw, &warningsRaw,
		&run.Summary.TotalAssets, &run.Summary.TotalLiabilities, &run.Summary.TotalEquity, &run.Summary.MinorityInterest,
		&run.Summary.TotalDebits, &run.Summary.TotalCredits,
		&failureReason, &approvedBy, &approvedAt, &run.CreatedAt, &run.UpdatedAt,
	); err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal(cfgRaw, &run.Config); err != nil {
		return Run{}, fmt.Errorf("consol: unmarshal config: %w", err)
	}
	if err := json.Unmarshal(scopeRaw, &run.Scope); err != nil {
		return Run{}, fmt.Errorf("consol: unmarshal scope: %w", err)
	}
	if err := json.Unmarshal(warningsRaw, &run.Warnings); err != nil {
		return Run{}, fmt.Errorf("consol: unmarshal warnings: %w", err)
	}
	if failureReason != nil {
		run.FailureReason = *failureReason
	}
	if approvedBy != nil {
		run.ApprovedBy = *approvedBy
	}
	run.ApprovedAt = approvedAt
	return run, nil
}
