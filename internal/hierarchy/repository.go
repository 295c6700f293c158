package hierarchy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	platformdb "github.com/groupledger/groupledger/internal/platform/db"
)

// Repository persists entities, ownership edges, and the closure index.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a hierarchy repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uniqueViolation = "23505"

// InsertEntity stores a new entity and returns its identifier.
func (r *Repository) InsertEntity(ctx context.Context, in CreateEntityInput) (int64, error) {
	const query = `
INSERT INTO entities (code, name, role, currency, fiscal_year_end, project_id, active)
VALUES ($1, $2, $3, $4, $5, $6, TRUE)
RETURNING id`
	var id int64
	err := r.pool.QueryRow(ctx, query, in.Code, in.Name, in.Role, in.Currency, in.FiscalYearEnd, in.ProjectID).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, ErrDuplicateCode
		}
		return 0, fmt.Errorf("hierarchy: insert entity: %w", err)
	}
	return id, nil
}

// GetEntity fetches a single entity.
func (r *Repository) GetEntity(ctx context.Context, id int64) (Entity, error) {
	const query = `
SELECT id, code, name, role, currency, fiscal_year_end, project_id, active, created_at, updated_at
FROM entities WHERE id = $1`
	var e Entity
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&e.ID, &e.Code, &e.Name, &e.Role, &e.Currency, &e.FiscalYearEnd, &e.ProjectID, &e.Active, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entity{}, ErrEntityNotFound
		}
		return Entity{}, fmt.Errorf("hierarchy: get entity: %w", err)
	}
	return e, nil
}

// UpdateEntityMetadata corrects display fields only; structural attributes
// are owned by the edges.
func (r *Repository) UpdateEntityMetadata(ctx context.Context, id int64, name, currency, fiscalYearEnd string) error {
	const query = `
UPDATE entities SET name = $2, currency = $3, fiscal_year_end = $4, updated_at = NOW()
WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, name, currency, fiscalYearEnd)
	if err != nil {
		return fmt.Errorf("hierarchy: update entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// RetireEntity soft-retires an entity. It refuses while ownership edges
// still reference it.
func (r *Repository) RetireEntity(ctx context.Context, id int64) error {
	return platformdb.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var refs int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM ownership_edges WHERE investor_id = $1 OR investee_id = $1`, id,
		).Scan(&refs); err != nil {
			return err
		}
		if refs > 0 {
			return ErrEntityReferenced
		}
		tag, err := tx.Exec(ctx, `UPDATE entities SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrEntityNotFound
		}
		return nil
	})
}

// ListEntities returns all entities for a project ordered by code.
func (r *Repository) ListEntities(ctx context.Context, projectID int64) ([]Entity, error) {
	const query = `
SELECT id, code, name, role, currency, fiscal_year_end, project_id, active, created_at, updated_at
FROM entities WHERE project_id = $1 ORDER BY code`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("hierarchy: list entities: %w", err)
	}
	defer rows.Close()

	entities := make([]Entity, 0)
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.Code, &e.Name, &e.Role, &e.Currency, &e.FiscalYearEnd, &e.ProjectID, &e.Active, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// ListEdges returns all ownership edges between entities of a project.
func (r *Repository) ListEdges(ctx context.Context, projectID int64) ([]OwnershipEdge, error) {
	const query = `
SELECT oe.id, oe.investor_id, oe.investee_id, oe.ownership_pct, oe.voting_pct,
       oe.control_type, oe.method, oe.effective_from, oe.effective_to
FROM ownership_edges oe
JOIN entities inv ON inv.id = oe.investor_id
WHERE inv.project_id = $1
ORDER BY oe.id`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("hierarchy: list edges: %w", err)
	}
	defer rows.Close()

	edges := make([]OwnershipEdge, 0)
	for rows.Next() {
		var e OwnershipEdge
		if err := rows.Scan(&e.ID, &e.InvestorID, &e.InvesteeID, &e.Ownership, &e.VotingRights, &e.Control, &e.Method, &e.EffectiveFrom, &e.EffectiveTo); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// SaveEdge persists a new edge and replaces the project's closure rows in
// the same transaction so readers never observe a half-updated index.
func (r *Repository) SaveEdge(ctx context.Context, projectID int64, in AddEdgeInput, paths []AncestorPath) (int64, error) {
	var edgeID int64
	err := platformdb.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		const insertEdge = `
INSERT INTO ownership_edges (investor_id, investee_id, ownership_pct, voting_pct, control_type, method, effective_from, effective_to)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`
		if err := tx.QueryRow(ctx, insertEdge,
			in.InvestorID, in.InvesteeID, in.Ownership, in.VotingRights, in.Control, in.Method, in.EffectiveFrom, in.EffectiveTo,
		).Scan(&edgeID); err != nil {
			return err
		}
		return replaceClosure(ctx, tx, projectID, paths)
	})
	if err != nil {
		return 0, fmt.Errorf("hierarchy: save edge: %w", err)
	}
	return edgeID, nil
}

// DeleteEdge removes an edge and replaces the closure index.
func (r *Repository) DeleteEdge(ctx context.Context, projectID, edgeID int64, paths []AncestorPath) error {
	err := platformdb.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM ownership_edges WHERE id = $1`, edgeID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrEdgeNotFound
		}
		return replaceClosure(ctx, tx, projectID, paths)
	})
	if err != nil {
		if errors.Is(err, ErrEdgeNotFound) {
			return err
		}
		return fmt.Errorf("hierarchy: delete edge: %w", err)
	}
	return nil
}

func replaceClosure(ctx context.Context, tx pgx.Tx, projectID int64, paths []AncestorPath) error {
	if _, err := tx.Exec(ctx, `DELETE FROM ancestor_paths WHERE project_id = $1`, projectID); err != nil {
		return err
	}
	const insertPath = `
INSERT INTO ancestor_paths (project_id, ancestor_id, descendant_id, depth, effective_share)
VALUES ($1, $2, $3, $4, $5)`
	for _, p := range paths {
		if _, err := tx.Exec(ctx, insertPath, projectID, p.AncestorID, p.DescendantID, p.Depth, p.Share); err != nil {
			return err
		}
	}
	return nil
}
