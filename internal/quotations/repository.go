package quotations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelier-erp/atelier/internal/approval"
	"github.com/atelier-erp/atelier/internal/audit"
	"github.com/atelier-erp/atelier/internal/platform/db"
	"github.com/atelier-erp/atelier/internal/shared"
)

// Repository provides quotation persistence. The accept-and-supersede path
// updates the owning project's current pointer through the same transaction,
// which is why the project pointer write lives here and not in the projects
// package.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	LockProject(ctx context.Context, projectID uuid.UUID) error

	Get(ctx context.Context, id uuid.UUID) (*Quotation, error)
	Create(ctx context.Context, q Quotation) error
	ReplaceLines(ctx context.Context, quotationID uuid.UUID, lines []QuotationLine) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status QuotationStatus) error
	UpdateValidity(ctx context.Context, id uuid.UUID, validUntil time.Time) error
	SetChain(ctx context.Context, id uuid.UUID, chainID uuid.UUID) error
	MarkAccepted(ctx context.Context, id uuid.UUID, revision int64) error

	CurrentAccepted(ctx context.Context, projectID uuid.UUID) (*Quotation, error)
	MaxRevision(ctx context.Context, projectID uuid.UUID) (int64, error)
	SetProjectCurrent(ctx context.Context, projectID uuid.UUID, quotationID *uuid.UUID) error
	ProjectExists(ctx context.Context, projectID uuid.UUID) (bool, error)
	ListExpirable(ctx context.Context, asOf time.Time, limit int) ([]Quotation, error)
	ListPendingChainOutcomes(ctx context.Context, limit int) ([]ChainOutcome, error)

	AppendAudit(ctx context.Context, entry audit.Entry) error
}

// ChainOutcome pairs a pending quotation with the terminal status its
// approval chain reached without the quotation following.
type ChainOutcome struct {
	QuotationID uuid.UUID
	ChainStatus approval.ChainStatus
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db   dbtx
	tx   pgx.Tx
	pool *pgxpool.Pool
}

// NewRepository returns the postgres-backed quotation store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, tx: tx, pool: r.pool})
	})
}

func (r *repository) LockProject(ctx context.Context, projectID uuid.UUID) error {
	if r.tx == nil {
		return errors.New("quotations: project lock requires a transaction")
	}
	return db.TryAdvisoryLock(ctx, r.tx, db.LockNamespaceProject, projectID)
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Quotation, error) {
	var q Quotation
	err := r.db.QueryRow(ctx, `SELECT id, project_id, revision_number, status, valid_until, approval_chain_id, created_by, created_at, updated_at
FROM quotations WHERE id = $1`, id).
		Scan(&q.ID, &q.ProjectID, &q.RevisionNumber, &q.Status, &q.ValidUntil, &q.ApprovalChainID, &q.CreatedBy, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	lines, err := r.lines(ctx, id)
	if err != nil {
		return nil, err
	}
	q.Lines = lines
	return &q, nil
}

func (r *repository) lines(ctx context.Context, quotationID uuid.UUID) ([]QuotationLine, error) {
	rows, err := r.db.Query(ctx, `SELECT id, quotation_id, product_id, quantity, unit_price
FROM quotation_lines WHERE quotation_id = $1 ORDER BY id ASC`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []QuotationLine
	for rows.Next() {
		var l QuotationLine
		if err := rows.Scan(&l.ID, &l.QuotationID, &l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *repository) Create(ctx context.Context, q Quotation) error {
	_, err := r.db.Exec(ctx, `INSERT INTO quotations (id, project_id, revision_number, status, valid_until, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`, q.ID, q.ProjectID, q.RevisionNumber, q.Status, q.ValidUntil, q.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert quotation: %w", err)
	}
	return r.insertLines(ctx, q.ID, q.Lines)
}

func (r *repository) insertLines(ctx context.Context, quotationID uuid.UUID, lines []QuotationLine) error {
	for _, l := range lines {
		_, err := r.db.Exec(ctx, `INSERT INTO quotation_lines (quotation_id, product_id, quantity, unit_price)
VALUES ($1, $2, $3, $4)`, quotationID, l.ProductID, l.Quantity, l.UnitPrice)
		if err != nil {
			return fmt.Errorf("insert quotation line: %w", err)
		}
	}
	return nil
}

func (r *repository) ReplaceLines(ctx context.Context, quotationID uuid.UUID, lines []QuotationLine) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM quotation_lines WHERE quotation_id = $1`, quotationID); err != nil {
		return err
	}
	return r.insertLines(ctx, quotationID, lines)
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status QuotationStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE quotations SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) UpdateValidity(ctx context.Context, id uuid.UUID, validUntil time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE quotations SET valid_until = $1, updated_at = NOW() WHERE id = $2`, validUntil, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) SetChain(ctx context.Context, id uuid.UUID, chainID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE quotations SET approval_chain_id = $1, updated_at = NOW() WHERE id = $2`, chainID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAccepted sets the accepted status and revision in one statement. A
// partial unique index on (project_id) WHERE status = 'ACCEPTED' backs the
// single-accepted invariant at the storage layer; a violation surfaces as
// contention so the lifecycle retry loop re-reads and supersedes properly.
func (r *repository) MarkAccepted(ctx context.Context, id uuid.UUID, revision int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE quotations SET status = $1, revision_number = $2, updated_at = NOW() WHERE id = $3`,
		QuotationStatusAccepted, revision, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: another quotation was accepted concurrently", shared.ErrContention)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) CurrentAccepted(ctx context.Context, projectID uuid.UUID) (*Quotation, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT id FROM quotations WHERE project_id = $1 AND status = $2`,
		projectID, QuotationStatusAccepted).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoAcceptedQuotation
		}
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *repository) MaxRevision(ctx context.Context, projectID uuid.UUID) (int64, error) {
	var max int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(revision_number), 0) FROM quotations WHERE project_id = $1`, projectID).Scan(&max)
	return max, err
}

func (r *repository) SetProjectCurrent(ctx context.Context, projectID uuid.UUID, quotationID *uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE projects SET current_accepted_quotation_id = $1, updated_at = NOW() WHERE id = $2`, quotationID, projectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: project", shared.ErrNotFound)
	}
	return nil
}

func (r *repository) ProjectExists(ctx context.Context, projectID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM projects WHERE id = $1)`, projectID).Scan(&exists)
	return exists, err
}

func (r *repository) ListExpirable(ctx context.Context, asOf time.Time, limit int) ([]Quotation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `SELECT id FROM quotations
WHERE status IN ($1, $2) AND valid_until < $3 ORDER BY valid_until ASC LIMIT $4`,
		QuotationStatusAccepted, QuotationStatusApproved, asOf, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []Quotation
	for _, id := range ids {
		q, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, nil
}

func (r *repository) ListPendingChainOutcomes(ctx context.Context, limit int) ([]ChainOutcome, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `SELECT q.id, c.status FROM quotations q
JOIN approval_chains c ON c.id = q.approval_chain_id
WHERE q.status = $1 AND c.status IN ($2, $3)
ORDER BY q.updated_at ASC LIMIT $4`,
		QuotationStatusPendingApproval, approval.ChainStatusComplete, approval.ChainStatusRejected, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChainOutcome
	for rows.Next() {
		var o ChainOutcome
		if err := rows.Scan(&o.QuotationID, &o.ChainStatus); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *repository) AppendAudit(ctx context.Context, entry audit.Entry) error {
	return audit.Append(ctx, r.db, entry)
}
