package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelier-erp/atelier/internal/audit"
	"github.com/atelier-erp/atelier/internal/platform/db"
)

// Repository provides chain and template persistence. WithTx yields a
// repository bound to a RepeatableRead transaction; AppendAudit writes through
// the same handle, so audit rows commit together with the transition.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	LockChain(ctx context.Context, chainID uuid.UUID) error
	LockDocument(ctx context.Context, documentID uuid.UUID) error

	GetChain(ctx context.Context, chainID uuid.UUID) (*Chain, error)
	ActiveChainForDocument(ctx context.Context, docType DocumentType, documentID uuid.UUID) (*Chain, error)
	CreateChain(ctx context.Context, chain Chain) error
	UpdateStep(ctx context.Context, step Step) error
	UpdateChainStatus(ctx context.Context, chainID uuid.UUID, status ChainStatus) error

	GetTemplate(ctx context.Context, templateID uuid.UUID) (*Template, error)
	ListTemplates(ctx context.Context, docType DocumentType) ([]Template, error)
	CreateTemplate(ctx context.Context, tmpl Template) error

	AppendAudit(ctx context.Context, entry audit.Entry) error
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

// NewRepository returns the postgres-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, tx: tx, pool: r.pool})
	})
}

func (r *repository) LockChain(ctx context.Context, chainID uuid.UUID) error {
	if r.tx == nil {
		return errors.New("approval: chain lock requires a transaction")
	}
	return db.TryAdvisoryLock(ctx, r.tx, db.LockNamespaceChain, chainID)
}

func (r *repository) LockDocument(ctx context.Context, documentID uuid.UUID) error {
	if r.tx == nil {
		return errors.New("approval: document lock requires a transaction")
	}
	return db.TryAdvisoryLock(ctx, r.tx, db.LockNamespaceChain, documentID)
}

func (r *repository) GetChain(ctx context.Context, chainID uuid.UUID) (*Chain, error) {
	var c Chain
	err := r.db.QueryRow(ctx, `SELECT id, document_type, document_id, template_id, status, created_at, updated_at
FROM approval_chains WHERE id = $1`, chainID).
		Scan(&c.ID, &c.DocumentType, &c.DocumentID, &c.TemplateID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	steps, err := r.chainSteps(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Steps = steps
	return &c, nil
}

func (r *repository) chainSteps(ctx context.Context, chainID uuid.UUID) ([]Step, error) {
	rows, err := r.db.Query(ctx, `SELECT id, chain_id, sequence, required_role, state, decided_by, decided_at, note
FROM approval_steps WHERE chain_id = $1 ORDER BY sequence ASC`, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var s Step
		if err := rows.Scan(&s.ID, &s.ChainID, &s.Sequence, &s.RequiredRole, &s.State, &s.DecidedBy, &s.DecidedAt, &s.Note); err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func (r *repository) ActiveChainForDocument(ctx context.Context, docType DocumentType, documentID uuid.UUID) (*Chain, error) {
	var chainID uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT id FROM approval_chains
WHERE document_type = $1 AND document_id = $2 AND status = $3`, docType, documentID, ChainStatusActive).Scan(&chainID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r.GetChain(ctx, chainID)
}

func (r *repository) CreateChain(ctx context.Context, chain Chain) error {
	_, err := r.db.Exec(ctx, `INSERT INTO approval_chains (id, document_type, document_id, template_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`, chain.ID, chain.DocumentType, chain.DocumentID, chain.TemplateID, chain.Status)
	if err != nil {
		return fmt.Errorf("insert chain: %w", err)
	}
	for _, s := range chain.Steps {
		_, err := r.db.Exec(ctx, `INSERT INTO approval_steps (id, chain_id, sequence, required_role, state, note)
VALUES ($1, $2, $3, $4, $5, $6)`, s.ID, s.ChainID, s.Sequence, s.RequiredRole, s.State, s.Note)
		if err != nil {
			return fmt.Errorf("insert step %d: %w", s.Sequence, err)
		}
	}
	return nil
}

func (r *repository) UpdateStep(ctx context.Context, step Step) error {
	tag, err := r.db.Exec(ctx, `UPDATE approval_steps SET state = $1, decided_by = $2, decided_at = $3, note = $4
WHERE id = $5`, step.State, step.DecidedBy, step.DecidedAt, step.Note, step.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStepNotFound
	}
	return nil
}

func (r *repository) UpdateChainStatus(ctx context.Context, chainID uuid.UUID, status ChainStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE approval_chains SET status = $1, updated_at = NOW() WHERE id = $2`, status, chainID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) GetTemplate(ctx context.Context, templateID uuid.UUID) (*Template, error) {
	var t Template
	err := r.db.QueryRow(ctx, `SELECT id, name, document_type, created_at, updated_at
FROM approval_chain_templates WHERE id = $1`, templateID).
		Scan(&t.ID, &t.Name, &t.DocumentType, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	steps, err := r.templateSteps(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.Steps = steps
	return &t, nil
}

func (r *repository) templateSteps(ctx context.Context, templateID uuid.UUID) ([]TemplateStep, error) {
	rows, err := r.db.Query(ctx, `SELECT sequence, required_role
FROM approval_chain_template_steps WHERE template_id = $1 ORDER BY sequence ASC`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []TemplateStep
	for rows.Next() {
		var s TemplateStep
		if err := rows.Scan(&s.Sequence, &s.RequiredRole); err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func (r *repository) ListTemplates(ctx context.Context, docType DocumentType) ([]Template, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, document_type, created_at, updated_at
FROM approval_chain_templates WHERE ($1 = '' OR document_type = $1) ORDER BY name ASC`, string(docType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.Name, &t.DocumentType, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range templates {
		steps, err := r.templateSteps(ctx, templates[i].ID)
		if err != nil {
			return nil, err
		}
		templates[i].Steps = steps
	}
	return templates, nil
}

func (r *repository) CreateTemplate(ctx context.Context, tmpl Template) error {
	_, err := r.db.Exec(ctx, `INSERT INTO approval_chain_templates (id, name, document_type, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW())`, tmpl.ID, tmpl.Name, tmpl.DocumentType)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	for _, s := range tmpl.Steps {
		_, err := r.db.Exec(ctx, `INSERT INTO approval_chain_template_steps (template_id, sequence, required_role)
VALUES ($1, $2, $3)`, tmpl.ID, s.Sequence, s.RequiredRole)
		if err != nil {
			return fmt.Errorf("insert template step %d: %w", s.Sequence, err)
		}
	}
	return nil
}

func (r *repository) AppendAudit(ctx context.Context, entry audit.Entry) error {
	return audit.Append(ctx, r.db, entry)
}
