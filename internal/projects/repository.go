package projects

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelier-erp/atelier/internal/shared"
)

// ErrNotFound indicates the project does not exist.
var ErrNotFound = fmt.Errorf("%w: project", shared.ErrNotFound)

// Repository provides project persistence.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Project, error)
	Create(ctx context.Context, p Project) error
	List(ctx context.Context, limit, offset int) ([]Project, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the postgres-backed project store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Project, error) {
	var p Project
	err := r.pool.QueryRow(ctx, `SELECT id, name, status, current_accepted_quotation_id, created_by, created_at, updated_at
FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Status, &p.CurrentAcceptedQuotationID, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) Create(ctx context.Context, p Project) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO projects (id, name, status, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW())`, p.ID, p.Name, p.Status, p.CreatedBy)
	return err
}

func (r *repository) List(ctx context.Context, limit, offset int) ([]Project, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, status, current_accepted_quotation_id, created_by, created_at, updated_at
FROM projects ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.CurrentAcceptedQuotationID, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
