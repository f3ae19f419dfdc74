package deliveries

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

// Repository provides delivery persistence. The remaining-quantity ledger is
// read under the same transaction that inserts the delivery it guards.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	LockProject(ctx context.Context, projectID uuid.UUID) error

	Get(ctx context.Context, id uuid.UUID) (*Delivery, error)
	Create(ctx context.Context, d Delivery) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status DeliveryStatus) error
	ListByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]Delivery, error)

	// DeliveredQuantityByProduct sums quantities per product across all
	// quantity-consuming (non-returned) deliveries of the project.
	DeliveredQuantityByProduct(ctx context.Context, projectID uuid.UUID) (map[uuid.UUID]float64, error)

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

// NewRepository returns the postgres-backed delivery store.
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
		return errors.New("deliveries: project lock requires a transaction")
	}
	return db.TryAdvisoryLock(ctx, r.tx, db.LockNamespaceProject, projectID)
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	var d Delivery
	err := r.db.QueryRow(ctx, `SELECT id, project_id, source_quotation_id, source_quotation_revision, status, created_by, created_at, updated_at
FROM deliveries WHERE id = $1`, id).
		Scan(&d.ID, &d.ProjectID, &d.SourceQuotationID, &d.SourceQuotationRevision, &d.Status, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if d.Lines, err = r.lines(ctx, id); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repository) lines(ctx context.Context, deliveryID uuid.UUID) ([]DeliveryLine, error) {
	rows, err := r.db.Query(ctx, `SELECT id, delivery_id, product_id, quantity
FROM delivery_lines WHERE delivery_id = $1 ORDER BY id ASC`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []DeliveryLine
	for rows.Next() {
		var l DeliveryLine
		if err := rows.Scan(&l.ID, &l.DeliveryID, &l.ProductID, &l.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *repository) Create(ctx context.Context, d Delivery) error {
	_, err := r.db.Exec(ctx, `INSERT INTO deliveries (id, project_id, source_quotation_id, source_quotation_revision, status, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		d.ID, d.ProjectID, d.SourceQuotationID, d.SourceQuotationRevision, d.Status, d.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	for _, l := range d.Lines {
		_, err := r.db.Exec(ctx, `INSERT INTO delivery_lines (delivery_id, product_id, quantity)
VALUES ($1, $2, $3)`, d.ID, l.ProductID, l.Quantity)
		if err != nil {
			return fmt.Errorf("insert delivery line: %w", err)
		}
	}
	return nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status DeliveryStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE deliveries SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) ListByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]Delivery, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `SELECT id FROM deliveries WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		projectID, limit, offset)
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

	var out []Delivery
	for _, id := range ids {
		d, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (r *repository) DeliveredQuantityByProduct(ctx context.Context, projectID uuid.UUID) (map[uuid.UUID]float64, error) {
	rows, err := r.db.Query(ctx, `SELECT l.product_id, COALESCE(SUM(l.quantity), 0)
FROM delivery_lines l
JOIN deliveries d ON d.id = l.delivery_id
WHERE d.project_id = $1 AND d.status <> $2
GROUP BY l.product_id`, projectID, DeliveryStatusReturned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := make(map[uuid.UUID]float64)
	for rows.Next() {
		var productID uuid.UUID
		var qty float64
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		sums[productID] = qty
	}
	return sums, rows.Err()
}

func (r *repository) AppendAudit(ctx context.Context, entry audit.Entry) error {
	return audit.Append(ctx, r.db, entry)
}
