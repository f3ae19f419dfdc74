package invoices

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

// Repository provides invoice persistence. Budget reads and document writes
// run against the same transaction handle so the remaining-amount check and
// the insert it guards cannot interleave with a concurrent creation.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	LockProject(ctx context.Context, projectID uuid.UUID) error

	Get(ctx context.Context, id uuid.UUID) (*Invoice, error)
	Create(ctx context.Context, inv Invoice) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus) error
	AddPayment(ctx context.Context, p Payment) error
	ListByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]Invoice, error)

	// InvoicedAmountByProduct sums line amounts per product across all
	// budget-consuming (non-cancelled) invoices of the project.
	InvoicedAmountByProduct(ctx context.Context, projectID uuid.UUID) (map[uuid.UUID]float64, error)

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

// NewRepository returns the postgres-backed invoice store.
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
		return errors.New("invoices: project lock requires a transaction")
	}
	return db.TryAdvisoryLock(ctx, r.tx, db.LockNamespaceProject, projectID)
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	var inv Invoice
	err := r.db.QueryRow(ctx, `SELECT id, project_id, source_quotation_id, source_quotation_revision, status, created_by, created_at, updated_at
FROM invoices WHERE id = $1`, id).
		Scan(&inv.ID, &inv.ProjectID, &inv.SourceQuotationID, &inv.SourceQuotationRevision, &inv.Status, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if inv.Lines, err = r.lines(ctx, id); err != nil {
		return nil, err
	}
	if inv.Payments, err = r.payments(ctx, id); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repository) lines(ctx context.Context, invoiceID uuid.UUID) ([]InvoiceLine, error) {
	rows, err := r.db.Query(ctx, `SELECT id, invoice_id, product_id, quantity, unit_price
FROM invoice_lines WHERE invoice_id = $1 ORDER BY id ASC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []InvoiceLine
	for rows.Next() {
		var l InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *repository) payments(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error) {
	rows, err := r.db.Query(ctx, `SELECT id, invoice_id, amount, paid_at, recorded_by
FROM invoice_payments WHERE invoice_id = $1 ORDER BY id ASC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.PaidAt, &p.RecordedBy); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *repository) Create(ctx context.Context, inv Invoice) error {
	_, err := r.db.Exec(ctx, `INSERT INTO invoices (id, project_id, source_quotation_id, source_quotation_revision, status, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		inv.ID, inv.ProjectID, inv.SourceQuotationID, inv.SourceQuotationRevision, inv.Status, inv.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	for _, l := range inv.Lines {
		_, err := r.db.Exec(ctx, `INSERT INTO invoice_lines (invoice_id, product_id, quantity, unit_price)
VALUES ($1, $2, $3, $4)`, inv.ID, l.ProductID, l.Quantity, l.UnitPrice)
		if err != nil {
			return fmt.Errorf("insert invoice line: %w", err)
		}
	}
	return nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE invoices SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) AddPayment(ctx context.Context, p Payment) error {
	_, err := r.db.Exec(ctx, `INSERT INTO invoice_payments (invoice_id, amount, paid_at, recorded_by)
VALUES ($1, $2, $3, $4)`, p.InvoiceID, p.Amount, p.PaidAt, p.RecordedBy)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *repository) ListByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]Invoice, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `SELECT id FROM invoices WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
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

	var out []Invoice
	for _, id := range ids {
		inv, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, nil
}

func (r *repository) InvoicedAmountByProduct(ctx context.Context, projectID uuid.UUID) (map[uuid.UUID]float64, error) {
	rows, err := r.db.Query(ctx, `SELECT l.product_id, COALESCE(SUM(l.quantity * l.unit_price), 0)
FROM invoice_lines l
JOIN invoices i ON i.id = l.invoice_id
WHERE i.project_id = $1 AND i.status <> $2
GROUP BY l.product_id`, projectID, InvoiceStatusCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := make(map[uuid.UUID]float64)
	for rows.Next() {
		var productID uuid.UUID
		var amount float64
		if err := rows.Scan(&productID, &amount); err != nil {
			return nil, err
		}
		sums[productID] = amount
	}
	return sums, rows.Err()
}

func (r *repository) AppendAudit(ctx context.Context, entry audit.Entry) error {
	return audit.Append(ctx, r.db, entry)
}
