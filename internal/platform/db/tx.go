package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelier-erp/atelier/internal/shared"
)

// WithTx executes a function within a transaction using the RepeatableRead
// isolation level. Every multi-row lifecycle transition runs through here so
// that audit rows commit, or roll back, together with the state they describe.
// Serialization failures and deadlocks surface as shared.ErrContention so
// callers can retry the whole transaction.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return markContention(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return markContention(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

// markContention wraps serialization failures (SQLSTATE 40001) and deadlocks
// (40P01) with shared.ErrContention, leaving every other error untouched.
func markContention(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", shared.ErrContention, err)
		}
	}
	return err
}
