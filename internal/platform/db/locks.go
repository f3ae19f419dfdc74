package db

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/atelier-erp/atelier/internal/shared"
)

// Advisory lock namespaces. The key of an advisory lock is (namespace, hash of
// the entity id), which serialises concurrent transitions touching the same
// project budget or approval chain.
const (
	LockNamespaceProject int32 = 1
	LockNamespaceChain   int32 = 2
)

// lockKey folds a uuid into the 32-bit half of an advisory lock key.
func lockKey(id uuid.UUID) int32 {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return int32(h.Sum32())
}

// TryAdvisoryLock attempts a transaction-scoped advisory lock without
// blocking. It returns shared.ErrContention when the lock is held elsewhere;
// the holder releases it at commit or rollback.
func TryAdvisoryLock(ctx context.Context, tx pgx.Tx, namespace int32, id uuid.UUID) error {
	var acquired bool
	err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1, $2)`, namespace, lockKey(id)).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("platform/db: advisory lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("%w: lock %d/%d held by another transaction", shared.ErrContention, namespace, lockKey(id))
	}
	return nil
}
