// Package audit implements the append-only trail of lifecycle transitions.
// Entries are written through the same transaction as the state change they
// describe; only committed transitions ever appear in the trail.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Entry represents a record stored in audit_logs.
type Entry struct {
	ID          int64
	EntityType  string
	EntityID    uuid.UUID
	Action      string
	ActorUserID int64
	Before      map[string]any
	After       map[string]any
	At          time.Time
}

// DBTX is the minimal execution surface Append needs. Both pgxpool.Pool and
// pgx.Tx satisfy it, so repositories append through whichever handle their
// transaction is bound to.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Append inserts one audit entry. The audit_logs table carries no UPDATE or
// DELETE grants, so immutability is enforced at the storage layer as well.
func Append(ctx context.Context, db DBTX, e Entry) error {
	if e.EntityType == "" || e.EntityID == uuid.Nil || e.Action == "" {
		return errors.New("audit: entry requires entity_type/entity_id/action")
	}
	beforeJSON, err := json.Marshal(e.Before)
	if err != nil {
		return err
	}
	afterJSON, err := json.Marshal(e.After)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `INSERT INTO audit_logs (entity_type, entity_id, action, actor_user_id, before_state, after_state, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE(NULLIF($7, '0001-01-01 00:00:00+00'::timestamptz), NOW()))`,
		e.EntityType, e.EntityID, e.Action, e.ActorUserID, beforeJSON, afterJSON, e.At)
	return err
}
