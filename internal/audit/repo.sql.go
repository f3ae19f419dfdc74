package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the postgres-backed timeline reader.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Timeline(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error) {
	query := `SELECT id, entity_type, entity_id, action, actor_user_id, before_state, after_state, occurred_at
FROM audit_logs WHERE 1=1`
	var args []any
	argPos := 1

	if filters.EntityType != "" {
		query += fmt.Sprintf(" AND entity_type = $%d", argPos)
		args = append(args, filters.EntityType)
		argPos++
	}
	if filters.EntityID != uuid.Nil {
		query += fmt.Sprintf(" AND entity_id = $%d", argPos)
		args = append(args, filters.EntityID)
		argPos++
	}
	if filters.Actor != 0 {
		query += fmt.Sprintf(" AND actor_user_id = $%d", argPos)
		args = append(args, filters.Actor)
		argPos++
	}
	if !filters.From.IsZero() {
		query += fmt.Sprintf(" AND occurred_at >= $%d", argPos)
		args = append(args, filters.From)
		argPos++
	}
	if !filters.To.IsZero() {
		query += fmt.Sprintf(" AND occurred_at <= $%d", argPos)
		args = append(args, filters.To)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY occurred_at ASC, id ASC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var beforeJSON, afterJSON []byte
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.ActorUserID, &beforeJSON, &afterJSON, &e.At); err != nil {
			return nil, err
		}
		if len(beforeJSON) > 0 {
			if err := json.Unmarshal(beforeJSON, &e.Before); err != nil {
				return nil, err
			}
		}
		if len(afterJSON) > 0 {
			if err := json.Unmarshal(afterJSON, &e.After); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
