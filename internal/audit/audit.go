// Package audit is the append-only log of every state change the engine
// makes: who (actor type + name), what (action), on which entity, and a
// free-form detail string. Rows are never updated or deleted.
package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/store"
)

// Log is the audit writer/reader.
type Log struct {
	store *store.Store
}

func New(s *store.Store) *Log {
	return &Log{store: s}
}

// Write appends a row outside of any caller transaction.
func (l *Log) Write(ctx context.Context, actorType domain.ActorType, actor, action, entityType string, entityID *int64, detail string) error {
	_, err := l.store.Exec(ctx,
		`INSERT INTO audit_log (actor_type, actor, action, entity_type, entity_id, detail, created_at) VALUES (?,?,?,?,?,?,?)`,
		actorType, actor, action, entityType, entityID, detail, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// WriteTx appends a row as part of an already-open transaction, so the
// audit entry commits or rolls back atomically with the write it describes.
func (l *Log) WriteTx(tx *sql.Tx, actorType domain.ActorType, actor, action string, entityType string, entityID int64, detail string) error {
	_, err := tx.Exec(
		`INSERT INTO audit_log (actor_type, actor, action, entity_type, entity_id, detail, created_at) VALUES (?,?,?,?,?,?,?)`,
		actorType, actor, action, entityType, entityID, detail, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// List returns audit rows in chronological order, most recent last,
// bounded by limit (0 means unbounded).
func (l *Log) List(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	query := `SELECT id, actor_type, actor, action, entity_type, entity_id, detail, created_at FROM audit_log ORDER BY id ASC`
	if limit > 0 {
		query += " LIMIT ?"
	}

	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = l.store.Query(ctx, query, limit)
	} else {
		rows, err = l.store.Query(ctx, query)
	}
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	defer rows.Close()

	var out []domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		var createdAt string
		var entityID sql.NullInt64
		if err := rows.Scan(&a.ID, &a.ActorType, &a.Actor, &a.Action, &a.EntityType, &entityID, &a.Detail, &createdAt); err != nil {
			return nil, domain.NewStoreError(err.Error())
		}
		if entityID.Valid {
			id := entityID.Int64
			a.EntityID = &id
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, a)
	}
	return out, nil
}
