// Package thesis implements the Thesis state machine: creation, status
// transitions with a versioned history row per change, and symbol
// management. Grounded on the state-machine shape described by
// engine/core.py's thesis status checks and the version-log pattern used
// throughout the original system's audit trail.
package thesis

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/moneymoves/engine/internal/audit"
	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/store"
)

// transitions is the allowed status DAG. A transition not present here is
// rejected as a state conflict.
var transitions = map[domain.ThesisStatus][]domain.ThesisStatus{
	domain.ThesisDraft:        {domain.ThesisActive, domain.ThesisArchived},
	domain.ThesisActive:       {domain.ThesisStrengthening, domain.ThesisWeakening, domain.ThesisInvalidated, domain.ThesisArchived},
	domain.ThesisStrengthening: {domain.ThesisConfirmed, domain.ThesisWeakening, domain.ThesisActive, domain.ThesisArchived},
	domain.ThesisConfirmed:    {domain.ThesisWeakening, domain.ThesisArchived},
	domain.ThesisWeakening:    {domain.ThesisActive, domain.ThesisStrengthening, domain.ThesisInvalidated, domain.ThesisArchived},
	domain.ThesisInvalidated:  {domain.ThesisArchived},
	domain.ThesisArchived:     {},
}

// Engine is the thesis CRUD + state machine.
type Engine struct {
	store *store.Store
	audit *audit.Log
	log   zerolog.Logger
}

func New(s *store.Store, auditLog *audit.Log, log zerolog.Logger) *Engine {
	return &Engine{store: s, audit: auditLog, log: log.With().Str("component", "thesis").Logger()}
}

// Create inserts a new thesis, DRAFT or ACTIVE, and writes its first version row.
func (e *Engine) Create(ctx context.Context, title string, symbols []string, status domain.ThesisStatus, domainName string) (domain.Thesis, error) {
	if status != domain.ThesisDraft && status != domain.ThesisActive {
		return domain.Thesis{}, domain.NewValidationError("initial thesis status must be DRAFT or ACTIVE")
	}

	var t domain.Thesis
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.Exec(
			`INSERT INTO theses (title, symbols, status, confidence_target, domain, notes, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?)`,
			title, strings.Join(dedupe(symbols), ","), status, 0.0, domainName, "", now.Format(time.RFC3339), now.Format(time.RFC3339),
		)
		if err != nil {
			return err
		}
		id, _ := res.LastInsertId()

		if _, err := tx.Exec(
			`INSERT INTO thesis_versions (thesis_id, status, reason, notes, created_at) VALUES (?,?,?,?,?)`,
			id, status, "created", "", now.Format(time.RFC3339),
		); err != nil {
			return err
		}

		t = domain.Thesis{ID: id, Title: title, Symbols: dedupe(symbols), Status: status, Domain: domainName, CreatedAt: now, UpdatedAt: now}
		return e.audit.WriteTx(tx, domain.ActorEngine, "thesis", "thesis_created", "thesis", id, title)
	})
	return t, err
}

// Get loads a thesis by id.
func (e *Engine) Get(ctx context.Context, id int64) (domain.Thesis, error) {
	var t domain.Thesis
	var symbolsRaw, createdAt, updatedAt string
	err := e.store.QueryRow(ctx,
		`SELECT id, title, symbols, status, confidence_target, domain, notes, created_at, updated_at FROM theses WHERE id = ?`, id,
	).Scan(&t.ID, &t.Title, &symbolsRaw, &t.Status, &t.ConfidenceTarget, &t.Domain, &t.Notes, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return domain.Thesis{}, domain.NewNotFoundError(fmt.Sprintf("thesis %d not found", id))
	}
	if err != nil {
		return domain.Thesis{}, domain.NewStoreError(err.Error())
	}
	t.SymbolsRaw = symbolsRaw
	t.Symbols = splitNonEmpty(symbolsRaw)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return t, nil
}

// Transition moves a thesis to a new status, recording the reason in a
// new ThesisVersion row. Invalid transitions return a state-conflict error.
func (e *Engine) Transition(ctx context.Context, id int64, newStatus domain.ThesisStatus, reason, notes string) error {
	cur, err := e.Get(ctx, id)
	if err != nil {
		return err
	}

	allowed := false
	for _, s := range transitions[cur.Status] {
		if s == newStatus {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.NewStateConflictError(fmt.Sprintf("cannot transition thesis from %s to %s", cur.Status, newStatus))
	}

	return e.store.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.Exec(`UPDATE theses SET status = ?, updated_at = ? WHERE id = ?`, newStatus, now.Format(time.RFC3339), id); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO thesis_versions (thesis_id, status, reason, notes, created_at) VALUES (?,?,?,?,?)`,
			id, newStatus, reason, notes, now.Format(time.RFC3339),
		); err != nil {
			return err
		}
		return e.audit.WriteTx(tx, domain.ActorEngine, "thesis", "thesis_transitioned", "thesis", id, fmt.Sprintf("%s -> %s: %s", cur.Status, newStatus, reason))
	})
}

// AddSymbols merges new symbols into the thesis's tracked universe,
// de-duplicated, preserving existing order.
func (e *Engine) AddSymbols(ctx context.Context, id int64, symbols []string) error {
	t, err := e.Get(ctx, id)
	if err != nil {
		return err
	}
	merged := dedupe(append(append([]string{}, t.Symbols...), symbols...))
	now := time.Now().UTC()
	_, err = e.store.Exec(ctx, `UPDATE theses SET symbols = ?, updated_at = ? WHERE id = ?`, strings.Join(merged, ","), now.Format(time.RFC3339), id)
	if err != nil {
		return domain.NewStoreError(err.Error())
	}
	return nil
}

// SetUniverseKeywords replaces a thesis's discovery keywords (the terms
// discovery.Engine.ScanUniverse matches against the static keyword map).
func (e *Engine) SetUniverseKeywords(ctx context.Context, id int64, keywords []string) error {
	return e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM thesis_universe_keywords WHERE thesis_id = ?`, id); err != nil {
			return err
		}
		for _, kw := range dedupe(keywords) {
			if _, err := tx.Exec(`INSERT INTO thesis_universe_keywords (thesis_id, keyword) VALUES (?, ?)`, id, kw); err != nil {
				return err
			}
		}
		return nil
	})
}

// Versions returns the full version history for a thesis, oldest first.
func (e *Engine) Versions(ctx context.Context, id int64) ([]domain.ThesisVersion, error) {
	rows, err := e.store.Query(ctx, `SELECT id, thesis_id, status, reason, notes, created_at FROM thesis_versions WHERE thesis_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	defer rows.Close()

	var out []domain.ThesisVersion
	for rows.Next() {
		var v domain.ThesisVersion
		var createdAt string
		if err := rows.Scan(&v.ID, &v.ThesisID, &v.Status, &v.Reason, &v.Notes, &createdAt); err != nil {
			return nil, domain.NewStoreError(err.Error())
		}
		v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, v)
	}
	return out, nil
}

// StaleSince returns theses ACTIVE with no update since cutoff, used by
// the scheduled stale-thesis check.
func (e *Engine) StaleSince(ctx context.Context, cutoff time.Time) ([]domain.Thesis, error) {
	rows, err := e.store.Query(ctx,
		`SELECT id, title, symbols, status, confidence_target, domain, notes, created_at, updated_at FROM theses WHERE status = ? AND COALESCE(updated_at, created_at) < ?`,
		domain.ThesisActive, cutoff.Format(time.RFC3339),
	)
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	defer rows.Close()

	var out []domain.Thesis
	for rows.Next() {
		var t domain.Thesis
		var symbolsRaw, createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.Title, &symbolsRaw, &t.Status, &t.ConfidenceTarget, &t.Domain, &t.Notes, &createdAt, &updatedAt); err != nil {
			return nil, domain.NewStoreError(err.Error())
		}
		t.Symbols = splitNonEmpty(symbolsRaw)
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, t)
	}
	return out, nil
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(strings.ToUpper(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func splitNonEmpty(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
