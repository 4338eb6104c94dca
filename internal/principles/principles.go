// Package principles implements the self-learning heuristic rules that
// nudge signal confidence up or down based on their track record of being
// validated versus invalidated by outcomes.
package principles

import (
	"context"
	"database/sql"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/store"
)

const adjustmentClip = 0.15

// Engine matches principles to a signal's context and scores their net effect.
type Engine struct {
	store *store.Store
	log   zerolog.Logger
}

func New(s *store.Store, log zerolog.Logger) *Engine {
	return &Engine{store: s, log: log.With().Str("component", "principles").Logger()}
}

// SignalContext is the subset of a signal/thesis relevant to matching.
type SignalContext struct {
	Symbol string
	Domain string
	Action domain.SignalAction
}

// MatchPrinciples returns every active principle whose statement
// mentions the symbol, domain, or action (simple substring match, the
// same heuristic the original keyword-matches against free text).
func (e *Engine) MatchPrinciples(ctx context.Context, sc SignalContext) ([]domain.Principle, error) {
	rows, err := e.store.Query(ctx, `SELECT id, statement, weight, validated, invalidated, active, created_at, updated_at FROM principles WHERE active = 1`)
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	defer rows.Close()

	var matched []domain.Principle
	for rows.Next() {
		var p domain.Principle
		var createdAt, updatedAt string
		var active int
		if err := rows.Scan(&p.ID, &p.Statement, &p.Weight, &p.Validated, &p.Invalidated, &active, &createdAt, &updatedAt); err != nil {
			return nil, domain.NewStoreError(err.Error())
		}
		p.Active = active == 1
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

		stmt := strings.ToLower(p.Statement)
		if strings.Contains(stmt, strings.ToLower(sc.Symbol)) ||
			(sc.Domain != "" && strings.Contains(stmt, strings.ToLower(sc.Domain))) ||
			strings.Contains(stmt, strings.ToLower(string(sc.Action))) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

// ApplyToScore computes the net confidence adjustment contributed by a
// set of matched principles:
//
//	adjustment = clip(sum(weight * tanh((validated - invalidated) / (validated + invalidated + 1))), -0.15, 0.15)
func (e *Engine) ApplyToScore(principles []domain.Principle) float64 {
	var sum float64
	for _, p := range principles {
		denom := float64(p.Validated + p.Invalidated + 1)
		sum += p.Weight * math.Tanh(float64(p.Validated-p.Invalidated)/denom)
	}
	if sum > adjustmentClip {
		return adjustmentClip
	}
	if sum < -adjustmentClip {
		return -adjustmentClip
	}
	return sum
}

// RecordOutcome increments a principle's validated or invalidated counter.
func (e *Engine) RecordOutcome(ctx context.Context, id int64, validated bool) error {
	col := "invalidated"
	if validated {
		col = "validated"
	}
	_, err := e.store.Exec(ctx, `UPDATE principles SET `+col+` = `+col+` + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return domain.NewStoreError(err.Error())
	}
	return e.DeactivateIfPoor(ctx, id)
}

// DeactivateIfPoor turns off a principle whose track record has become
// net-negative enough to distrust: invalidated >= 5 and invalidated >
// validated + 1.
func (e *Engine) DeactivateIfPoor(ctx context.Context, id int64) error {
	var validated, invalidated int
	err := e.store.QueryRow(ctx, `SELECT validated, invalidated FROM principles WHERE id = ?`, id).Scan(&validated, &invalidated)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return domain.NewStoreError(err.Error())
	}
	if invalidated >= 5 && invalidated > validated+1 {
		_, err := e.store.Exec(ctx, `UPDATE principles SET active = 0, updated_at = ? WHERE id = ?`, time.Now().UTC().Format(time.RFC3339), id)
		if err != nil {
			return domain.NewStoreError(err.Error())
		}
	}
	return nil
}

// Create inserts a new active principle.
func (e *Engine) Create(ctx context.Context, statement string, weight float64) (domain.Principle, error) {
	now := time.Now().UTC()
	res, err := e.store.Exec(ctx,
		`INSERT INTO principles (statement, weight, validated, invalidated, active, created_at, updated_at) VALUES (?,?,0,0,1,?,?)`,
		statement, weight, now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return domain.Principle{}, domain.NewStoreError(err.Error())
	}
	id, _ := res.LastInsertId()
	return domain.Principle{ID: id, Statement: statement, Weight: weight, Active: true, CreatedAt: now, UpdatedAt: now}, nil
}
