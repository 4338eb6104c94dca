// Package whatif tracks the hypothetical outcome of signals that were
// rejected or ignored, so the system can learn whether those decisions
// were correct. Grounded on engine/whatif.py.
package whatif

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/pricing"
	"github.com/moneymoves/engine/internal/store"
)

// Summary is aggregate accuracy/opportunity-cost metrics across all
// tracked what-ifs.
type Summary struct {
	PassAccuracy       float64
	RejectAccuracy     float64
	IgnoreCost         float64
	EngagementQuality  float64
	TotalTracked       int
}

// Engine records and updates hypothetical P/L for passed-on signals.
type Engine struct {
	store   *store.Store
	pricing *pricing.Service
	log     zerolog.Logger
}

func New(s *store.Store, p *pricing.Service, log zerolog.Logger) *Engine {
	return &Engine{store: s, pricing: p, log: log.With().Str("component", "whatif").Logger()}
}

// RecordPass records a rejected or ignored signal for what-if tracking, at
// the market price observed at the moment of the decision.
func (e *Engine) RecordPass(ctx context.Context, signalID int64, decision string, priceAtPass float64) error {
	if decision != "rejected" && decision != "ignored" {
		return domain.NewValidationError("decision must be 'rejected' or 'ignored', got " + decision)
	}
	_, err := e.store.Exec(ctx,
		`INSERT INTO what_ifs (signal_id, decision, price_at_pass, current_price, pnl, pnl_pct, updated_at) VALUES (?,?,?,?,?,?,?)`,
		signalID, decision, priceAtPass, 0.0, 0.0, 0.0, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return domain.NewStoreError(err.Error())
	}
	return nil
}

// UpdateAll refreshes current prices and hypothetical P/L for every
// tracked what-if, returning the number of rows updated.
func (e *Engine) UpdateAll(ctx context.Context) (int, error) {
	rows, err := e.store.Query(ctx,
		`SELECT w.id, w.price_at_pass, s.symbol, s.action FROM what_ifs w JOIN signals s ON w.signal_id = s.id`)
	if err != nil {
		return 0, domain.NewStoreError(err.Error())
	}
	type row struct {
		id          int64
		priceAtPass float64
		symbol      string
		action      domain.SignalAction
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.priceAtPass, &r.symbol, &r.action); err != nil {
			rows.Close()
			return 0, domain.NewStoreError(err.Error())
		}
		all = append(all, r)
	}
	rows.Close()

	updated := 0
	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range all {
		result, err := e.pricing.GetPrice(ctx, r.symbol)
		if err != nil || result.Err != nil || result.Price == 0 {
			continue
		}
		pnl, pnlPct := computeHypotheticalPnl(r.action, r.priceAtPass, result.Price)
		_, err = e.store.Exec(ctx,
			`UPDATE what_ifs SET current_price = ?, pnl = ?, pnl_pct = ?, updated_at = ? WHERE id = ?`,
			result.Price, pnl, pnlPct, now, r.id)
		if err != nil {
			e.log.Warn().Err(err).Int64("id", r.id).Msg("failed to update what-if")
			continue
		}
		updated++
	}
	return updated, nil
}

func computeHypotheticalPnl(action domain.SignalAction, entryPrice, currentPrice float64) (float64, float64) {
	var pnl float64
	switch action {
	case domain.ActionBuy, domain.ActionCover:
		pnl = currentPrice - entryPrice
	default: // SELL, SHORT
		pnl = entryPrice - currentPrice
	}
	var pnlPct float64
	if entryPrice > 0 {
		pnlPct = pnl / entryPrice
	}
	return pnl, pnlPct
}

// GetSummary computes aggregate accuracy and opportunity-cost metrics
// across every tracked what-if that has been priced at least once.
func (e *Engine) GetSummary(ctx context.Context) (Summary, error) {
	rows, err := e.store.Query(ctx, `SELECT decision, pnl, pnl_pct FROM what_ifs WHERE current_price != 0`)
	if err != nil {
		return Summary{}, domain.NewStoreError(err.Error())
	}
	type entry struct {
		decision string
		pnl      float64
		pnlPct   float64
	}
	var all []entry
	for rows.Next() {
		var e2 entry
		if err := rows.Scan(&e2.decision, &e2.pnl, &e2.pnlPct); err != nil {
			rows.Close()
			return Summary{}, domain.NewStoreError(err.Error())
		}
		all = append(all, e2)
	}
	rows.Close()

	if len(all) == 0 {
		return Summary{}, nil
	}

	var rejected, ignored []entry
	for _, e2 := range all {
		switch e2.decision {
		case "rejected":
			rejected = append(rejected, e2)
		case "ignored":
			ignored = append(ignored, e2)
		}
	}

	var rejectAccuracy float64
	if len(rejected) > 0 {
		correct := 0
		for _, e2 := range rejected {
			if e2.pnl <= 0 {
				correct++
			}
		}
		rejectAccuracy = float64(correct) / float64(len(rejected))
	}

	correctPasses := 0
	for _, e2 := range all {
		if e2.pnl <= 0 {
			correctPasses++
		}
	}
	passAccuracy := float64(correctPasses) / float64(len(all))

	var ignoreCost float64
	if len(ignored) > 0 {
		var sum float64
		for _, e2 := range ignored {
			sum += e2.pnlPct
		}
		ignoreCost = sum / float64(len(ignored))
	}

	var engagementQuality float64
	if len(rejected) > 0 && len(ignored) > 0 {
		correctIgnores := 0
		for _, e2 := range ignored {
			if e2.pnl <= 0 {
				correctIgnores++
			}
		}
		ignoreAccuracy := float64(correctIgnores) / float64(len(ignored))
		engagementQuality = rejectAccuracy - ignoreAccuracy
	}

	return Summary{
		PassAccuracy:      passAccuracy,
		RejectAccuracy:    rejectAccuracy,
		IgnoreCost:        ignoreCost,
		EngagementQuality: engagementQuality,
		TotalTracked:      len(all),
	}, nil
}

// ListWhatIfs returns what-if records joined with their signal's symbol and
// action, optionally filtered by decision, most recent first.
func (e *Engine) ListWhatIfs(ctx context.Context, decision string) ([]domain.WhatIf, error) {
	query := `SELECT w.id, w.signal_id, w.decision, w.price_at_pass, w.current_price, w.pnl, w.pnl_pct, w.updated_at
	          FROM what_ifs w JOIN signals s ON w.signal_id = s.id`
	var rows *sql.Rows
	var err error
	if decision != "" {
		rows, err = e.store.Query(ctx, query+` WHERE w.decision = ? ORDER BY w.id DESC`, decision)
	} else {
		rows, err = e.store.Query(ctx, query+` ORDER BY w.id DESC`)
	}
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	defer rows.Close()

	var out []domain.WhatIf
	for rows.Next() {
		var w domain.WhatIf
		var updatedAt string
		if err := rows.Scan(&w.ID, &w.SignalID, &w.Decision, &w.PriceAtPass, &w.CurrentPrice, &w.Pnl, &w.PnlPct, &updatedAt); err != nil {
			return nil, domain.NewStoreError(err.Error())
		}
		w.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, w)
	}
	return out, nil
}
