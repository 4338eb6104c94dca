// Package tradingwindow enforces time-based trading restrictions (employee
// trading windows, earnings windows entered manually) against the
// trading_windows table. Grounded on engine/trading_windows.py's
// TradingWindowManager.
package tradingwindow

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/store"
)

// Manager answers whether a symbol may currently be traded.
type Manager struct {
	store *store.Store
	log   zerolog.Logger
}

func New(s *store.Store, log zerolog.Logger) *Manager {
	return &Manager{store: s, log: log.With().Str("component", "tradingwindow").Logger()}
}

// IsAllowed reports whether symbol may trade right now: true if it has no
// configured windows at all, or if now falls within at least one of them.
func (m *Manager) IsAllowed(ctx context.Context, symbol string) (bool, error) {
	rows, err := m.store.Query(ctx, `SELECT opens_at, closes_at FROM trading_windows WHERE symbol = ?`, symbol)
	if err != nil {
		return false, domain.NewStoreError(err.Error())
	}
	defer rows.Close()

	now := time.Now().UTC()
	var any bool
	for rows.Next() {
		any = true
		var opensAt, closesAt string
		if err := rows.Scan(&opensAt, &closesAt); err != nil {
			return false, domain.NewStoreError(err.Error())
		}
		opens, oerr := time.Parse(time.RFC3339, opensAt)
		closes, cerr := time.Parse(time.RFC3339, closesAt)
		if oerr != nil || cerr != nil {
			continue
		}
		if !now.Before(opens) && !now.After(closes) {
			return true, nil
		}
	}
	if !any {
		return true, nil
	}
	return false, nil
}

// Windows returns trading windows, optionally filtered by symbol.
func (m *Manager) Windows(ctx context.Context, symbol string) ([]domain.TradingWindow, error) {
	var rows *sql.Rows
	var err error
	if symbol != "" {
		rows, err = m.store.Query(ctx, `SELECT id, symbol, opens_at, closes_at, reason FROM trading_windows WHERE symbol = ? ORDER BY opens_at`, symbol)
	} else {
		rows, err = m.store.Query(ctx, `SELECT id, symbol, opens_at, closes_at, reason FROM trading_windows ORDER BY symbol, opens_at`)
	}
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	defer rows.Close()

	var out []domain.TradingWindow
	for rows.Next() {
		var w domain.TradingWindow
		var opensAt, closesAt string
		if err := rows.Scan(&w.ID, &w.Symbol, &opensAt, &closesAt, &w.Reason); err != nil {
			return nil, domain.NewStoreError(err.Error())
		}
		w.OpensAt, _ = time.Parse(time.RFC3339, opensAt)
		w.ClosesAt, _ = time.Parse(time.RFC3339, closesAt)
		out = append(out, w)
	}
	return out, nil
}

// NextWindowClose returns the closing time and reason of the next
// currently-open window for symbol, or nil if none is open.
func (m *Manager) NextWindowClose(ctx context.Context, symbol string) (*domain.TradingWindow, error) {
	now := time.Now().UTC()
	rows, err := m.store.Query(ctx,
		`SELECT id, symbol, opens_at, closes_at, reason FROM trading_windows WHERE symbol = ? AND opens_at <= ? AND closes_at >= ? ORDER BY closes_at ASC LIMIT 1`,
		symbol, now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	var w domain.TradingWindow
	var opensAt, closesAt string
	if err := rows.Scan(&w.ID, &w.Symbol, &opensAt, &closesAt, &w.Reason); err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	w.OpensAt, _ = time.Parse(time.RFC3339, opensAt)
	w.ClosesAt, _ = time.Parse(time.RFC3339, closesAt)
	return &w, nil
}

// AddWindow inserts a new trading window.
func (m *Manager) AddWindow(ctx context.Context, symbol string, opensAt, closesAt time.Time, reason string) (int64, error) {
	res, err := m.store.Exec(ctx,
		`INSERT INTO trading_windows (symbol, opens_at, closes_at, reason) VALUES (?,?,?,?)`,
		symbol, opensAt.Format(time.RFC3339), closesAt.Format(time.RFC3339), reason)
	if err != nil {
		return 0, domain.NewStoreError(err.Error())
	}
	id, _ := res.LastInsertId()
	return id, nil
}
