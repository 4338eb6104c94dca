// Package congress stores ingested congressional-trade disclosures and
// surfaces the ones overlapping a held position or an active thesis as
// low-confidence signal candidates. The scrape itself is out of scope;
// this package only consumes already-fetched trade records. Grounded on
// engine/congress.py's store_trades/check_overlap, trimmed to this
// engine's single-account scope.
package congress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/signal"
	"github.com/moneymoves/engine/internal/store"
)

// generatedConfidence is the flat confidence assigned to every signal
// generated from a congressional-trade overlap: low, since a disclosure
// lags the actual trade by weeks and carries no thesis of its own.
const generatedConfidence = 0.3

// Summary is aggregate congress-trade statistics.
type Summary struct {
	TotalTrades  int
	Overlapping  int
	NetBySymbol  map[string]int // +1 per buy, -1 per sell
	RecentBuys   []domain.CongressTrade
	RecentSells  []domain.CongressTrade
}

// Engine stores and screens congressional trade disclosures.
type Engine struct {
	store  *store.Store
	signal *signal.Engine
	log    zerolog.Logger
}

func New(s *store.Store, sig *signal.Engine, log zerolog.Logger) *Engine {
	return &Engine{store: s, signal: sig, log: log.With().Str("component", "congress").Logger()}
}

// RecordTrades inserts new trade disclosures, skipping ones already seen
// for the same politician/symbol/transaction date.
func (e *Engine) RecordTrades(ctx context.Context, trades []domain.CongressTrade) (int, error) {
	inserted := 0
	for _, t := range trades {
		res, err := e.store.Exec(ctx,
			`INSERT OR IGNORE INTO congress_trades (politician, symbol, transaction_type, amount_range, transaction_date, reported_date, source_url, processed)
			 VALUES (?,?,?,?,?,?,?,0)`,
			t.Politician, strings.ToUpper(t.Symbol), t.TransactionType, t.AmountRange,
			t.TransactionDate.Format("2006-01-02"), t.ReportedDate.Format("2006-01-02"), t.SourceURL,
		)
		if err != nil {
			return inserted, domain.NewStoreError(err.Error())
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// UnprocessedCandidates returns unprocessed "buy" trades overlapping a
// held position or a thesis symbol, the set that GenerateSignals screens
// into low-confidence CONGRESS_TRADE signals.
func (e *Engine) UnprocessedCandidates(ctx context.Context) ([]domain.CongressTrade, error) {
	overlap, err := e.overlapSymbols(ctx)
	if err != nil {
		return nil, err
	}
	if len(overlap) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(overlap))
	args := make([]any, 0, len(overlap)+1)
	args = append(args, "buy")
	for i, sym := range overlap {
		placeholders[i] = "?"
		args = append(args, sym)
	}
	query := fmt.Sprintf(
		`SELECT id, politician, symbol, transaction_type, amount_range, transaction_date, reported_date, source_url, processed
		 FROM congress_trades WHERE processed = 0 AND transaction_type = ? AND symbol IN (%s)`,
		strings.Join(placeholders, ","))

	rows, err := e.store.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	defer rows.Close()

	var out []domain.CongressTrade
	for rows.Next() {
		var c domain.CongressTrade
		var txDate, repDate string
		var processed int
		if err := rows.Scan(&c.ID, &c.Politician, &c.Symbol, &c.TransactionType, &c.AmountRange, &txDate, &repDate, &c.SourceURL, &processed); err != nil {
			return nil, domain.NewStoreError(err.Error())
		}
		c.TransactionDate, _ = time.Parse("2006-01-02", txDate)
		c.ReportedDate, _ = time.Parse("2006-01-02", repDate)
		c.Processed = processed == 1
		out = append(out, c)
	}
	return out, nil
}

// CheckOverlap returns every congress trade (processed or not) whose
// symbol overlaps a held position or an active/strengthening/confirmed
// thesis.
func (e *Engine) CheckOverlap(ctx context.Context) ([]domain.CongressTrade, error) {
	overlap, err := e.overlapSymbols(ctx)
	if err != nil {
		return nil, err
	}
	if len(overlap) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(overlap))
	args := make([]any, len(overlap))
	for i, sym := range overlap {
		placeholders[i] = "?"
		args[i] = sym
	}
	query := fmt.Sprintf(
		`SELECT id, politician, symbol, transaction_type, amount_range, transaction_date, reported_date, source_url, processed
		 FROM congress_trades WHERE symbol IN (%s) ORDER BY transaction_date DESC`,
		strings.Join(placeholders, ","))

	rows, err := e.store.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	defer rows.Close()

	var out []domain.CongressTrade
	for rows.Next() {
		var c domain.CongressTrade
		var txDate, repDate string
		var processed int
		if err := rows.Scan(&c.ID, &c.Politician, &c.Symbol, &c.TransactionType, &c.AmountRange, &txDate, &repDate, &c.SourceURL, &processed); err != nil {
			return nil, domain.NewStoreError(err.Error())
		}
		c.TransactionDate, _ = time.Parse("2006-01-02", txDate)
		c.ReportedDate, _ = time.Parse("2006-01-02", repDate)
		c.Processed = processed == 1
		out = append(out, c)
	}
	return out, nil
}

// GenerateSignals screens unprocessed overlapping buy trades into
// low-confidence CONGRESS_TRADE signals, one per trade, linking to a
// thesis when the symbol already has one active. Every candidate is
// marked processed whether or not it produced a signal, so a trade is
// never screened twice.
func (e *Engine) GenerateSignals(ctx context.Context) ([]domain.Signal, error) {
	candidates, err := e.UnprocessedCandidates(ctx)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	thesisMap, err := e.thesisSymbolMap(ctx)
	if err != nil {
		return nil, err
	}

	var signals []domain.Signal
	for _, c := range candidates {
		var thesisID *int64
		if id, ok := thesisMap[c.Symbol]; ok {
			thesisID = &id
		}
		reason := fmt.Sprintf("Congressional buy disclosure: %s bought %s (%s)", c.Politician, c.Symbol, c.AmountRange)
		sig, err := e.signal.Create(ctx, thesisID, c.Symbol, domain.ActionBuy, 0.0, generatedConfidence, domain.SourceCongress, reason)
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", c.Symbol).Msg("failed to generate congress-trade signal")
		} else {
			signals = append(signals, sig)
		}
		if err := e.MarkProcessed(ctx, c.ID); err != nil {
			return signals, err
		}
	}
	return signals, nil
}

// thesisSymbolMap maps each symbol covered by an active, strengthening,
// or confirmed thesis to that thesis's id.
func (e *Engine) thesisSymbolMap(ctx context.Context) (map[string]int64, error) {
	rows, err := e.store.Query(ctx, `SELECT id, symbols FROM theses WHERE status IN (?, ?, ?)`,
		domain.ThesisActive, domain.ThesisStrengthening, domain.ThesisConfirmed)
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, domain.NewStoreError(err.Error())
		}
		for _, sym := range strings.Split(raw, ",") {
			sym = strings.TrimSpace(sym)
			if sym != "" {
				out[sym] = id
			}
		}
	}
	return out, nil
}

// GetSummary returns aggregate trade counts and a net buy/sell tally per
// symbol across every recorded disclosure.
func (e *Engine) GetSummary(ctx context.Context) (Summary, error) {
	sum := Summary{NetBySymbol: map[string]int{}}

	err := e.store.QueryRow(ctx, `SELECT COUNT(*) FROM congress_trades`).Scan(&sum.TotalTrades)
	if err != nil {
		return Summary{}, domain.NewStoreError(err.Error())
	}

	overlap, err := e.CheckOverlap(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum.Overlapping = len(overlap)

	rows, err := e.store.Query(ctx, `SELECT politician, symbol, transaction_type, amount_range, transaction_date, reported_date, source_url, processed FROM congress_trades ORDER BY transaction_date DESC`)
	if err != nil {
		return Summary{}, domain.NewStoreError(err.Error())
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.CongressTrade
		var txDate, repDate string
		var processed int
		if err := rows.Scan(&c.Politician, &c.Symbol, &c.TransactionType, &c.AmountRange, &txDate, &repDate, &c.SourceURL, &processed); err != nil {
			return Summary{}, domain.NewStoreError(err.Error())
		}
		c.TransactionDate, _ = time.Parse("2006-01-02", txDate)
		c.ReportedDate, _ = time.Parse("2006-01-02", repDate)
		c.Processed = processed == 1

		switch c.TransactionType {
		case "buy":
			sum.NetBySymbol[c.Symbol]++
			if len(sum.RecentBuys) < 10 {
				sum.RecentBuys = append(sum.RecentBuys, c)
			}
		case "sell":
			sum.NetBySymbol[c.Symbol]--
			if len(sum.RecentSells) < 10 {
				sum.RecentSells = append(sum.RecentSells, c)
			}
		}
	}
	return sum, nil
}

func (e *Engine) overlapSymbols(ctx context.Context) ([]string, error) {
	symbols := map[string]bool{}

	posRows, err := e.store.Query(ctx, `SELECT DISTINCT symbol FROM positions WHERE shares > 0`)
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	for posRows.Next() {
		var sym string
		if err := posRows.Scan(&sym); err != nil {
			posRows.Close()
			return nil, domain.NewStoreError(err.Error())
		}
		symbols[sym] = true
	}
	posRows.Close()

	thesisRows, err := e.store.Query(ctx, `SELECT symbols FROM theses WHERE status IN (?, ?, ?)`,
		domain.ThesisActive, domain.ThesisStrengthening, domain.ThesisConfirmed)
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	for thesisRows.Next() {
		var raw string
		if err := thesisRows.Scan(&raw); err != nil {
			thesisRows.Close()
			return nil, domain.NewStoreError(err.Error())
		}
		for _, sym := range strings.Split(raw, ",") {
			sym = strings.TrimSpace(sym)
			if sym != "" {
				symbols[sym] = true
			}
		}
	}
	thesisRows.Close()

	out := make([]string, 0, len(symbols))
	for sym := range symbols {
		out = append(out, sym)
	}
	return out, nil
}

// MarkProcessed flags a trade as having already produced (or deliberately
// not produced) a signal, so it is not re-screened.
func (e *Engine) MarkProcessed(ctx context.Context, id int64) error {
	_, err := e.store.Exec(ctx, `UPDATE congress_trades SET processed = 1 WHERE id = ?`, id)
	if err != nil {
		return domain.NewStoreError(err.Error())
	}
	return nil
}
