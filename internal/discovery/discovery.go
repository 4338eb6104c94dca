// Package discovery scans for new tickers aligned with active theses and
// resolves a symbol's sector for the risk manager's concentration gate.
// Grounded on engine/discovery.py's static SECTOR_MAP and keyword-to-ticker
// mapping.
package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/pricing"
	"github.com/moneymoves/engine/internal/store"
	"github.com/moneymoves/engine/pkg/formulas"
)

// sectorMap is a static mapping of known tickers to GICS-ish sectors, used
// both for mock-mode discovery and the risk manager's sector-exposure gate.
var sectorMap = map[string]string{
	"AAPL": "Technology",
	"MSFT": "Technology",
	"GOOG": "Technology",
	"GOOGL": "Technology",
	"AMZN": "Consumer Cyclical",
	"NVDA": "Technology",
	"AMD":  "Technology",
	"TSLA": "Consumer Cyclical",
	"META": "Technology",
	"AVGO": "Technology",
	"QCOM": "Technology",
	"INTC": "Technology",
	"CRM":  "Technology",
	"ORCL": "Technology",
	"PANW": "Technology",
	"TEM":  "Technology",
	"VST":  "Utilities",
}

var keywordMap = map[string][]string{
	"ai":             {"NVDA", "AMD", "MSFT", "GOOG", "AVGO"},
	"semiconductors": {"NVDA", "AMD", "AVGO", "QCOM", "INTC"},
	"cloud":          {"MSFT", "GOOG", "AMZN", "CRM", "ORCL"},
	"ev":             {"TSLA"},
	"software":       {"MSFT", "CRM", "ORCL", "PANW"},
	"hardware":       {"AAPL", "NVDA", "AMD", "AVGO"},
}

// SectorOf returns the sector for a known ticker, or "Unknown".
func SectorOf(symbol string) string {
	if s, ok := sectorMap[strings.ToUpper(symbol)]; ok {
		return s
	}
	return "Unknown"
}

// Candidate is a newly discovered ticker worth considering for a signal.
type Candidate struct {
	Symbol   string
	ThesisID int64
	Reason   string
}

// Engine scans active/strengthening theses for new tickers matching their
// universe keywords, and separately screens existing positions for
// RSI-based price triggers.
type Engine struct {
	store   *store.Store
	pricing *pricing.Service
	log     zerolog.Logger
}

func New(s *store.Store, p *pricing.Service, log zerolog.Logger) *Engine {
	return &Engine{store: s, pricing: p, log: log.With().Str("component", "discovery").Logger()}
}

// SectorOf is the method form used by the risk manager's SectorLookup interface.
func (e *Engine) SectorOf(symbol string) string {
	return SectorOf(symbol)
}

// ScanUniverse reads active/strengthening theses, matches their universe
// keywords against the static keyword map, and returns tickers not already
// held as new candidates.
func (e *Engine) ScanUniverse(ctx context.Context) ([]Candidate, error) {
	rows, err := e.store.Query(ctx,
		`SELECT id, title FROM theses WHERE status IN (?, ?)`, domain.ThesisActive, domain.ThesisStrengthening)
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	type thesisRow struct {
		id    int64
		title string
	}
	var theses []thesisRow
	for rows.Next() {
		var t thesisRow
		if err := rows.Scan(&t.id, &t.title); err != nil {
			rows.Close()
			return nil, domain.NewStoreError(err.Error())
		}
		theses = append(theses, t)
	}
	rows.Close()

	existing := map[string]bool{}
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
		existing[sym] = true
	}
	posRows.Close()

	var keywordRows, kerr = e.store.Query(ctx, `SELECT thesis_id, keyword FROM thesis_universe_keywords`)
	keywordsByThesis := map[int64][]string{}
	if kerr == nil {
		for keywordRows.Next() {
			var tid int64
			var kw string
			if err := keywordRows.Scan(&tid, &kw); err == nil {
				keywordsByThesis[tid] = append(keywordsByThesis[tid], kw)
			}
		}
		keywordRows.Close()
	}

	var out []Candidate
	for _, t := range theses {
		for _, kw := range keywordsByThesis[t.id] {
			matched := keywordMap[strings.ToLower(kw)]
			for _, sym := range matched {
				if existing[sym] {
					continue
				}
				out = append(out, Candidate{
					Symbol:   sym,
					ThesisID: t.id,
					Reason:   fmt.Sprintf("Matches keyword %q from thesis: %s", kw, t.title),
				})
				existing[sym] = true
			}
		}
	}
	return out, nil
}

// RSITrigger is a candidate PRICE_TRIGGER signal generated from an RSI
// extreme on an already-held symbol.
type RSITrigger struct {
	Symbol string
	RSI    float64
	Action domain.SignalAction
}

const (
	rsiOversold   = 30.0
	rsiOverbought = 70.0
	rsiPeriod     = 14
)

// ScanRSITriggers computes RSI(14) for every held symbol's daily closes and
// flags oversold positions as BUY candidates and overbought ones as SELL
// candidates.
func (e *Engine) ScanRSITriggers(ctx context.Context) ([]RSITrigger, error) {
	rows, err := e.store.Query(ctx, `SELECT DISTINCT symbol FROM positions WHERE shares != 0`)
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			rows.Close()
			return nil, domain.NewStoreError(err.Error())
		}
		symbols = append(symbols, sym)
	}
	rows.Close()

	var out []RSITrigger
	for _, sym := range symbols {
		bars, err := e.pricing.GetHistory(ctx, sym, "3mo")
		if err != nil || len(bars) < rsiPeriod+1 {
			continue
		}
		closes := make([]float64, len(bars))
		for i, b := range bars {
			closes[i] = b.Close
		}
		rsi := formulas.CalculateRSI(closes, rsiPeriod)
		if rsi == nil {
			continue
		}
		switch {
		case *rsi <= rsiOversold:
			out = append(out, RSITrigger{Symbol: sym, RSI: *rsi, Action: domain.ActionBuy})
		case *rsi >= rsiOverbought:
			out = append(out, RSITrigger{Symbol: sym, RSI: *rsi, Action: domain.ActionSell})
		}
	}
	return out, nil
}
