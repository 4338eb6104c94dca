// Package outcome scores each thesis's realized return against its
// conviction level and persists dated snapshots, answering "was this
// thesis's conviction calibrated to what actually happened?" Grounded on
// engine/outcome_tracker.py's OutcomeTracker.
package outcome

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/pricing"
	"github.com/moneymoves/engine/internal/store"
	"github.com/moneymoves/engine/pkg/formulas"
)

// SymbolReturn is one symbol's return since its thesis was created.
type SymbolReturn struct {
	Symbol       string
	PriceAtStart float64
	CurrentPrice float64
	ReturnPct    float64 // fraction, e.g. 0.105 for +10.5%
	Err          error
}

// Scorecard is a thesis's realized-performance summary at a point in time.
type Scorecard struct {
	ThesisID         int64
	Title            string
	Status           domain.ThesisStatus
	Conviction       float64 // thesis.ConfidenceTarget, a 0..1 fraction
	Symbols          []string
	CreatedAt        time.Time
	AgeDays          int
	SymbolReturns    []SymbolReturn
	AvgReturnPct     float64
	BestSymbol       string
	BestReturnPct    float64
	WorstSymbol      string
	WorstReturnPct   float64
	CalibrationScore float64 // 0..1; 0.5 is neutral
}

// Tracker scores theses against realized price action.
type Tracker struct {
	store   *store.Store
	pricing *pricing.Service
	log     zerolog.Logger
}

func New(s *store.Store, p *pricing.Service, log zerolog.Logger) *Tracker {
	return &Tracker{store: s, pricing: p, log: log.With().Str("component", "outcome").Logger()}
}

// ScoreThesis builds a Scorecard for one thesis. When fetchPrices is false
// the scorecard is returned with empty SymbolReturns (useful for cheap
// listing without hitting the pricing upstream).
func (t *Tracker) ScoreThesis(ctx context.Context, thesisID int64, fetchPrices bool) (*Scorecard, error) {
	var sc Scorecard
	var symbolsRaw, createdAt string
	err := t.store.QueryRow(ctx, `SELECT id, title, status, confidence_target, symbols, created_at FROM theses WHERE id = ?`, thesisID).
		Scan(&sc.ThesisID, &sc.Title, &sc.Status, &sc.Conviction, &symbolsRaw, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	sc.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	sc.AgeDays = int(time.Since(sc.CreatedAt).Hours() / 24)
	if symbolsRaw != "" {
		sc.Symbols = splitCSV(symbolsRaw)
	}

	if !fetchPrices || len(sc.Symbols) == 0 {
		return &sc, nil
	}

	var returns []float64
	for _, symbol := range sc.Symbols {
		sr := t.symbolReturn(ctx, symbol, sc.CreatedAt)
		sc.SymbolReturns = append(sc.SymbolReturns, sr)
		if sr.Err == nil {
			returns = append(returns, sr.ReturnPct)
			if sc.BestSymbol == "" || sr.ReturnPct > sc.BestReturnPct {
				sc.BestSymbol, sc.BestReturnPct = sr.Symbol, sr.ReturnPct
			}
			if sc.WorstSymbol == "" || sr.ReturnPct < sc.WorstReturnPct {
				sc.WorstSymbol, sc.WorstReturnPct = sr.Symbol, sr.ReturnPct
			}
		}
	}
	if len(returns) > 0 {
		sc.AvgReturnPct = formulas.Mean(returns)
		sc.CalibrationScore = computeCalibration(sc.Conviction, sc.AvgReturnPct)
	}
	return &sc, nil
}

func (t *Tracker) symbolReturn(ctx context.Context, symbol string, thesisCreated time.Time) SymbolReturn {
	current, err := t.pricing.GetPrice(ctx, symbol)
	if err != nil || current.Err != nil {
		return SymbolReturn{Symbol: symbol, Err: fmt.Errorf("price unavailable")}
	}

	startPrice, err := t.priceNear(ctx, symbol, thesisCreated)
	if err != nil {
		return SymbolReturn{Symbol: symbol, CurrentPrice: current.Price, Err: err}
	}

	var returnPct float64
	if startPrice > 0 {
		returnPct = (current.Price - startPrice) / startPrice
	}
	return SymbolReturn{Symbol: symbol, PriceAtStart: startPrice, CurrentPrice: current.Price, ReturnPct: returnPct}
}

// priceNear finds the closest cached price_history close on or after t, or
// falls back to a fresh history fetch spanning the thesis's age.
func (t *Tracker) priceNear(ctx context.Context, symbol string, at time.Time) (float64, error) {
	var close float64
	err := t.store.QueryRow(ctx,
		`SELECT close FROM price_history WHERE symbol = ? AND date >= ? ORDER BY date ASC LIMIT 1`,
		symbol, at.Format("2006-01-02")).Scan(&close)
	if err == nil {
		return close, nil
	}
	if err != sql.ErrNoRows {
		return 0, domain.NewStoreError(err.Error())
	}

	period := daysToPeriod(int(time.Since(at).Hours() / 24))
	bars, histErr := t.pricing.GetHistory(ctx, symbol, period)
	if histErr != nil || len(bars) == 0 {
		return 0, fmt.Errorf("no price history available for %s", symbol)
	}
	return bars[0].Close, nil
}

// ScoreAll scores every thesis in the system.
func (t *Tracker) ScoreAll(ctx context.Context, fetchPrices bool) ([]*Scorecard, error) {
	rows, err := t.store.Query(ctx, `SELECT id FROM theses ORDER BY id ASC`)
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, domain.NewStoreError(err.Error())
		}
		ids = append(ids, id)
	}
	rows.Close()

	var out []*Scorecard
	for _, id := range ids {
		sc, err := t.ScoreThesis(ctx, id, fetchPrices)
		if err != nil {
			return nil, err
		}
		if sc != nil {
			out = append(out, sc)
		}
	}
	return out, nil
}

// PersistSnapshot writes (or overwrites, for the same day) a dated
// snapshot row for a scorecard.
func (t *Tracker) PersistSnapshot(ctx context.Context, sc *Scorecard) error {
	today := time.Now().UTC().Format("2006-01-02")
	_, err := t.store.Exec(ctx,
		`INSERT INTO outcome_snapshots (thesis_id, snapshot_date, conviction, avg_return_pct, best_symbol, best_return_pct, worst_symbol, worst_return_pct, thesis_age_days, calibration_score, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(thesis_id, snapshot_date) DO UPDATE SET
		   conviction=excluded.conviction, avg_return_pct=excluded.avg_return_pct,
		   best_symbol=excluded.best_symbol, best_return_pct=excluded.best_return_pct,
		   worst_symbol=excluded.worst_symbol, worst_return_pct=excluded.worst_return_pct,
		   thesis_age_days=excluded.thesis_age_days, calibration_score=excluded.calibration_score`,
		sc.ThesisID, today, sc.Conviction, sc.AvgReturnPct, sc.BestSymbol, sc.BestReturnPct,
		sc.WorstSymbol, sc.WorstReturnPct, sc.AgeDays, sc.CalibrationScore, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return domain.NewStoreError(err.Error())
	}
	return nil
}

// History returns persisted snapshots for a thesis, most recent first.
func (t *Tracker) History(ctx context.Context, thesisID int64) ([]domain.OutcomeSnapshot, error) {
	rows, err := t.store.Query(ctx,
		`SELECT id, thesis_id, snapshot_date, conviction, avg_return_pct, best_symbol, best_return_pct, worst_symbol, worst_return_pct, thesis_age_days, calibration_score
		 FROM outcome_snapshots WHERE thesis_id = ? ORDER BY snapshot_date DESC`, thesisID)
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	defer rows.Close()

	var out []domain.OutcomeSnapshot
	for rows.Next() {
		var s domain.OutcomeSnapshot
		var snapshotDate string
		if err := rows.Scan(&s.ID, &s.ThesisID, &snapshotDate, &s.Conviction, &s.AvgReturnPct, &s.BestSymbol,
			&s.BestReturnPct, &s.WorstSymbol, &s.WorstReturnPct, &s.ThesisAgeDays, &s.CalibrationScore); err != nil {
			return nil, domain.NewStoreError(err.Error())
		}
		s.SnapshotDate, _ = time.Parse("2006-01-02", snapshotDate)
		out = append(out, s)
	}
	return out, nil
}

// computeCalibration scores how well a thesis's conviction (0..1) predicted
// its realized return (a fraction, e.g. 0.20 for +20%): a high-conviction
// thesis that delivered a strong positive return scores near 1; a
// high-conviction thesis that lost money scores near 0. Neutral (50%
// conviction, flat return) scores exactly 0.5. This curve is
// implementation-defined: no canonical formula was specified upstream.
func computeCalibration(conviction, avgReturnPct float64) float64 {
	score := 0.5 + avgReturnPct*conviction
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

// daysToPeriod picks the shortest cached-history period covering age days.
func daysToPeriod(age int) string {
	switch {
	case age <= 5:
		return "5d"
	case age <= 30:
		return "1mo"
	case age <= 90:
		return "3mo"
	case age <= 365:
		return "1y"
	case age <= 730:
		return "2y"
	default:
		return "5y"
	}
}

func splitCSV(raw string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}
