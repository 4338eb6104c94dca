package outcome

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/pricing"
	"github.com/moneymoves/engine/internal/pricing/yahoo"
	"github.com/moneymoves/engine/internal/store"
)

// fakeUpstream serves one fixed quote per symbol; history/fundamentals are
// unused by these tests.
type fakeUpstream struct {
	quotes map[string]float64
}

func (f fakeUpstream) GetQuote(ctx context.Context, symbol string) (yahoo.Quote, error) {
	return yahoo.Quote{Symbol: symbol, Price: f.quotes[symbol], Timestamp: time.Now()}, nil
}
func (f fakeUpstream) GetHistory(ctx context.Context, symbol, period string) ([]yahoo.Bar, error) {
	return nil, nil
}
func (f fakeUpstream) GetFundamentals(ctx context.Context, symbol string) (yahoo.Fundamentals, error) {
	return yahoo.Fundamentals{Symbol: symbol}, nil
}

func newTestTracker(t *testing.T, quotes map[string]float64) (*Tracker, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc := pricing.NewService(fakeUpstream{quotes: quotes}, nil, zerolog.Nop())
	return New(st, svc, zerolog.Nop()), st
}

func seedThesis(t *testing.T, st *store.Store, title string, symbols string, conviction float64, createdAt time.Time) int64 {
	t.Helper()
	res, err := st.Exec(context.Background(),
		`INSERT INTO theses (title, symbols, status, confidence_target, domain, notes, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		title, symbols, domain.ThesisActive, conviction, "", "", createdAt.Format(time.RFC3339), createdAt.Format(time.RFC3339))
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func seedPriceHistory(t *testing.T, st *store.Store, symbol, date string, close float64) {
	t.Helper()
	_, err := st.Exec(context.Background(),
		`INSERT INTO price_history (symbol, date, open, high, low, close, volume) VALUES (?,?,?,?,?,?,?)`,
		symbol, date, close, close, close, close, 0)
	require.NoError(t, err)
}

func TestScoreThesis_ComputesAvgReturnAndBestWorstSymbol(t *testing.T) {
	created := time.Now().UTC().AddDate(0, 0, -30)
	tr, st := newTestTracker(t, map[string]float64{"AAPL": 120.0, "MSFT": 90.0})
	thesisID := seedThesis(t, st, "basket thesis", "AAPL,MSFT", 0.8, created)
	seedPriceHistory(t, st, "AAPL", created.Format("2006-01-02"), 100.0)
	seedPriceHistory(t, st, "MSFT", created.Format("2006-01-02"), 100.0)

	sc, err := tr.ScoreThesis(context.Background(), thesisID, true)
	require.NoError(t, err)
	require.NotNil(t, sc)

	require.Len(t, sc.SymbolReturns, 2)
	assert.Equal(t, "AAPL", sc.BestSymbol)
	assert.InDelta(t, 0.20, sc.BestReturnPct, 0.001)
	assert.Equal(t, "MSFT", sc.WorstSymbol)
	assert.InDelta(t, -0.10, sc.WorstReturnPct, 0.001)
	assert.InDelta(t, 0.05, sc.AvgReturnPct, 0.001)
}

func TestScoreThesis_WithoutFetchPricesLeavesReturnsEmpty(t *testing.T) {
	created := time.Now().UTC().AddDate(0, 0, -10)
	tr, st := newTestTracker(t, map[string]float64{"AAPL": 150.0})
	thesisID := seedThesis(t, st, "cheap listing", "AAPL", 0.6, created)

	sc, err := tr.ScoreThesis(context.Background(), thesisID, false)
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Empty(t, sc.SymbolReturns)
	assert.Equal(t, 0.0, sc.AvgReturnPct)
}

func TestScoreThesis_UnknownThesisReturnsNil(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	sc, err := tr.ScoreThesis(context.Background(), 9999, true)
	require.NoError(t, err)
	assert.Nil(t, sc)
}

func TestComputeCalibration_ClampsToZeroOneRange(t *testing.T) {
	assert.Equal(t, 0.5, computeCalibration(0, 0))
	assert.Equal(t, 1.0, computeCalibration(1.0, 5.0), "a wildly positive return must clamp at 1")
	assert.Equal(t, 0.0, computeCalibration(1.0, -5.0), "a wildly negative return must clamp at 0")
	assert.InDelta(t, 0.9, computeCalibration(0.8, 0.5), 0.001)
}

func TestPersistSnapshotAndHistory_RoundTripsAndUpsertsSameDay(t *testing.T) {
	created := time.Now().UTC().AddDate(0, 0, -5)
	tr, st := newTestTracker(t, map[string]float64{"AAPL": 110.0})
	thesisID := seedThesis(t, st, "round trip thesis", "AAPL", 0.7, created)

	sc := &Scorecard{
		ThesisID: thesisID, Conviction: 0.7, AvgReturnPct: 0.1,
		BestSymbol: "AAPL", BestReturnPct: 0.1, WorstSymbol: "AAPL", WorstReturnPct: 0.1,
		AgeDays: 5, CalibrationScore: 0.57,
	}
	require.NoError(t, tr.PersistSnapshot(context.Background(), sc))

	history, err := tr.History(context.Background(), thesisID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "AAPL", history[0].BestSymbol)
	assert.InDelta(t, 0.57, history[0].CalibrationScore, 0.001)

	// Persisting again the same day upserts rather than appending a new row.
	sc.AvgReturnPct = 0.2
	sc.CalibrationScore = 0.64
	require.NoError(t, tr.PersistSnapshot(context.Background(), sc))

	history, err = tr.History(context.Background(), thesisID)
	require.NoError(t, err)
	require.Len(t, history, 1, "same-day snapshot must upsert, not duplicate")
	assert.InDelta(t, 0.2, history[0].AvgReturnPct, 0.001)
}

func TestScoreAll_ScoresEveryThesis(t *testing.T) {
	created := time.Now().UTC().AddDate(0, 0, -20)
	tr, st := newTestTracker(t, map[string]float64{"AAPL": 100.0, "MSFT": 100.0})
	seedThesis(t, st, "thesis one", "AAPL", 0.5, created)
	seedThesis(t, st, "thesis two", "MSFT", 0.5, created)
	seedPriceHistory(t, st, "AAPL", created.Format("2006-01-02"), 100.0)
	seedPriceHistory(t, st, "MSFT", created.Format("2006-01-02"), 100.0)

	cards, err := tr.ScoreAll(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, cards, 2)
}
