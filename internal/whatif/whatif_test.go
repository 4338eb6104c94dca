package whatif

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

func newTestEngine(t *testing.T, quotes map[string]float64) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc := pricing.NewService(fakeUpstream{quotes: quotes}, nil, zerolog.Nop())
	return New(st, svc, zerolog.Nop()), st
}

func seedSignal(t *testing.T, st *store.Store, symbol string, action domain.SignalAction) int64 {
	t.Helper()
	now := time.Now().UTC()
	res, err := st.Exec(context.Background(),
		`INSERT INTO signals (thesis_id, symbol, action, size_pct, confidence, source, status, reason, funding_plan, created_at, expires_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		nil, symbol, action, 0.05, 0.5, domain.SourceManual, domain.SignalRejected, "", "", now.Format(time.RFC3339), now.Add(24*time.Hour).Format(time.RFC3339))
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestRecordPass_RejectsInvalidDecision(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	err := e.RecordPass(context.Background(), 1, "approved", 100.0)
	require.Error(t, err)
}

func TestRecordPass_InsertsRowAtObservedPrice(t *testing.T) {
	e, st := newTestEngine(t, nil)
	signalID := seedSignal(t, st, "AAPL", domain.ActionBuy)

	require.NoError(t, e.RecordPass(context.Background(), signalID, "rejected", 150.0))

	var priceAtPass float64
	require.NoError(t, st.QueryRow(context.Background(), `SELECT price_at_pass FROM what_ifs WHERE signal_id = ?`, signalID).Scan(&priceAtPass))
	assert.Equal(t, 150.0, priceAtPass)
}

// A rejected BUY that would have cost $100 and is now worth $90 was a
// correct rejection: the hypothetical P/L is negative.
func TestUpdateAll_ComputesHypotheticalPnlForRejectedBuy(t *testing.T) {
	e, st := newTestEngine(t, map[string]float64{"AAPL": 90.0})
	signalID := seedSignal(t, st, "AAPL", domain.ActionBuy)
	require.NoError(t, e.RecordPass(context.Background(), signalID, "rejected", 100.0))

	updated, err := e.UpdateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	var pnl, pnlPct float64
	require.NoError(t, st.QueryRow(context.Background(), `SELECT pnl, pnl_pct FROM what_ifs WHERE signal_id = ?`, signalID).Scan(&pnl, &pnlPct))
	assert.Equal(t, -10.0, pnl)
	assert.InDelta(t, -0.1, pnlPct, 0.001)
}

// A rejected SELL followed by a rise means the sale would have lost money
// against holding, so passing on it was correct: pnl is entryPrice - current
// (inverse sign of a BUY/COVER).
func TestComputeHypotheticalPnl_SellAndShortUseInverseSign(t *testing.T) {
	pnl, pnlPct := computeHypotheticalPnl(domain.ActionSell, 100.0, 110.0)
	assert.Equal(t, -10.0, pnl)
	assert.InDelta(t, -0.1, pnlPct, 0.001)

	pnl, _ = computeHypotheticalPnl(domain.ActionShort, 100.0, 110.0)
	assert.Equal(t, -10.0, pnl)

	pnl, _ = computeHypotheticalPnl(domain.ActionCover, 100.0, 110.0)
	assert.Equal(t, 10.0, pnl)
}

func TestGetSummary_EmptyWhenNothingPriced(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	summary, err := e.GetSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalTracked)
}

func TestGetSummary_AggregatesAccuracyAcrossDecisions(t *testing.T) {
	e, st := newTestEngine(t, map[string]float64{"AAPL": 90.0, "MSFT": 120.0})
	ctx := context.Background()

	rejectedID := seedSignal(t, st, "AAPL", domain.ActionBuy)
	require.NoError(t, e.RecordPass(ctx, rejectedID, "rejected", 100.0))

	ignoredID := seedSignal(t, st, "MSFT", domain.ActionBuy)
	require.NoError(t, e.RecordPass(ctx, ignoredID, "ignored", 100.0))

	updated, err := e.UpdateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	summary, err := e.GetSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalTracked)
	assert.Equal(t, 1.0, summary.RejectAccuracy, "rejecting a BUY that dropped was correct")
	assert.Greater(t, summary.IgnoreCost, 0.0, "ignoring a BUY that then rallied has positive opportunity cost")
}

func TestListWhatIfs_FiltersByDecision(t *testing.T) {
	e, st := newTestEngine(t, nil)
	ctx := context.Background()

	rejectedID := seedSignal(t, st, "AAPL", domain.ActionBuy)
	require.NoError(t, e.RecordPass(ctx, rejectedID, "rejected", 100.0))
	ignoredID := seedSignal(t, st, "MSFT", domain.ActionBuy)
	require.NoError(t, e.RecordPass(ctx, ignoredID, "ignored", 100.0))

	rejectedOnly, err := e.ListWhatIfs(ctx, "rejected")
	require.NoError(t, err)
	require.Len(t, rejectedOnly, 1)
	assert.Equal(t, rejectedID, rejectedOnly[0].SignalID)

	all, err := e.ListWhatIfs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
