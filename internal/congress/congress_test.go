package congress

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneymoves/engine/internal/audit"
	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/principles"
	"github.com/moneymoves/engine/internal/signal"
	"github.com/moneymoves/engine/internal/store"
	"github.com/moneymoves/engine/internal/thesis"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st := testStore(t)
	auditLog := audit.New(st)
	principlesEng := principles.New(st, zerolog.Nop())
	thesisEng := thesis.New(st, auditLog, zerolog.Nop())
	signalEng := signal.New(st, auditLog, principlesEng, thesisEng, nil, 0.05, 0.05, zerolog.Nop())
	return New(st, signalEng, zerolog.Nop()), st
}

func sampleTrade(symbol, txType string, daysAgo int) domain.CongressTrade {
	return domain.CongressTrade{
		Politician:      "Jane Smith",
		Symbol:          symbol,
		TransactionType: txType,
		AmountRange:     "$15,001 - $50,000",
		TransactionDate: time.Now().UTC().AddDate(0, 0, -daysAgo),
		ReportedDate:    time.Now().UTC().AddDate(0, 0, -daysAgo+2),
		SourceURL:       "https://example.com/disclosure",
	}
}

func TestRecordTrades_DedupesOnUniqueConstraint(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	trade := sampleTrade("AAPL", "buy", 10)
	n, err := e.RecordTrades(ctx, []domain.CongressTrade{trade})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = e.RecordTrades(ctx, []domain.CongressTrade{trade})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "same politician/symbol/date should be ignored on re-insert")
}

func TestUnprocessedCandidates_OnlyOverlappingBuys(t *testing.T) {
	e, st := testEngine(t)
	ctx := context.Background()

	_, err := st.Exec(ctx, `INSERT INTO positions (symbol, shares, avg_cost, updated_at) VALUES (?,?,?,?)`,
		"AAPL", 10.0, 150.0, time.Now().UTC().Format(time.RFC3339))
	require.NoError(t, err)

	trades := []domain.CongressTrade{
		sampleTrade("AAPL", "buy", 5),
		sampleTrade("MSFT", "buy", 5), // no overlap, should not surface
		sampleTrade("AAPL", "sell", 5),
	}
	_, err = e.RecordTrades(ctx, trades)
	require.NoError(t, err)

	candidates, err := e.UnprocessedCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "AAPL", candidates[0].Symbol)
	assert.Equal(t, "buy", candidates[0].TransactionType)
}

func TestGenerateSignals_LinksThesisAndMarksProcessed(t *testing.T) {
	e, st := testEngine(t)
	ctx := context.Background()

	th := thesis.New(st, audit.New(st), zerolog.Nop())
	created, err := th.Create(ctx, "AAPL long-term growth thesis", []string{"AAPL"}, domain.ThesisActive, "tech")
	require.NoError(t, err)

	trade := sampleTrade("AAPL", "buy", 3)
	_, err = e.RecordTrades(ctx, []domain.CongressTrade{trade})
	require.NoError(t, err)

	signals, err := e.GenerateSignals(ctx)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, domain.SourceCongress, signals[0].Source)
	assert.Equal(t, generatedConfidence, signals[0].Confidence)
	require.NotNil(t, signals[0].ThesisID)
	assert.Equal(t, created.ID, *signals[0].ThesisID)

	// a re-run should find nothing left to process
	more, err := e.GenerateSignals(ctx)
	require.NoError(t, err)
	assert.Empty(t, more)
}

func TestGetSummary_NetBySymbol(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	_, err := e.RecordTrades(ctx, []domain.CongressTrade{
		sampleTrade("AAPL", "buy", 1),
		sampleTrade("AAPL", "buy", 2),
		sampleTrade("AAPL", "sell", 3),
	})
	require.NoError(t, err)

	sum, err := e.GetSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalTrades)
	assert.Equal(t, 1, sum.NetBySymbol["AAPL"])
}
