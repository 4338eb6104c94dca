package reconcile

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
	"github.com/moneymoves/engine/internal/store"
)

type fakeBroker struct {
	positions []domain.Position
}

func (f fakeBroker) GetPositions(ctx context.Context) ([]domain.Position, error) { return f.positions, nil }
func (f fakeBroker) GetAccountBalance(ctx context.Context) (domain.AccountBalance, error) {
	return domain.AccountBalance{}, nil
}
func (f fakeBroker) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	return domain.OrderResult{}, nil
}
func (f fakeBroker) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	return "", nil
}
func (f fakeBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) { return false, nil }
func (f fakeBroker) PreviewOrder(ctx context.Context, order domain.Order) (domain.OrderPreview, error) {
	return domain.OrderPreview{}, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedPosition(t *testing.T, st *store.Store, symbol string, side domain.PositionSide, shares float64) {
	t.Helper()
	_, err := st.Exec(context.Background(),
		`INSERT INTO positions (symbol, side, shares, avg_cost, sector, updated_at) VALUES (?,?,?,?,?,?)`,
		symbol, side, shares, 100.0, "Unknown", time.Now().UTC().Format(time.RFC3339))
	require.NoError(t, err)
}

func TestReconcile_MatchesWithinMinorThreshold(t *testing.T) {
	st := newTestStore(t)
	seedPosition(t, st, "AAPL", domain.PositionLong, 10.0)
	broker := fakeBroker{positions: []domain.Position{{Symbol: "AAPL", Side: domain.PositionLong, Shares: 10.005}}}
	r := New(st, broker, audit.New(st), zerolog.Nop())

	result, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, result.Matched)
	assert.Empty(t, result.Discrepancies)
}

func TestReconcile_FlagsDiscrepancyAboveThreshold(t *testing.T) {
	st := newTestStore(t)
	seedPosition(t, st, "AAPL", domain.PositionLong, 10.0)
	broker := fakeBroker{positions: []domain.Position{{Symbol: "AAPL", Side: domain.PositionLong, Shares: 12.0}}}
	r := New(st, broker, audit.New(st), zerolog.Nop())

	result, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Discrepancies, 1)
	assert.Equal(t, "AAPL", result.Discrepancies[0].Symbol)
	assert.InDelta(t, 2.0, result.Discrepancies[0].Diff, 0.001)
}

// A symbol with an open LONG and an open SHORT position reconciles each
// side independently rather than colliding on a shared symbol key.
func TestReconcile_TracksLongAndShortIndependently(t *testing.T) {
	st := newTestStore(t)
	seedPosition(t, st, "AAPL", domain.PositionLong, 10.0)
	seedPosition(t, st, "AAPL", domain.PositionShort, 4.0)
	broker := fakeBroker{positions: []domain.Position{
		{Symbol: "AAPL", Side: domain.PositionLong, Shares: 10.0},
		{Symbol: "AAPL", Side: domain.PositionShort, Shares: 7.0},
	}}
	r := New(st, broker, audit.New(st), zerolog.Nop())

	result, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Contains(t, result.Matched, "AAPL")
	require.Len(t, result.Discrepancies, 1)
	assert.Equal(t, domain.PositionShort, result.Discrepancies[0].Side)
}

func TestReconcile_ClassifiesDBOnlyAndBrokerOnly(t *testing.T) {
	st := newTestStore(t)
	seedPosition(t, st, "DBONLY", domain.PositionLong, 5.0)
	broker := fakeBroker{positions: []domain.Position{{Symbol: "BROKERONLY", Side: domain.PositionLong, Shares: 3.0}}}
	r := New(st, broker, audit.New(st), zerolog.Nop())

	result, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, result.DBOnly, 1)
	assert.Equal(t, "DBONLY", result.DBOnly[0].Symbol)
	require.Len(t, result.BrokerOnly, 1)
	assert.Equal(t, "BROKERONLY", result.BrokerOnly[0].Symbol)
}

func TestAutoSync_OverwritesOnlyMinorDiscrepancies(t *testing.T) {
	st := newTestStore(t)
	seedPosition(t, st, "SMALL", domain.PositionLong, 10.0)
	seedPosition(t, st, "BIG", domain.PositionLong, 10.0)
	broker := fakeBroker{}
	r := New(st, broker, audit.New(st), zerolog.Nop())

	discrepancies := []Discrepancy{
		{Symbol: "SMALL", Side: domain.PositionLong, DBShares: 10.0, BrokerShares: 10.5, Diff: 0.5},
		{Symbol: "BIG", Side: domain.PositionLong, DBShares: 10.0, BrokerShares: 20.0, Diff: 10.0},
	}
	synced, err := r.AutoSync(context.Background(), discrepancies)
	require.NoError(t, err)
	assert.Equal(t, 1, synced)

	var smallShares, bigShares float64
	require.NoError(t, st.QueryRow(context.Background(), `SELECT shares FROM positions WHERE symbol = 'SMALL'`).Scan(&smallShares))
	require.NoError(t, st.QueryRow(context.Background(), `SELECT shares FROM positions WHERE symbol = 'BIG'`).Scan(&bigShares))
	assert.Equal(t, 10.5, smallShares)
	assert.Equal(t, 10.0, bigShares, "large discrepancy left for manual review")
}
