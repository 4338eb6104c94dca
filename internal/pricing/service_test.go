package pricing

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneymoves/engine/internal/pricing/yahoo"
)

type countingUpstream struct {
	quoteCalls int32
	histCalls  int32
	fail       bool
	price      float64
}

func (u *countingUpstream) GetQuote(ctx context.Context, symbol string) (yahoo.Quote, error) {
	atomic.AddInt32(&u.quoteCalls, 1)
	if u.fail {
		return yahoo.Quote{}, fmt.Errorf("upstream down")
	}
	return yahoo.Quote{Symbol: symbol, Price: u.price, Timestamp: time.Now()}, nil
}
func (u *countingUpstream) GetHistory(ctx context.Context, symbol, period string) ([]yahoo.Bar, error) {
	atomic.AddInt32(&u.histCalls, 1)
	return []yahoo.Bar{{Close: u.price}}, nil
}
func (u *countingUpstream) GetFundamentals(ctx context.Context, symbol string) (yahoo.Fundamentals, error) {
	return yahoo.Fundamentals{Symbol: symbol}, nil
}

func TestGetPrice_RejectsEmptySymbol(t *testing.T) {
	svc := NewService(&countingUpstream{}, nil, zerolog.Nop())
	_, err := svc.GetPrice(context.Background(), "")
	require.Error(t, err)
}

func TestGetPrice_ServesFromCacheWithinTTL(t *testing.T) {
	up := &countingUpstream{price: 100.0}
	svc := NewService(up, nil, zerolog.Nop())
	ctx := context.Background()

	r1, err := svc.GetPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 100.0, r1.Price)

	r2, err := svc.GetPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 100.0, r2.Price)
	assert.Equal(t, int32(1), atomic.LoadInt32(&up.quoteCalls), "second call within TTL must not hit upstream")
}

func TestGetPrice_FallsBackWhenPrimaryFails(t *testing.T) {
	primary := &countingUpstream{fail: true}
	fallback := &countingUpstream{price: 55.0}
	svc := NewService(primary, fallback, zerolog.Nop())

	result, err := svc.GetPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 55.0, result.Price)
	assert.Equal(t, "fallback", result.Source)
}

func TestGetPrice_CarriesErrInResultWhenNoFallback(t *testing.T) {
	primary := &countingUpstream{fail: true}
	svc := NewService(primary, nil, zerolog.Nop())

	result, err := svc.GetPrice(context.Background(), "AAPL")
	require.NoError(t, err, "upstream failure is reported via result.Err, not a non-nil error")
	require.Error(t, result.Err)
}

func TestGetPrices_FetchesEachSymbolIndependently(t *testing.T) {
	up := &countingUpstream{price: 10.0}
	svc := NewService(up, nil, zerolog.Nop())

	results := svc.GetPrices(context.Background(), []string{"AAPL", "MSFT", "NVDA"})
	require.Len(t, results, 3)
	for _, sym := range []string{"AAPL", "MSFT", "NVDA"} {
		assert.Equal(t, 10.0, results[sym].Price)
	}
}

func TestGetHistory_UnknownPeriodReturnsNilWithoutUpstreamCall(t *testing.T) {
	up := &countingUpstream{price: 1.0}
	svc := NewService(up, nil, zerolog.Nop())

	bars, err := svc.GetHistory(context.Background(), "AAPL", "17mo")
	require.NoError(t, err)
	assert.Nil(t, bars)
}

func TestGetHistory_ValidPeriodCachesResult(t *testing.T) {
	up := &countingUpstream{price: 42.0}
	svc := NewService(up, nil, zerolog.Nop())
	ctx := context.Background()

	bars, err := svc.GetHistory(ctx, "AAPL", "1mo")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 42.0, bars[0].Close)

	_, err = svc.GetHistory(ctx, "AAPL", "1mo")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&up.histCalls), "second call within TTL must not hit upstream")
}

func TestGetFundamentals_ReturnsUpstreamData(t *testing.T) {
	up := &countingUpstream{}
	svc := NewService(up, nil, zerolog.Nop())

	data, err := svc.GetFundamentals(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", data.Symbol)
}
