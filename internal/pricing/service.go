// Package pricing provides cached, de-duplicated access to quotes,
// history and fundamentals. A three-layer TTL cache (quote/history/
// fundamentals) backed by singleflight keeps concurrent callers for the
// same symbol from issuing duplicate upstream calls.
package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/moneymoves/engine/internal/pricing/yahoo"
)

const (
	quoteTTL        = 15 * time.Second
	historyTTL      = 24 * time.Hour
	fundamentalsTTL = 24 * time.Hour
)

var validPeriods = map[string]struct{}{
	"1d": {}, "5d": {}, "1mo": {}, "3mo": {}, "6mo": {}, "1y": {}, "2y": {},
	"5y": {}, "10y": {}, "ytd": {}, "max": {},
}

// PriceResult is the outcome of a GetPrice/GetPrices call. Upstream
// failures are carried in Err rather than returned, so a batch lookup can
// report per-symbol failures without aborting the whole batch.
type PriceResult struct {
	Symbol    string
	Price     float64
	Change    float64
	ChangePct float64
	Volume    int64
	Timestamp time.Time
	Source    string
	Err       error
}

type quoteEntry struct {
	result    PriceResult
	expiresAt time.Time
}

type historyEntry struct {
	bars      []yahoo.Bar
	expiresAt time.Time
}

type fundamentalsEntry struct {
	data      yahoo.Fundamentals
	expiresAt time.Time
}

// Upstream is the interface the primary and fallback sources satisfy.
type Upstream interface {
	GetQuote(ctx context.Context, symbol string) (yahoo.Quote, error)
	GetHistory(ctx context.Context, symbol, period string) ([]yahoo.Bar, error)
	GetFundamentals(ctx context.Context, symbol string) (yahoo.Fundamentals, error)
}

// Service is the cached pricing facade used by every engine.
type Service struct {
	primary  Upstream
	fallback Upstream // may be nil
	log      zerolog.Logger

	quoteMu sync.RWMutex
	quotes  map[string]quoteEntry

	histMu sync.RWMutex
	hist   map[string]historyEntry

	fundMu sync.RWMutex
	fund   map[string]fundamentalsEntry

	sfQuote singleflight.Group
	sfHist  singleflight.Group
	sfFund  singleflight.Group
}

func NewService(primary, fallback Upstream, log zerolog.Logger) *Service {
	return &Service{
		primary:  primary,
		fallback: fallback,
		log:      log.With().Str("component", "pricing").Logger(),
		quotes:   make(map[string]quoteEntry),
		hist:     make(map[string]historyEntry),
		fund:     make(map[string]fundamentalsEntry),
	}
}

// GetPrice returns the latest quote for symbol, serving from cache when
// fresh. It never returns a non-nil error for upstream failure; check
// result.Err instead. A non-nil error return means programmer misuse
// (an empty symbol).
func (s *Service) GetPrice(ctx context.Context, symbol string) (PriceResult, error) {
	if symbol == "" {
		return PriceResult{}, fmt.Errorf("pricing: empty symbol")
	}

	s.quoteMu.RLock()
	entry, ok := s.quotes[symbol]
	s.quoteMu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.result, nil
	}

	v, _, _ := s.sfQuote.Do(symbol, func() (interface{}, error) {
		result := s.fetchQuote(ctx, symbol)
		s.quoteMu.Lock()
		s.quotes[symbol] = quoteEntry{result: result, expiresAt: time.Now().Add(quoteTTL)}
		s.quoteMu.Unlock()
		return result, nil
	})
	return v.(PriceResult), nil
}

func (s *Service) fetchQuote(ctx context.Context, symbol string) PriceResult {
	q, err := s.primary.GetQuote(ctx, symbol)
	source := "primary"
	if err != nil && s.fallback != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("primary quote source failed, trying fallback")
		q, err = s.fallback.GetQuote(ctx, symbol)
		source = "fallback"
	}
	if err != nil {
		return PriceResult{Symbol: symbol, Err: err}
	}
	return PriceResult{
		Symbol:    symbol,
		Price:     q.Price,
		Change:    q.Change,
		ChangePct: q.ChangePercent,
		Volume:    q.Volume,
		Timestamp: q.Timestamp,
		Source:    source,
	}
}

// GetPrices fetches quotes for several symbols, independently of each
// other's success or failure.
func (s *Service) GetPrices(ctx context.Context, symbols []string) map[string]PriceResult {
	out := make(map[string]PriceResult, len(symbols))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, sym := range symbols {
		sym := sym
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, _ := s.GetPrice(ctx, sym)
			mu.Lock()
			out[sym] = r
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

// GetHistory fetches a daily OHLCV series for the given period. Unknown
// periods return (nil, nil) without any upstream call.
func (s *Service) GetHistory(ctx context.Context, symbol, period string) ([]yahoo.Bar, error) {
	if _, ok := validPeriods[period]; !ok {
		return nil, nil
	}
	key := symbol + ":" + period

	s.histMu.RLock()
	entry, ok := s.hist[key]
	s.histMu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.bars, nil
	}

	v, err, _ := s.sfHist.Do(key, func() (interface{}, error) {
		bars, err := s.primary.GetHistory(ctx, symbol, period)
		if err != nil {
			return nil, err
		}
		s.histMu.Lock()
		s.hist[key] = historyEntry{bars: bars, expiresAt: time.Now().Add(historyTTL)}
		s.histMu.Unlock()
		return bars, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]yahoo.Bar), nil
}

// GetFundamentals fetches trailing fundamentals for symbol.
func (s *Service) GetFundamentals(ctx context.Context, symbol string) (yahoo.Fundamentals, error) {
	s.fundMu.RLock()
	entry, ok := s.fund[symbol]
	s.fundMu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.data, nil
	}

	v, err, _ := s.sfFund.Do(symbol, func() (interface{}, error) {
		data, err := s.primary.GetFundamentals(ctx, symbol)
		if err != nil {
			return yahoo.Fundamentals{}, err
		}
		s.fundMu.Lock()
		s.fund[symbol] = fundamentalsEntry{data: data, expiresAt: time.Now().Add(fundamentalsTTL)}
		s.fundMu.Unlock()
		return data, nil
	})
	if err != nil {
		return yahoo.Fundamentals{}, err
	}
	return v.(yahoo.Fundamentals), nil
}
