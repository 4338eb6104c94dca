// Package yahoo is the upstream HTTP client for quotes, history and
// fundamentals. Adapted from the teacher's Yahoo Finance client: same
// query-API shape, same "mimic a browser" header set, same map-based
// response decoding.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Client is a Yahoo Finance query-API client.
type Client struct {
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.With().Str("client", "yahoo").Logger(),
	}
}

// Quote is the subset of the quote response the pricing service needs.
type Quote struct {
	Symbol        string
	Price         float64
	Change        float64
	ChangePercent float64
	Volume        int64
	Timestamp     time.Time
}

// Fundamentals mirrors the teacher's FundamentalData shape, trimmed to the
// fields this engine actually consumes.
type Fundamentals struct {
	Symbol        string
	PERatio       float64
	MarketCap     int64
	DividendYield float64
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []map[string]interface{} `json:"result"`
		Error  interface{}              `json:"error"`
	} `json:"quoteResponse"`
}

// GetQuote fetches a single real-time quote.
func (c *Client) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	info, err := c.getQuoteInfo(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}

	price := getFloat64OrZero(info, "currentPrice")
	if price == 0 {
		price = getFloat64OrZero(info, "regularMarketPrice")
	}
	if price == 0 {
		return Quote{}, fmt.Errorf("no valid price for %s", symbol)
	}

	return Quote{
		Symbol:        symbol,
		Price:         price,
		Change:        getFloat64OrZero(info, "regularMarketChange"),
		ChangePercent: getFloat64OrZero(info, "regularMarketChangePercent"),
		Volume:        int64(getFloat64OrZero(info, "regularMarketVolume")),
		Timestamp:     time.Now().UTC(),
	}, nil
}

// GetFundamentals fetches trailing fundamentals for a symbol.
func (c *Client) GetFundamentals(ctx context.Context, symbol string) (Fundamentals, error) {
	info, err := c.getQuoteInfo(ctx, symbol)
	if err != nil {
		return Fundamentals{}, err
	}
	return Fundamentals{
		Symbol:        symbol,
		PERatio:       getFloat64OrZero(info, "trailingPE"),
		MarketCap:     int64(getFloat64OrZero(info, "marketCap")),
		DividendYield: getFloat64OrZero(info, "dividendYield"),
	}, nil
}

// Bar is one OHLCV daily bar from the chart API.
type Bar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// GetHistory fetches a daily OHLCV series for the given Yahoo range string
// (e.g. "1mo", "1y").
func (c *Client) GetHistory(ctx context.Context, symbol, rng string) ([]Bar, error) {
	reqURL := fmt.Sprintf("https://query1.finance.yahoo.com/v8/finance/chart/%s?range=%s&interval=1d",
		url.PathEscape(symbol), url.QueryEscape(rng))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch chart: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("yahoo chart API returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Chart struct {
			Result []struct {
				Timestamp  []int64 `json:"timestamp"`
				Indicators struct {
					Quote []struct {
						Open   []float64 `json:"open"`
						High   []float64 `json:"high"`
						Low    []float64 `json:"low"`
						Close  []float64 `json:"close"`
						Volume []float64 `json:"volume"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
			Error interface{} `json:"error"`
		} `json:"chart"`
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse chart response: %w", err)
	}
	if parsed.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart API error: %v", parsed.Chart.Error)
	}
	if len(parsed.Chart.Result) == 0 || len(parsed.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("no chart data for %s", symbol)
	}

	res := parsed.Chart.Result[0]
	q := res.Indicators.Quote[0]
	bars := make([]Bar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if i >= len(q.Close) {
			break
		}
		bars = append(bars, Bar{
			Date:   time.Unix(ts, 0).UTC(),
			Open:   valueAt(q.Open, i),
			High:   valueAt(q.High, i),
			Low:    valueAt(q.Low, i),
			Close:  valueAt(q.Close, i),
			Volume: int64(valueAt(q.Volume, i)),
		})
	}
	return bars, nil
}

func valueAt(s []float64, i int) float64 {
	if i < 0 || i >= len(s) {
		return 0
	}
	return s[i]
}

func (c *Client) getQuoteInfo(ctx context.Context, symbol string) (map[string]interface{}, error) {
	params := url.Values{}
	params.Add("symbols", symbol)
	params.Add("fields", "symbol,regularMarketPrice,currentPrice,regularMarketChange,"+
		"regularMarketChangePercent,regularMarketVolume,trailingPE,marketCap,dividendYield")

	reqURL := "https://query1.finance.yahoo.com/v7/finance/quote?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch quote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("yahoo quote API returned %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result quoteResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse quote response: %w", err)
	}
	if result.QuoteResponse.Error != nil {
		return nil, fmt.Errorf("yahoo quote API error: %v", result.QuoteResponse.Error)
	}
	if len(result.QuoteResponse.Result) == 0 {
		return nil, fmt.Errorf("no quote data for %s", symbol)
	}
	return result.QuoteResponse.Result[0], nil
}

func getFloat64OrZero(m map[string]interface{}, key string) float64 {
	val, ok := m[key]
	if !ok || val == nil {
		return 0
	}
	switch v := val.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}
