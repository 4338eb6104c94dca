// Package live is the Schwab-shaped execution adapter. Its HTTP/JSON
// plumbing (POST/GET + typed response envelope) is grounded on the
// teacher's tradernet client; its OAuth2 refresh-token flow is the
// standard client-credentials-plus-refresh pattern Schwab's public API
// requires. It implements the same broker.Broker interface as the mock,
// but does no local FIFO accounting of its own — the broker is the
// source of truth for live positions, and internal/reconcile is what
// keeps the local ledger in sync for reporting purposes.
package live

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moneymoves/engine/internal/domain"
)

const tokenURL = "https://api.schwabapi.com/v1/oauth/token"
const baseURL = "https://api.schwabapi.com/trader/v1"

// Broker is the live Schwab adapter.
type Broker struct {
	clientID     string
	clientSecret string
	refreshToken string

	httpClient *http.Client
	log        zerolog.Logger

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func New(clientID, clientSecret, refreshToken string, log zerolog.Logger) *Broker {
	return &Broker{
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		log:          log.With().Str("client", "schwab").Logger(),
	}
}

func (b *Broker) token(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.accessToken != "" && time.Now().Before(b.expiresAt) {
		return b.accessToken, nil
	}

	form := fmt.Sprintf("grant_type=refresh_token&refresh_token=%s", b.refreshToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewBufferString(form))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(b.clientID, b.clientSecret)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", domain.NewBrokerError(fmt.Sprintf("token refresh: %v", err))
	}
	defer resp.Body.Close()

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.NewBrokerError(fmt.Sprintf("token refresh decode: %v", err))
	}
	if out.AccessToken == "" {
		return "", domain.NewBrokerError("token refresh returned no access token")
	}

	b.accessToken = out.AccessToken
	b.expiresAt = time.Now().Add(time.Duration(out.ExpiresIn-30) * time.Second)
	return b.accessToken, nil
}

func (b *Broker) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	tok, err := b.token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewBrokerError(err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewBrokerError(err.Error())
	}
	if resp.StatusCode >= 300 {
		return nil, domain.NewBrokerError(fmt.Sprintf("schwab API returned %d: %s", resp.StatusCode, string(respBody)))
	}
	return respBody, nil
}

// GetPositions retrieves account positions from the Schwab accounts API.
func (b *Broker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	body, err := b.do(ctx, http.MethodGet, "/accounts?fields=positions", nil)
	if err != nil {
		return nil, err
	}

	var parsed []struct {
		SecuritiesAccount struct {
			Positions []struct {
				Instrument struct {
					Symbol string `json:"symbol"`
				} `json:"instrument"`
				LongQuantity  float64 `json:"longQuantity"`
				ShortQuantity float64 `json:"shortQuantity"`
				AverageCost   float64 `json:"averagePrice"`
			} `json:"positions"`
		} `json:"securitiesAccount"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, domain.NewBrokerError(fmt.Sprintf("parse positions: %v", err))
	}

	var out []domain.Position
	for _, acct := range parsed {
		for _, p := range acct.SecuritiesAccount.Positions {
			if p.LongQuantity > 0 {
				out = append(out, domain.Position{
					Symbol:  p.Instrument.Symbol,
					Side:    domain.PositionLong,
					Shares:  p.LongQuantity,
					AvgCost: p.AverageCost,
				})
			}
			if p.ShortQuantity > 0 {
				out = append(out, domain.Position{
					Symbol:  p.Instrument.Symbol,
					Side:    domain.PositionShort,
					Shares:  p.ShortQuantity,
					AvgCost: p.AverageCost,
				})
			}
		}
	}
	return out, nil
}

// GetAccountBalance retrieves cash and total equity.
func (b *Broker) GetAccountBalance(ctx context.Context) (domain.AccountBalance, error) {
	body, err := b.do(ctx, http.MethodGet, "/accounts?fields=positions", nil)
	if err != nil {
		return domain.AccountBalance{}, err
	}

	var parsed []struct {
		SecuritiesAccount struct {
			CurrentBalances struct {
				CashBalance     float64 `json:"cashBalance"`
				LiquidationValue float64 `json:"liquidationValue"`
				BuyingPower     float64 `json:"buyingPower"`
			} `json:"currentBalances"`
		} `json:"securitiesAccount"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.AccountBalance{}, domain.NewBrokerError(fmt.Sprintf("parse balances: %v", err))
	}
	if len(parsed) == 0 {
		return domain.AccountBalance{}, nil
	}
	bal := parsed[0].SecuritiesAccount.CurrentBalances
	return domain.AccountBalance{
		Cash:        bal.CashBalance,
		TotalValue:  bal.LiquidationValue,
		BuyingPower: bal.BuyingPower,
	}, nil
}

// PlaceOrder submits the order to Schwab's trading API.
func (b *Broker) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	instruction := mapInstruction(order.Action)
	orderType := string(order.Type)

	payload := map[string]interface{}{
		"orderType": orderType,
		"session":   "NORMAL",
		"duration":  "DAY",
		"orderLegCollection": []map[string]interface{}{{
			"instruction": instruction,
			"quantity":    order.Shares,
			"instrument":  map[string]string{"symbol": order.Symbol, "assetType": "EQUITY"},
		}},
	}
	if order.Type == domain.OrderLimit && order.LimitPrice != nil {
		payload["price"] = *order.LimitPrice
	}

	body, err := b.do(ctx, http.MethodPost, "/accounts/orders", payload)
	if err != nil {
		return domain.OrderResult{Status: domain.OrderRejected, Message: err.Error()}, nil
	}

	var parsed struct {
		OrderID string `json:"orderId"`
		Status  string `json:"status"`
	}
	_ = json.Unmarshal(body, &parsed)

	return domain.OrderResult{
		OrderID: parsed.OrderID,
		Status:  mapSchwabStatus(parsed.Status),
		Message: "submitted to schwab",
	}, nil
}

// GetOrderStatus polls Schwab for the current order status.
func (b *Broker) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	body, err := b.do(ctx, http.MethodGet, "/accounts/orders/"+orderID, nil)
	if err != nil {
		return domain.OrderRejected, err
	}
	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.OrderRejected, domain.NewBrokerError(err.Error())
	}
	return mapSchwabStatus(parsed.Status), nil
}

// CancelOrder cancels a working order.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	_, err := b.do(ctx, http.MethodDelete, "/accounts/orders/"+orderID, nil)
	if err != nil {
		return false, err
	}
	return true, nil
}

// PreviewOrder Schwab has no dry-run endpoint in the public trading API;
// this estimates cost from the quotes endpoint instead.
func (b *Broker) PreviewOrder(ctx context.Context, order domain.Order) (domain.OrderPreview, error) {
	body, err := b.do(ctx, http.MethodGet, "/marketdata/"+order.Symbol+"/quotes", nil)
	if err != nil {
		return domain.OrderPreview{Warnings: []string{"quote unavailable"}}, nil
	}
	var parsed map[string]struct {
		Quote struct {
			LastPrice float64 `json:"lastPrice"`
		} `json:"quote"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.OrderPreview{Warnings: []string{"quote parse failed"}}, nil
	}
	q, ok := parsed[order.Symbol]
	if !ok {
		return domain.OrderPreview{Warnings: []string{"symbol not found"}}, nil
	}
	return domain.OrderPreview{
		EstimatedPrice: q.Quote.LastPrice,
		EstimatedCost:  q.Quote.LastPrice * order.Shares,
	}, nil
}

func mapInstruction(action domain.SignalAction) string {
	switch action {
	case domain.ActionBuy:
		return "BUY"
	case domain.ActionSell:
		return "SELL"
	case domain.ActionShort:
		return "SELL_SHORT"
	case domain.ActionCover:
		return "BUY_TO_COVER"
	default:
		return "BUY"
	}
}

func mapSchwabStatus(s string) domain.OrderStatus {
	switch s {
	case "FILLED":
		return domain.OrderFilled
	case "CANCELED":
		return domain.OrderCancelled
	case "REJECTED":
		return domain.OrderRejected
	case "WORKING", "ACCEPTED", "PENDING_ACTIVATION":
		return domain.OrderSubmitted
	default:
		return domain.OrderPending
	}
}
