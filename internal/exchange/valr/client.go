package valr

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Client is the exchange REST client. Public endpoints are unauthenticated;
// account and order endpoints are signed with HMAC-SHA512 over
// timestamp + METHOD + path + body.
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	limiter    *SlidingWindowLimiter
}

// NewClient creates a new exchange client. apiKey/secretKey may be empty
// for public-only use (candle polling).
func NewClient(apiKey, secretKey, baseURL string) *Client {
	return &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    NewSlidingWindowLimiter(10, time.Second),
	}
}

// HasCredentials reports whether authenticated calls are possible
func (c *Client) HasCredentials() bool {
	return c.apiKey != "" && c.secretKey != ""
}

// Close releases the underlying HTTP connections
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// Bucket is one candle from the public buckets endpoint
type Bucket struct {
	StartTime time.Time `json:"startTime"`
	Open      float64   `json:"open,string"`
	High      float64   `json:"high,string"`
	Low       float64   `json:"low,string"`
	Close     float64   `json:"close,string"`
	Volume    float64   `json:"volume,string"`
}

// OrderResponse is the REST order placement response
type OrderResponse struct {
	OrderID      string  `json:"orderId"`
	AveragePrice float64 `json:"averagePrice,string"`
	TotalFee     float64 `json:"totalFee,string"`
	CreatedAt    string  `json:"createdAt"`
}

// Balance is one currency balance
type Balance struct {
	Currency  string  `json:"currency"`
	Available float64 `json:"available,string"`
}

// APIError is a non-2xx exchange response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange API error (HTTP %d): %s", e.StatusCode, e.Body)
}

// IsRateLimited reports whether the error is an HTTP 429
func IsRateLimited(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusTooManyRequests
}

// GetBuckets fetches the most recent candles for a pair at the given
// period. The exchange returns newest first.
func (c *Client) GetBuckets(ctx context.Context, pair string, periodSeconds, limit int) ([]Bucket, error) {
	params := url.Values{}
	params.Set("periodSeconds", strconv.Itoa(periodSeconds))
	params.Set("limit", strconv.Itoa(limit))

	path := fmt.Sprintf("/public/%s/buckets?%s", pair, params.Encode())
	body, err := c.get(ctx, path, false)
	if err != nil {
		return nil, err
	}

	var buckets []Bucket
	if err := json.Unmarshal(body, &buckets); err != nil {
		return nil, fmt.Errorf("parse buckets: %w", err)
	}
	return buckets, nil
}

// GetMarketSummaryPrice fetches the last traded price for a pair
func (c *Client) GetMarketSummaryPrice(ctx context.Context, pair string) (float64, error) {
	body, err := c.get(ctx, fmt.Sprintf("/public/%s/marketsummary", pair), false)
	if err != nil {
		return 0, err
	}

	var summary struct {
		LastTradedPrice float64 `json:"lastTradedPrice,string"`
	}
	if err := json.Unmarshal(body, &summary); err != nil {
		return 0, fmt.Errorf("parse market summary: %w", err)
	}
	return summary.LastTradedPrice, nil
}

// PlaceMarketOrder submits a signed market order. baseAmount is the
// quantity in base currency.
func (c *Client) PlaceMarketOrder(ctx context.Context, pair, side string, baseAmount float64) (*OrderResponse, error) {
	payload := map[string]string{
		"pair":       pair,
		"side":       side,
		"baseAmount": formatAmount(baseAmount),
	}
	return c.placeOrder(ctx, "/orders/market", payload)
}

// PlaceLimitOrder submits a signed limit order
func (c *Client) PlaceLimitOrder(ctx context.Context, pair, side string, quantity, price float64, postOnly bool) (*OrderResponse, error) {
	payload := map[string]string{
		"pair":     pair,
		"side":     side,
		"quantity": formatAmount(quantity),
		"price":    formatAmount(price),
		"postOnly": strconv.FormatBool(postOnly),
	}
	return c.placeOrder(ctx, "/orders/limit", payload)
}

// CancelOrder cancels an open order
func (c *Client) CancelOrder(ctx context.Context, pair, orderID string) error {
	payload := map[string]string{
		"orderId": orderID,
		"pair":    pair,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal cancel: %w", err)
	}
	_, err = c.signedRequest(ctx, http.MethodDelete, "/orders/order", body)
	return err
}

// GetBalances fetches all account balances via REST
func (c *Client) GetBalances(ctx context.Context) ([]Balance, error) {
	body, err := c.get(ctx, "/account/balances", true)
	if err != nil {
		return nil, err
	}

	var balances []Balance
	if err := json.Unmarshal(body, &balances); err != nil {
		return nil, fmt.Errorf("parse balances: %w", err)
	}
	return balances, nil
}

func (c *Client) placeOrder(ctx context.Context, path string, payload map[string]string) (*OrderResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	respBody, err := c.signedRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var order OrderResponse
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, fmt.Errorf("parse order response: %w", err)
	}
	return &order, nil
}

func (c *Client) get(ctx context.Context, path string, signed bool) ([]byte, error) {
	if signed {
		return c.signedRequest(ctx, http.MethodGet, path, nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) signedRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if !c.HasCredentials() {
		return nil, fmt.Errorf("no API credentials configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	signature := Sign(c.secretKey, timestamp, method, path, body)

	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("X-SIGNATURE", signature)
	req.Header.Set("X-TIMESTAMP", timestamp)
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// Sign computes the request signature: HMAC-SHA512 over
// timestamp + METHOD + path + body.
func Sign(secret, timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// formatAmount renders an amount as an 8-decimal string, the exchange's
// wire format for quantities and prices.
func formatAmount(v float64) string {
	return decimal.NewFromFloat(v).Round(8).String()
}
