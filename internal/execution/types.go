package execution

import (
	"context"
	"errors"
	"time"
)

// ErrNoLiveCredentials is returned when LIVE mode is active but no
// exchange credentials are configured. The router fails loudly instead
// of silently falling back to paper.
var ErrNoLiveCredentials = errors.New("LIVE mode active but no exchange credentials configured")

// Order types
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// Order statuses
const (
	StatusFilled  = "FILLED"
	StatusFailed  = "FAILED"
	StatusBlocked = "BLOCKED"
)

// OrderRequest is one order as seen by the router and clients
type OrderRequest struct {
	Pair      string
	Side      string
	Quantity  float64
	Price     float64 // limit orders only
	PostOnly  bool
	OrderType string
}

// OrderResult is the uniform fill report from either client, enriched by
// the router with routing metadata.
type OrderResult struct {
	Success     bool      `json:"success"`
	OrderID     string    `json:"order_id"`
	Pair        string    `json:"pair"`
	Side        string    `json:"side"`
	Quantity    float64   `json:"quantity"`
	FillPrice   float64   `json:"fill_price"`
	MarketPrice float64   `json:"market_price"`
	SlippagePct float64   `json:"slippage_pct"`
	Fees        float64   `json:"fees"`
	LatencyMs   int64     `json:"latency_ms"`
	Status      string    `json:"status"`
	FilledAt    time.Time `json:"filled_at"`
	Mode        string    `json:"mode"`
	Error       string    `json:"error,omitempty"`

	// router enrichment
	RoutedVia     string `json:"routed_via"`
	ClientType    string `json:"client_type"`
	SafetyChecked bool   `json:"safety_checked"`
	SafetyStatus  string `json:"safety_status"`
}

// Balance is one currency balance as reported by a client
type Balance struct {
	Currency  string  `json:"currency"`
	Available float64 `json:"available"`
}

// Client is the order-execution capability both paper and live
// implement. The router resolves which one on every call.
type Client interface {
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	PlaceLimitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	GetBalance(ctx context.Context, currency string) (float64, error)
	GetAllBalances(ctx context.Context) ([]Balance, error)
}

// PriceGetter resolves the current market price for a pair, following
// the engine's cache-then-candle-then-trade staleness chain.
type PriceGetter func(ctx context.Context, pair string) (float64, error)
