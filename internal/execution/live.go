package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"aether-trading-bot/internal/database"
	"aether-trading-bot/internal/exchange/valr"
)

// RESTExchange is the REST surface the live client needs
type RESTExchange interface {
	HasCredentials() bool
	PlaceMarketOrder(ctx context.Context, pair, side string, baseAmount float64) (*valr.OrderResponse, error)
	PlaceLimitOrder(ctx context.Context, pair, side string, quantity, price float64, postOnly bool) (*valr.OrderResponse, error)
	GetBalances(ctx context.Context) ([]valr.Balance, error)
	GetMarketSummaryPrice(ctx context.Context, pair string) (float64, error)
}

// OrderSocket is the WebSocket surface for order placement
type OrderSocket interface {
	IsConnected() bool
	PlaceMarketOrder(pair, side string, baseAmount float64) (*valr.WSOrderResult, error)
}

// LiveClient places real orders. Market orders go WebSocket-first with a
// REST fallback on socket timeout or error; balances always go over REST.
type LiveClient struct {
	rest   RESTExchange
	socket OrderSocket
	logger zerolog.Logger
}

// NewLiveClient creates a live client. socket may be nil when the
// account stream is unavailable; all orders then go over REST.
func NewLiveClient(rest RESTExchange, socket OrderSocket, logger zerolog.Logger) *LiveClient {
	return &LiveClient{
		rest:   rest,
		socket: socket,
		logger: logger.With().Str("component", "live_client").Logger(),
	}
}

// HasCredentials reports whether live trading is possible
func (c *LiveClient) HasCredentials() bool {
	return c.rest.HasCredentials()
}

// PlaceMarketOrder places a real market order, preferring the socket
func (c *LiveClient) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if !c.rest.HasCredentials() {
		return nil, ErrNoLiveCredentials
	}

	start := time.Now()

	if c.socket != nil && c.socket.IsConnected() {
		wsResult, err := c.socket.PlaceMarketOrder(req.Pair, req.Side, req.Quantity)
		if err == nil {
			return c.resultFromSocket(ctx, req, wsResult, start), nil
		}
		c.logger.Warn().Err(err).
			Str("pair", req.Pair).
			Msg("socket order failed, falling back to REST")
	}

	resp, err := c.rest.PlaceMarketOrder(ctx, req.Pair, req.Side, req.Quantity)
	if err != nil {
		return nil, fmt.Errorf("REST market order: %w", err)
	}
	return c.resultFromREST(ctx, req, resp, start), nil
}

// PlaceLimitOrder places a real limit order over REST
func (c *LiveClient) PlaceLimitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if !c.rest.HasCredentials() {
		return nil, ErrNoLiveCredentials
	}

	start := time.Now()
	resp, err := c.rest.PlaceLimitOrder(ctx, req.Pair, req.Side, req.Quantity, req.Price, req.PostOnly)
	if err != nil {
		return nil, fmt.Errorf("REST limit order: %w", err)
	}
	return c.resultFromREST(ctx, req, resp, start), nil
}

// GetBalance reports one currency's available balance over REST
func (c *LiveClient) GetBalance(ctx context.Context, currency string) (float64, error) {
	balances, err := c.GetAllBalances(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		if b.Currency == currency {
			return b.Available, nil
		}
	}
	return 0, nil
}

// GetAllBalances reports every balance over REST. Balance queries never
// use the socket.
func (c *LiveClient) GetAllBalances(ctx context.Context) ([]Balance, error) {
	if !c.rest.HasCredentials() {
		return nil, ErrNoLiveCredentials
	}
	raw, err := c.rest.GetBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}
	out := make([]Balance, 0, len(raw))
	for _, b := range raw {
		out = append(out, Balance{Currency: b.Currency, Available: b.Available})
	}
	return out, nil
}

func (c *LiveClient) resultFromSocket(ctx context.Context, req OrderRequest, ws *valr.WSOrderResult, start time.Time) *OrderResult {
	fillPrice := ws.FillPrice
	if fillPrice == 0 {
		// NEW_TRADE was late; approximate from the market summary
		if p, err := c.rest.GetMarketSummaryPrice(ctx, req.Pair); err == nil {
			fillPrice = p
		}
	}
	return &OrderResult{
		Success:   true,
		OrderID:   ws.OrderID,
		Pair:      req.Pair,
		Side:      req.Side,
		Quantity:  req.Quantity,
		FillPrice: fillPrice,
		Fees:      ws.Fee,
		LatencyMs: time.Since(start).Milliseconds(),
		Status:    StatusFilled,
		FilledAt:  time.Now().UTC(),
		Mode:      database.ModeLive,
	}
}

func (c *LiveClient) resultFromREST(ctx context.Context, req OrderRequest, resp *valr.OrderResponse, start time.Time) *OrderResult {
	fillPrice := resp.AveragePrice
	if fillPrice == 0 {
		if p, err := c.rest.GetMarketSummaryPrice(ctx, req.Pair); err == nil {
			fillPrice = p
		}
	}
	return &OrderResult{
		Success:   true,
		OrderID:   resp.OrderID,
		Pair:      req.Pair,
		Side:      req.Side,
		Quantity:  req.Quantity,
		FillPrice: fillPrice,
		Fees:      resp.TotalFee,
		LatencyMs: time.Since(start).Milliseconds(),
		Status:    StatusFilled,
		FilledAt:  time.Now().UTC(),
		Mode:      database.ModeLive,
	}
}
