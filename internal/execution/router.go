package execution

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"aether-trading-bot/internal/database"
)

// ModeSource resolves the active trading mode. The router queries it on
// every order; the mode is hot-swappable and must never be cached.
type ModeSource interface {
	GetCurrentMode(ctx context.Context) (string, error)
}

// Router resolves paper vs live per order and applies the live safety
// gates before anything reaches the live client.
type Router struct {
	modes  ModeSource
	paper  Client
	live   *LiveClient
	gates  *SafetyGates
	prices PriceGetter
	logger zerolog.Logger
}

// NewRouter creates the execution router. live may be a credential-less
// client; LIVE orders then fail loudly.
func NewRouter(modes ModeSource, paper Client, live *LiveClient, gates *SafetyGates, prices PriceGetter, logger zerolog.Logger) *Router {
	return &Router{
		modes:  modes,
		paper:  paper,
		live:   live,
		gates:  gates,
		prices: prices,
		logger: logger.With().Str("component", "execution_router").Logger(),
	}
}

// PlaceMarketOrder routes one market order through mode resolution and,
// in LIVE mode, the safety gates.
func (r *Router) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	req.OrderType = OrderTypeMarket
	return r.route(ctx, req, func(ctx context.Context, client Client) (*OrderResult, error) {
		return client.PlaceMarketOrder(ctx, req)
	})
}

// PlaceLimitOrder routes one limit order the same way
func (r *Router) PlaceLimitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	req.OrderType = OrderTypeLimit
	return r.route(ctx, req, func(ctx context.Context, client Client) (*OrderResult, error) {
		return client.PlaceLimitOrder(ctx, req)
	})
}

// GetBalance passes through to the client for the current mode
func (r *Router) GetBalance(ctx context.Context, currency string) (float64, error) {
	client, _, err := r.resolve(ctx)
	if err != nil {
		return 0, err
	}
	return client.GetBalance(ctx, currency)
}

// GetAllBalances passes through to the client for the current mode
func (r *Router) GetAllBalances(ctx context.Context) ([]Balance, error) {
	client, _, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return client.GetAllBalances(ctx)
}

func (r *Router) route(ctx context.Context, req OrderRequest, place func(context.Context, Client) (*OrderResult, error)) (*OrderResult, error) {
	client, mode, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}

	clientType := "paper"
	safetyChecked := false
	safetyStatus := "not_required"

	if mode == database.ModeLive {
		clientType = "live"
		safetyChecked = true

		marketPrice, err := r.prices(ctx, req.Pair)
		if err != nil {
			// valuing the order is itself a safety precondition
			return r.blockedResult(req, mode, clientType,
				fmt.Sprintf("cannot value order: %v", err)), nil
		}

		if verdict := r.gates.Check(ctx, req, marketPrice, client); !verdict.Passed {
			r.logger.Warn().
				Str("pair", req.Pair).
				Str("check", verdict.Check).
				Str("detail", verdict.Detail).
				Msg("live order blocked")
			return r.blockedResult(req, mode, clientType, verdict.Detail), nil
		}
		safetyStatus = "passed"
	}

	result, err := place(ctx, client)
	if err != nil {
		return nil, err
	}

	result.Mode = mode
	result.RoutedVia = "execution_router"
	result.ClientType = clientType
	result.SafetyChecked = safetyChecked
	result.SafetyStatus = safetyStatus
	return result, nil
}

// resolve reads the current mode and picks the client for it
func (r *Router) resolve(ctx context.Context) (Client, string, error) {
	mode, err := r.modes.GetCurrentMode(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("resolve trading mode: %w", err)
	}

	switch mode {
	case database.ModePaper:
		return r.paper, mode, nil
	case database.ModeLive:
		if r.live == nil || !r.live.HasCredentials() {
			return nil, "", ErrNoLiveCredentials
		}
		return r.live, mode, nil
	default:
		return nil, "", fmt.Errorf("unknown trading mode %q", mode)
	}
}

func (r *Router) blockedResult(req OrderRequest, mode, clientType, detail string) *OrderResult {
	return &OrderResult{
		Success:       false,
		Pair:          req.Pair,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Status:        StatusBlocked,
		Mode:          mode,
		Error:         detail,
		RoutedVia:     "execution_router",
		ClientType:    clientType,
		SafetyChecked: true,
		SafetyStatus:  "blocked: " + detail,
	}
}
