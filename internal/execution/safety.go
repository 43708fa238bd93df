package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"aether-trading-bot/config"
	"aether-trading-bot/internal/database"
)

// SafetyStore is the persistence surface the gates read
type SafetyStore interface {
	CountPositionsOpenedSince(ctx context.Context, cutoff time.Time) (int, error)
	GetOpenExposureForPair(ctx context.Context, pair string) (float64, error)
	GetPortfolioState(ctx context.Context, startingValueZAR float64) (*database.PortfolioState, error)
}

// BalanceSource reads available balances from the live client
type BalanceSource interface {
	GetBalance(ctx context.Context, currency string) (float64, error)
}

// SafetyResult is the outcome of the live safety gates
type SafetyResult struct {
	Passed bool
	Check  string // the violated or errored check, empty when passed
	Detail string
}

// SafetyGates are the five pre-flight checks every LIVE order must pass.
// Any error inside a check blocks the trade; limits can be updated at
// runtime.
type SafetyGates struct {
	mu     sync.RWMutex
	cfg    config.SafetyConfig
	store  SafetyStore
	logger zerolog.Logger
}

// NewSafetyGates creates the live safety gates
func NewSafetyGates(store SafetyStore, cfg config.SafetyConfig, logger zerolog.Logger) *SafetyGates {
	return &SafetyGates{
		cfg:    cfg,
		store:  store,
		logger: logger.With().Str("component", "safety_gates").Logger(),
	}
}

// UpdateLimits swaps the configured limits at runtime
func (g *SafetyGates) UpdateLimits(cfg config.SafetyConfig) {
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
	g.logger.Warn().
		Float64("max_order_size_zar", cfg.MaxOrderSizeZAR).
		Int("max_daily_trades", cfg.MaxDailyTrades).
		Msg("safety limits updated")
}

// Check runs all five gates against the proposed order. balances is the
// live client; marketPrice values the order.
func (g *SafetyGates) Check(ctx context.Context, req OrderRequest, marketPrice float64, balances BalanceSource) *SafetyResult {
	g.mu.RLock()
	cfg := g.cfg
	g.mu.RUnlock()

	orderValue := req.Quantity * marketPrice

	// 1. minimum order value
	if orderValue < cfg.MinOrderValueZAR {
		return blocked("min_order_value",
			fmt.Sprintf("Order value R%.2f below minimum R%.2f", orderValue, cfg.MinOrderValueZAR))
	}

	// 2. maximum order value
	if orderValue > cfg.MaxOrderSizeZAR {
		return blocked("max_order_value",
			fmt.Sprintf("Order value R%.2f exceeds maximum R%.2f", orderValue, cfg.MaxOrderSizeZAR))
	}

	// 3. daily trade count since midnight UTC
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	count, err := g.store.CountPositionsOpenedSince(ctx, midnight)
	if err != nil {
		return g.failSafe("daily_trades", err)
	}
	if count >= cfg.MaxDailyTrades {
		return blocked("daily_trades",
			fmt.Sprintf("Daily trade count %d at limit %d", count, cfg.MaxDailyTrades))
	}

	// 4. balance sufficiency: quote side for BUY with fee and buffer,
	// base side for SELL
	base, quote := splitPair(req.Pair)
	if req.Side == database.SignalBuy {
		required := orderValue * (1 + cfg.FeePct/100 + cfg.BalanceBufferPct/100)
		available, err := balances.GetBalance(ctx, quote)
		if err != nil {
			return g.failSafe("balance", err)
		}
		if available < required {
			return blocked("balance",
				fmt.Sprintf("%s balance R%.2f below required R%.2f", quote, available, required))
		}
	} else {
		available, err := balances.GetBalance(ctx, base)
		if err != nil {
			return g.failSafe("balance", err)
		}
		if available < req.Quantity {
			return blocked("balance",
				fmt.Sprintf("%s balance %.8f below required %.8f", base, available, req.Quantity))
		}
	}

	// 5. pair exposure cap, BUY only
	if req.Side == database.SignalBuy {
		exposure, err := g.store.GetOpenExposureForPair(ctx, req.Pair)
		if err != nil {
			return g.failSafe("exposure", err)
		}
		state, err := g.store.GetPortfolioState(ctx, 0)
		if err != nil {
			return g.failSafe("exposure", err)
		}
		if state.TotalValueZAR <= 0 {
			return blocked("exposure", "portfolio value is zero, exposure undefined")
		}
		exposurePct := (exposure + orderValue) / state.TotalValueZAR * 100
		if exposurePct > cfg.MaxPositionExposurePct {
			return blocked("exposure",
				fmt.Sprintf("Exposure to %s would be %.2f%%, limit %.2f%%",
					req.Pair, exposurePct, cfg.MaxPositionExposurePct))
		}
	}

	return &SafetyResult{Passed: true}
}

func blocked(check, detail string) *SafetyResult {
	return &SafetyResult{Passed: false, Check: check, Detail: detail}
}

// failSafe blocks the trade when a check itself errors
func (g *SafetyGates) failSafe(check string, err error) *SafetyResult {
	g.logger.Error().Err(err).Str("check", check).Msg("safety check errored, blocking trade")
	return &SafetyResult{
		Passed: false,
		Check:  check,
		Detail: fmt.Sprintf("safety check %s failed: %v", check, err),
	}
}
