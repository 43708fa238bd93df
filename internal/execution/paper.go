package execution

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"aether-trading-bot/config"
	"aether-trading-bot/internal/database"
)

// slippage clamp in basis points
const maxSlippageBps = 50

// OrderAuditor persists simulated fills for later inspection
type OrderAuditor interface {
	InsertSimulatedOrder(ctx context.Context, o *database.SimulatedOrder) error
}

// PaperClient simulates order execution against live market prices:
// randomized latency, size-dependent slippage in the adverse direction,
// and taker fees. Every fill is persisted for audit.
type PaperClient struct {
	prices  PriceGetter
	auditor OrderAuditor
	cfg     config.PaperConfig
	rng     *rand.Rand
	rngMu   sync.Mutex

	mu       sync.Mutex
	balances map[string]float64

	logger zerolog.Logger
}

// NewPaperClient creates a paper client seeded with the starting quote
// balance
func NewPaperClient(prices PriceGetter, auditor OrderAuditor, cfg config.PaperConfig, logger zerolog.Logger) *PaperClient {
	return &PaperClient{
		prices:  prices,
		auditor: auditor,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		balances: map[string]float64{
			"ZAR": cfg.StartingBalanceZAR,
		},
		logger: logger.With().Str("component", "paper_client").Logger(),
	}
}

// PlaceMarketOrder simulates a market order fill
func (c *PaperClient) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	marketPrice, err := c.prices(ctx, req.Pair)
	if err != nil {
		return nil, fmt.Errorf("no market price for %s: %w", req.Pair, err)
	}

	latency := c.randomLatency()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(latency):
	}

	orderValue := req.Quantity * marketPrice
	slippagePct := c.slippagePct(orderValue)
	fillPrice := applySlippage(marketPrice, req.Side, slippagePct)
	fees := req.Quantity * fillPrice * c.cfg.TakerFeePct / 100

	result := &OrderResult{
		Success:     true,
		OrderID:     "SIM-" + uuid.New().String(),
		Pair:        req.Pair,
		Side:        req.Side,
		Quantity:    req.Quantity,
		FillPrice:   fillPrice,
		MarketPrice: marketPrice,
		SlippagePct: slippagePct,
		Fees:        fees,
		LatencyMs:   latency.Milliseconds(),
		Status:      StatusFilled,
		FilledAt:    time.Now().UTC(),
		Mode:        database.ModePaper,
	}

	c.applyFill(req, fillPrice, fees)

	audit := &database.SimulatedOrder{
		ID:          result.OrderID,
		Pair:        req.Pair,
		Side:        req.Side,
		Quantity:    req.Quantity,
		FillPrice:   fillPrice,
		MarketPrice: marketPrice,
		SlippagePct: slippagePct,
		Fees:        fees,
		LatencyMs:   int(result.LatencyMs),
		CreatedAt:   result.FilledAt,
	}
	if err := c.auditor.InsertSimulatedOrder(ctx, audit); err != nil {
		// the fill stands; a lost audit row is logged, not fatal
		c.logger.Warn().Err(err).Str("order_id", result.OrderID).Msg("audit insert failed")
	}

	c.logger.Info().
		Str("pair", req.Pair).
		Str("side", req.Side).
		Float64("fill_price", fillPrice).
		Float64("slippage_pct", slippagePct).
		Int64("latency_ms", result.LatencyMs).
		Msg("paper fill")

	return result, nil
}

// PlaceLimitOrder simulates an immediate fill at the limit price. Resting
// order books are not modelled; post-only orders fill at the limit.
func (c *PaperClient) PlaceLimitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if req.Price <= 0 {
		return nil, fmt.Errorf("limit order needs a price")
	}

	marketPrice, err := c.prices(ctx, req.Pair)
	if err != nil {
		return nil, fmt.Errorf("no market price for %s: %w", req.Pair, err)
	}

	latency := c.randomLatency()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(latency):
	}

	fees := req.Quantity * req.Price * c.cfg.TakerFeePct / 100
	result := &OrderResult{
		Success:     true,
		OrderID:     "SIM-" + uuid.New().String(),
		Pair:        req.Pair,
		Side:        req.Side,
		Quantity:    req.Quantity,
		FillPrice:   req.Price,
		MarketPrice: marketPrice,
		Fees:        fees,
		LatencyMs:   latency.Milliseconds(),
		Status:      StatusFilled,
		FilledAt:    time.Now().UTC(),
		Mode:        database.ModePaper,
	}
	c.applyFill(req, req.Price, fees)
	return result, nil
}

// GetBalance reports the simulated balance for one currency
func (c *PaperClient) GetBalance(ctx context.Context, currency string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[currency], nil
}

// GetAllBalances reports every simulated balance
func (c *PaperClient) GetAllBalances(ctx context.Context) ([]Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Balance, 0, len(c.balances))
	for currency, available := range c.balances {
		out = append(out, Balance{Currency: currency, Available: available})
	}
	return out, nil
}

func (c *PaperClient) applyFill(req OrderRequest, fillPrice, fees float64) {
	base, quote := splitPair(req.Pair)
	notional := req.Quantity * fillPrice

	c.mu.Lock()
	defer c.mu.Unlock()
	if req.Side == database.SignalBuy {
		c.balances[quote] -= notional + fees
		c.balances[base] += req.Quantity
	} else {
		c.balances[base] -= req.Quantity
		c.balances[quote] += notional - fees
	}
}

func (c *PaperClient) randomLatency() time.Duration {
	spread := c.cfg.MaxLatencyMs - c.cfg.MinLatencyMs
	c.rngMu.Lock()
	ms := c.cfg.MinLatencyMs
	if spread > 0 {
		ms += c.rng.Intn(spread + 1)
	}
	c.rngMu.Unlock()
	return time.Duration(ms) * time.Millisecond
}

// slippagePct returns the fill offset as a percentage: base bps plus a
// size impact term plus uniform noise in [-2, 2] bps, clamped to
// [0, 50] bps.
func (c *PaperClient) slippagePct(orderValue float64) float64 {
	c.rngMu.Lock()
	noise := c.rng.Float64()*4 - 2
	c.rngMu.Unlock()

	bps := c.cfg.BaseSlippageBps + orderValue/100_000_000 + noise
	if bps < 0 {
		bps = 0
	}
	if bps > maxSlippageBps {
		bps = maxSlippageBps
	}
	return bps / 100
}

// applySlippage shifts the market price against the order's direction
func applySlippage(marketPrice float64, side string, slippagePct float64) float64 {
	if side == database.SignalBuy {
		return marketPrice * (1 + slippagePct/100)
	}
	return marketPrice * (1 - slippagePct/100)
}

// splitPair divides a pair symbol into base and quote. Quote currencies
// on this exchange are ZAR or USDT.
func splitPair(pair string) (base, quote string) {
	for _, q := range []string{"ZAR", "USDT"} {
		if strings.HasSuffix(pair, q) {
			return strings.TrimSuffix(pair, q), q
		}
	}
	if len(pair) > 3 {
		return pair[:len(pair)-3], pair[len(pair)-3:]
	}
	return pair, ""
}
