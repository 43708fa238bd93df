package position

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"aether-trading-bot/internal/database"
	"aether-trading-bot/internal/execution"
	"aether-trading-bot/internal/risk"
)

// Store is the persistence surface the manager needs
type Store interface {
	InsertPosition(ctx context.Context, p *database.Position) error
	ClosePosition(ctx context.Context, id int64, exitPrice float64, exitTime time.Time, pnlPct, pnlZAR float64, closeReason string) error
	GetOpenPositions(ctx context.Context) ([]*database.Position, error)
	ApplyRealizedPnL(ctx context.Context, pnlZAR float64) (*database.PortfolioState, error)
}

// OrderPlacer is the execution surface the manager needs
type OrderPlacer interface {
	PlaceMarketOrder(ctx context.Context, req execution.OrderRequest) (*execution.OrderResult, error)
}

// TriggeredAction is one position the monitor wants closed
type TriggeredAction struct {
	Position     *database.Position
	Reason       string // STOP_LOSS, TAKE_PROFIT or TIMEOUT
	CurrentPrice float64
	PnLPct       float64
}

// Manager owns the position lifecycle: open through the router, monitor
// against stop/take/timeout, close with portfolio accounting.
type Manager struct {
	store   Store
	orders  OrderPlacer
	timeout time.Duration
	logger  zerolog.Logger
}

// NewManager creates a position manager with the given hard timeout
func NewManager(store Store, orders OrderPlacer, timeout time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{
		store:   store,
		orders:  orders,
		timeout: timeout,
		logger:  logger.With().Str("component", "position_manager").Logger(),
	}
}

// Open places the entry order and records the position. Stop and take
// prices are fixed at entry from the side's direction:
// BUY stops below and takes above, SELL mirrors.
func (m *Manager) Open(ctx context.Context, pair, side string, params risk.TradeParameters, currentPrice float64, strategicReasoning string) (*database.Position, error) {
	if currentPrice <= 0 {
		return nil, fmt.Errorf("no usable price for %s", pair)
	}

	quantity := params.PositionSizeZAR / currentPrice

	result, err := m.orders.PlaceMarketOrder(ctx, execution.OrderRequest{
		Pair:     pair,
		Side:     side,
		Quantity: quantity,
	})
	if err != nil {
		return nil, fmt.Errorf("entry order for %s: %w", pair, err)
	}
	if !result.Success {
		return nil, fmt.Errorf("entry order for %s blocked: %s", pair, result.Error)
	}

	entryPrice := result.FillPrice
	if entryPrice <= 0 {
		entryPrice = currentPrice
	}

	stopPrice, takePrice := stopTakePrices(side, entryPrice, params.StopLossPct, params.TakeProfitPct)

	position := &database.Position{
		Pair:               pair,
		Side:               side,
		EntryPrice:         entryPrice,
		EntryTime:          time.Now().UTC(),
		Quantity:           quantity,
		PositionValueZAR:   params.PositionSizeZAR,
		Leverage:           params.Leverage,
		StopLossPrice:      stopPrice,
		TakeProfitPrice:    takePrice,
		Status:             database.PositionOpen,
		StrategicReasoning: strategicReasoning,
		OrderID:            result.OrderID,
	}
	if err := m.store.InsertPosition(ctx, position); err != nil {
		return nil, fmt.Errorf("record position for %s: %w", pair, err)
	}

	m.logger.Info().
		Int64("position_id", position.ID).
		Str("pair", pair).
		Str("side", side).
		Float64("entry_price", entryPrice).
		Float64("stop", stopPrice).
		Float64("take", takePrice).
		Float64("quantity", quantity).
		Msg("position opened")

	return position, nil
}

// Monitor checks every open position against its stop, take and timeout.
// Stop is evaluated before take so a sample crossing both closes at the
// stop. Price lookup failures skip the position until the next tick.
func (m *Manager) Monitor(ctx context.Context, prices execution.PriceGetter) ([]TriggeredAction, error) {
	open, err := m.store.GetOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load open positions: %w", err)
	}

	now := time.Now().UTC()
	var triggered []TriggeredAction

	for _, p := range open {
		price, err := prices(ctx, p.Pair)
		if err != nil {
			m.logger.Warn().Err(err).
				Int64("position_id", p.ID).
				Str("pair", p.Pair).
				Msg("no usable price, skipping position this tick")
			continue
		}

		pnlPct := UnrealizedPnLPct(p, price)

		switch {
		case stopHit(p, price):
			triggered = append(triggered, TriggeredAction{p, database.PositionStopLoss, price, pnlPct})
		case takeHit(p, price):
			triggered = append(triggered, TriggeredAction{p, database.PositionTakeProfit, price, pnlPct})
		case now.Sub(p.EntryTime) > m.timeout:
			triggered = append(triggered, TriggeredAction{p, database.PositionTimeout, price, pnlPct})
		}
	}
	return triggered, nil
}

// Close exits a position at market, records the realized result and
// applies it to portfolio state.
func (m *Manager) Close(ctx context.Context, p *database.Position, reason string) (*database.Position, error) {
	result, err := m.orders.PlaceMarketOrder(ctx, execution.OrderRequest{
		Pair:     p.Pair,
		Side:     oppositeSide(p.Side),
		Quantity: p.Quantity,
	})
	if err != nil {
		return nil, fmt.Errorf("exit order for position %d: %w", p.ID, err)
	}
	if !result.Success {
		return nil, fmt.Errorf("exit order for position %d blocked: %s", p.ID, result.Error)
	}

	exitPrice := result.FillPrice
	exitTime := time.Now().UTC()
	pnlPct := realizedPnLPct(p, exitPrice)
	pnlZAR := p.PositionValueZAR * pnlPct / 100

	if err := m.store.ClosePosition(ctx, p.ID, exitPrice, exitTime, pnlPct, pnlZAR, reason); err != nil {
		return nil, fmt.Errorf("record close for position %d: %w", p.ID, err)
	}

	state, err := m.store.ApplyRealizedPnL(ctx, pnlZAR)
	if err != nil {
		return nil, fmt.Errorf("apply pnl for position %d: %w", p.ID, err)
	}

	m.logger.Info().
		Int64("position_id", p.ID).
		Str("pair", p.Pair).
		Str("reason", reason).
		Float64("exit_price", exitPrice).
		Float64("pnl_pct", pnlPct).
		Float64("pnl_zar", pnlZAR).
		Float64("portfolio_value", state.TotalValueZAR).
		Float64("drawdown_pct", state.CurrentDrawdownPct).
		Msg("position closed")

	closed := *p
	closed.ExitPrice = &exitPrice
	closed.ExitTime = &exitTime
	closed.PnLPct = &pnlPct
	closed.PnLZAR = &pnlZAR
	closed.Status = reason
	closed.CloseReason = &reason
	return &closed, nil
}

// CloseAll force-closes every open position with the given reason.
// Used by the emergency stop; individual failures are logged and the
// sweep continues.
func (m *Manager) CloseAll(ctx context.Context, reason string) int {
	open, err := m.store.GetOpenPositions(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("cannot load positions for close-all")
		return 0
	}

	closed := 0
	for _, p := range open {
		if _, err := m.Close(ctx, p, reason); err != nil {
			m.logger.Error().Err(err).Int64("position_id", p.ID).Msg("close-all failed for position")
			continue
		}
		closed++
	}
	return closed
}

// UnrealizedPnLPct is the current leveraged P&L percentage for an open
// position at the given price
func UnrealizedPnLPct(p *database.Position, price float64) float64 {
	return realizedPnLPct(p, price)
}

func realizedPnLPct(p *database.Position, price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	raw := (price - p.EntryPrice) / p.EntryPrice * 100
	if p.Side == database.SignalSell {
		raw = -raw
	}
	return raw * p.Leverage
}

func stopTakePrices(side string, entry, slPct, tpPct float64) (stop, take float64) {
	if side == database.SignalBuy {
		return entry * (1 - slPct/100), entry * (1 + tpPct/100)
	}
	return entry * (1 + slPct/100), entry * (1 - tpPct/100)
}

// stopHit reports whether price crossed the stop in the adverse direction
func stopHit(p *database.Position, price float64) bool {
	if p.Side == database.SignalBuy {
		return price <= p.StopLossPrice
	}
	return price >= p.StopLossPrice
}

// takeHit reports whether price crossed the take in the favorable direction
func takeHit(p *database.Position, price float64) bool {
	if p.Side == database.SignalBuy {
		return price >= p.TakeProfitPrice
	}
	return price <= p.TakeProfitPrice
}

func oppositeSide(side string) string {
	if side == database.SignalBuy {
		return database.SignalSell
	}
	return database.SignalBuy
}
