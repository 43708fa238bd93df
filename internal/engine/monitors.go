package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"aether-trading-bot/internal/database"
	"aether-trading-bot/internal/risk"
)

// pending-trade catch-up bounds
const (
	catchUpWindow = 24 * time.Hour
	catchUpLimit  = 10
)

// positionMonitorLoop checks open positions every tick and closes every
// triggered one
func (e *Engine) positionMonitorLoop(ctx context.Context) error {
	interval := time.Duration(e.cfg.MonitorIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info().Dur("interval", interval).Msg("position monitor started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.monitorPositions(ctx)
		}
	}
}

func (e *Engine) monitorPositions(ctx context.Context) {
	triggered, err := e.positions.Monitor(ctx, e.prices)
	if err != nil {
		e.logger.Error().Err(err).Msg("position monitoring failed")
		return
	}

	for _, action := range triggered {
		e.logger.Info().
			Int64("position_id", action.Position.ID).
			Str("pair", action.Position.Pair).
			Str("trigger", action.Reason).
			Float64("price", action.CurrentPrice).
			Float64("unrealized_pnl_pct", action.PnLPct).
			Msg("close trigger")

		if _, err := e.positions.Close(ctx, action.Position, action.Reason); err != nil {
			e.logger.Error().Err(err).
				Int64("position_id", action.Position.ID).
				Msg("triggered close failed")
		}
	}
}

// healthMonitorLoop runs the 30s upkeep tick: stream reconnect, database
// liveness, drawdown guard, heartbeat, status snapshot and pending-trade
// catch-up.
func (e *Engine) healthMonitorLoop(ctx context.Context) error {
	interval := time.Duration(e.cfg.HealthIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info().Dur("interval", interval).Msg("health monitor started")

	var reconnecting atomic.Bool

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.healthTick(ctx, &reconnecting)
		}
	}
}

func (e *Engine) healthTick(ctx context.Context, reconnecting *atomic.Bool) {
	// 1. price stream
	if !e.stream.IsConnected() && reconnecting.CompareAndSwap(false, true) {
		recovery := NewWSRecovery(e.stream, "price_stream",
			nil,
			func() { e.EmergencyStop(ctx, "price stream reconnection exhausted") },
			e.logger)
		go func() {
			defer reconnecting.Store(false)
			recovery.Recover(ctx)
		}()
	}

	// 2. database liveness; persistent failure is an integrity threat
	if err := RetryDB(ctx, e.logger, func(ctx context.Context) error {
		return e.repo.HealthCheck(ctx)
	}); err != nil {
		e.EmergencyStop(ctx, fmt.Sprintf("database unreachable: %v", err))
		return
	}

	// 3. drawdown guard
	state, err := e.repo.GetPortfolioState(ctx, 0)
	if err != nil {
		e.logger.Error().Err(err).Msg("cannot read portfolio state")
	} else if state.CurrentDrawdownPct > e.risk.MaxDrawdownPct {
		e.EmergencyStop(ctx, fmt.Sprintf("drawdown %.2f%% above limit %.2f%%",
			state.CurrentDrawdownPct, e.risk.MaxDrawdownPct))
		return
	}

	// 4. heartbeat
	now := time.Now().UTC()
	e.mu.Lock()
	e.lastHeartbeat = &now
	e.mu.Unlock()

	// 5. status snapshot for the API fast path
	if e.statuses != nil {
		e.statuses.WriteStatus(ctx, e.Status(ctx))
		e.statuses.WritePrices(ctx, e.priceCache.Snapshot())
	}

	// 6. pending-trade catch-up
	if e.tradingAllowed() {
		e.catchUpPending(ctx)
	}
}

// catchUpPending sweeps approved-but-unexecuted decisions from the last
// 24 hours, re-validates them against current portfolio conditions, and
// executes or rejects each.
func (e *Engine) catchUpPending(ctx context.Context) {
	pending, err := e.repo.GetPendingDecisions(ctx, catchUpWindow, catchUpLimit)
	if err != nil {
		e.logger.Error().Err(err).Msg("pending decision sweep failed")
		return
	}

	for _, d := range pending {
		if d.PositionSizeZAR <= 0 {
			// a sizer rejection that never got its tag; close it out
			e.markCaughtUpRejected(ctx, d.ID, database.RejectedByPortfolioRiskRecheck,
				"no trade parameters recorded")
			continue
		}

		params := risk.TradeParameters{
			PositionSizeZAR: d.PositionSizeZAR,
			Leverage:        d.Leverage,
			StopLossPct:     d.StopLossPct,
			TakeProfitPct:   d.TakeProfitPct,
			MaxLossZAR:      d.MaxLossZAR,
			ExpectedGainZAR: d.ExpectedGainZAR,
		}

		check, err := e.portfolio.Check(ctx, d.Pair, d.Signal, params)
		if err != nil {
			e.logger.Error().Err(err).Int64("decision_id", d.ID).Msg("recheck failed")
			continue
		}
		if !check.Passed {
			e.markCaughtUpRejected(ctx, d.ID, database.RejectedByPortfolioRiskRecheck, check.Reason)
			continue
		}

		price, err := e.prices(ctx, d.Pair)
		if err != nil {
			e.markCaughtUpRejected(ctx, d.ID, database.RejectedByExecutionFailed, err.Error())
			continue
		}

		pos, err := e.positions.Open(ctx, d.Pair, d.Signal, params, price, "executed by catch-up sweep")
		if err != nil {
			e.markCaughtUpRejected(ctx, d.ID, database.RejectedByExecutionFailed, err.Error())
			continue
		}

		if err := e.repo.MarkDecisionExecuted(ctx, d.ID, pos.ID); err != nil {
			e.logger.Error().Err(err).Int64("decision_id", d.ID).Msg("mark executed failed")
			continue
		}

		e.logger.Info().
			Int64("decision_id", d.ID).
			Int64("position_id", pos.ID).
			Str("pair", d.Pair).
			Msg("pending decision executed by catch-up")
	}
}

func (e *Engine) markCaughtUpRejected(ctx context.Context, decisionID int64, rejectedBy, reason string) {
	if err := e.repo.MarkDecisionRejected(ctx, decisionID, rejectedBy, reason, ""); err != nil {
		e.logger.Error().Err(err).Int64("decision_id", decisionID).Msg("mark rejected failed")
		return
	}
	e.logger.Info().
		Int64("decision_id", decisionID).
		Str("rejected_by", rejectedBy).
		Str("reason", reason).
		Msg("pending decision rejected by catch-up")
}
