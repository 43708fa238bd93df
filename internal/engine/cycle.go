package engine

import (
	"context"
	"fmt"
	"time"

	"aether-trading-bot/internal/ai/llm"
	"aether-trading-bot/internal/database"
	"aether-trading-bot/internal/events"
	"aether-trading-bot/internal/risk"
)

// candle fetch retry: the poller's commit may race the event
const (
	candleFetchRetries = 5
	candleFetchDelay   = 200 * time.Millisecond
)

// runCycle drives one pair through the full pipeline for a NEW_CANDLE
// event. Feature persistence happens unconditionally; everything after
// is gated on trading being enabled.
func (e *Engine) runCycle(ctx context.Context, event events.Event) error {
	defer func() {
		now := time.Now().UTC()
		e.mu.Lock()
		e.cycleCount++
		e.lastCycleAt = &now
		e.currentStage = ""
		e.mu.Unlock()
	}()

	pair := event.Pair

	// stage 1: confirm the candle landed
	e.setStage(StageDataIngestion)
	if err := e.awaitCandle(ctx, pair, event.Timeframe, event.Timestamp); err != nil {
		return err
	}

	// features are the heartbeat; they persist even when trading is off
	if _, err := e.engineer.ComputeAndStore(ctx, pair); err != nil {
		e.tierRecovery.RecordFailure("feature_engineer", err)
		return fmt.Errorf("feature computation for %s: %w", pair, err)
	}
	e.tierRecovery.RecordSuccess("feature_engineer")

	if !e.tradingAllowed() {
		e.logger.Debug().Str("pair", pair).Msg("trading disabled, cycle ends after features")
		return nil
	}

	// stage 2: prediction
	e.setStage(StagePrediction)
	prediction, err := e.predictor.Predict(ctx, pair)
	if err != nil {
		e.tierRecovery.RecordFailure("predictor", err)
		return fmt.Errorf("prediction for %s: %w", pair, err)
	}
	e.tierRecovery.RecordSuccess("predictor")

	if prediction.Class == database.SignalHold {
		e.logger.Debug().Str("pair", pair).Float64("confidence", prediction.Confidence).Msg("HOLD, no trade")
		return nil
	}

	// stage 3: sizing; rejections write their own audit row
	e.setStage(StagePositionSizing)
	proposal, err := e.sizer.Evaluate(ctx, pair, prediction.Class, prediction.Confidence)
	if err != nil {
		return fmt.Errorf("sizing for %s: %w", pair, err)
	}
	if proposal == nil {
		return nil
	}

	params := proposal.Params
	strategicReasoning := ""

	// stage 4: strategic gate, when enabled
	if e.gate != nil {
		e.setStage(StageLLMDecision)
		verdict := e.gate.Evaluate(ctx, llm.GateRequest{
			Pair:            pair,
			Signal:          prediction.Class,
			Confidence:      prediction.Confidence,
			PositionSizeZAR: params.PositionSizeZAR,
			Leverage:        params.Leverage,
			StopLossPct:     params.StopLossPct,
			TakeProfitPct:   params.TakeProfitPct,
		})

		switch verdict.Decision {
		case llm.DecisionReject:
			reason := verdict.FailureReason
			if reason == "" {
				reason = "strategic rejection"
			}
			if err := e.repo.MarkDecisionRejected(ctx, proposal.DecisionID,
				database.RejectedByLLM, reason, verdict.Reasoning); err != nil {
				return fmt.Errorf("record LLM rejection: %w", err)
			}
			return nil
		case llm.DecisionModify:
			params = applyVerdict(params, verdict)
			if err := e.repo.UpdateDecisionParams(ctx, proposal.DecisionID,
				params.PositionSizeZAR, params.Leverage, params.StopLossPct,
				params.TakeProfitPct, params.MaxLossZAR, params.ExpectedGainZAR); err != nil {
				return fmt.Errorf("record modified params: %w", err)
			}
		}
		strategicReasoning = verdict.Reasoning
	}

	// stage 5a: portfolio limits
	e.setStage(StageRiskValidation)
	check, err := e.portfolio.Check(ctx, pair, prediction.Class, params)
	if err != nil {
		return fmt.Errorf("portfolio check for %s: %w", pair, err)
	}
	if !check.Passed {
		if err := e.repo.MarkDecisionRejected(ctx, proposal.DecisionID,
			database.RejectedByPortfolioRisk, check.Reason, ""); err != nil {
			return fmt.Errorf("record portfolio rejection: %w", err)
		}
		return nil
	}

	// stage 5b: execution
	e.setStage(StageTradeExecution)
	currentPrice, err := e.prices(ctx, pair)
	if err != nil {
		if markErr := e.repo.MarkDecisionRejected(ctx, proposal.DecisionID,
			database.RejectedByExecutionFailed, err.Error(), ""); markErr != nil {
			return fmt.Errorf("record execution failure: %w", markErr)
		}
		return nil
	}

	pos, err := e.positions.Open(ctx, pair, prediction.Class, params, currentPrice, strategicReasoning)
	if err != nil {
		e.logger.Warn().Err(err).Str("pair", pair).Msg("execution failed")
		if markErr := e.repo.MarkDecisionRejected(ctx, proposal.DecisionID,
			database.RejectedByExecutionFailed, err.Error(), ""); markErr != nil {
			return fmt.Errorf("record execution failure: %w", markErr)
		}
		return nil
	}

	if err := e.repo.MarkDecisionExecuted(ctx, proposal.DecisionID, pos.ID); err != nil {
		return fmt.Errorf("mark decision executed: %w", err)
	}

	e.logger.Info().
		Str("pair", pair).
		Str("signal", prediction.Class).
		Int64("position_id", pos.ID).
		Int64("decision_id", proposal.DecisionID).
		Msg("trade executed")
	return nil
}

// awaitCandle fetches the event's candle, retrying briefly because the
// poller commits and publishes in quick succession.
func (e *Engine) awaitCandle(ctx context.Context, pair, timeframe string, openTime time.Time) error {
	var lastErr error
	for attempt := 0; attempt < candleFetchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(candleFetchDelay):
			}
		}
		if _, err := e.repo.GetCandle(ctx, pair, timeframe, openTime); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("candle %s %s @ %s not found after %d attempts: %w",
		pair, timeframe, openTime.Format(time.RFC3339), candleFetchRetries, lastErr)
}

// applyVerdict folds a MODIFY verdict into the trade parameters. The
// multiplier scales size and the derived amounts; explicit overrides
// replace leverage and stop/take percentages.
func applyVerdict(params risk.TradeParameters, verdict *llm.Verdict) risk.TradeParameters {
	out := params
	out.PositionSizeZAR *= verdict.PositionSizeMultiplier
	out.MaxLossZAR *= verdict.PositionSizeMultiplier
	out.ExpectedGainZAR *= verdict.PositionSizeMultiplier

	mods := verdict.SuggestedModifications
	if mods.Leverage != nil && *mods.Leverage >= 1 {
		out.Leverage = *mods.Leverage
	}
	if mods.StopLossPct != nil && *mods.StopLossPct > 0 {
		out.StopLossPct = *mods.StopLossPct
	}
	if mods.TakeProfitPct != nil && *mods.TakeProfitPct > 0 {
		out.TakeProfitPct = *mods.TakeProfitPct
	}

	// re-derive the amounts when the percentages changed
	out.MaxLossZAR = out.PositionSizeZAR * out.StopLossPct / 100 * out.Leverage
	out.ExpectedGainZAR = out.PositionSizeZAR * out.TakeProfitPct / 100 * out.Leverage
	return out
}
