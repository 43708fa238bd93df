package llm

import (
	"fmt"
	"strings"
)

const gateSystemPrompt = `You are the strategic risk reviewer for an automated cryptocurrency trading system.
You receive one proposed trade with its market and portfolio context and must return a verdict.

Respond with ONLY a JSON object, no prose, in exactly this shape:
{
  "decision": "APPROVE" | "REJECT" | "MODIFY",
  "reasoning": "<one or two sentences>",
  "confidence_adjustment": <number>,
  "position_size_multiplier": <number between 0 and 2>,
  "risk_flags": ["<flag>", ...],
  "suggested_modifications": {
    "leverage": <number, optional>,
    "stop_loss_pct": <number, optional>,
    "take_profit_pct": <number, optional>
  }
}

Rules:
- APPROVE keeps the trade parameters unchanged; set position_size_multiplier to 1.
- REJECT abandons the trade; explain why in reasoning.
- MODIFY scales the position by position_size_multiplier and may override
  leverage, stop_loss_pct or take_profit_pct via suggested_modifications.
- Reject when the correlation regime is CRISIS, when drawdown is elevated,
  or when the trade direction contradicts the dominant market structure.`

func buildGatePrompt(req GateRequest, mc *marketContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Proposed trade:\n")
	fmt.Fprintf(&b, "- pair: %s\n", req.Pair)
	fmt.Fprintf(&b, "- signal: %s\n", req.Signal)
	fmt.Fprintf(&b, "- model confidence: %.2f\n", req.Confidence)
	fmt.Fprintf(&b, "- position size: R%.2f\n", req.PositionSizeZAR)
	fmt.Fprintf(&b, "- leverage: %.1fx\n", req.Leverage)
	fmt.Fprintf(&b, "- stop loss: %.2f%%\n", req.StopLossPct)
	fmt.Fprintf(&b, "- take profit: %.2f%%\n", req.TakeProfitPct)

	if mc == nil {
		return b.String()
	}

	fmt.Fprintf(&b, "\nMarket context:\n")
	fmt.Fprintf(&b, "- price change 24h: %.2f%%, 7d: %.2f%%, 30d: %.2f%%\n",
		mc.Change24hPct, mc.Change7dPct, mc.Change30dPct)
	fmt.Fprintf(&b, "- volatility regime: %s\n", mc.VolatilityRegime)
	fmt.Fprintf(&b, "- correlation regime: %s\n", mc.CorrelationRegime)

	fmt.Fprintf(&b, "\nPortfolio:\n")
	fmt.Fprintf(&b, "- total value: R%.2f\n", mc.PortfolioValueZAR)
	fmt.Fprintf(&b, "- current drawdown: %.2f%%\n", mc.DrawdownPct)
	fmt.Fprintf(&b, "- open positions: %d (exposure R%.2f)\n", mc.OpenPositions, mc.OpenExposureZAR)

	if len(mc.RecentSignals) > 0 {
		fmt.Fprintf(&b, "\nRecent model signals for %s:", req.Pair)
		for _, class := range []string{"BUY", "SELL", "HOLD"} {
			if n := mc.RecentSignals[class]; n > 0 {
				fmt.Fprintf(&b, " %s=%d", class, n)
			}
		}
		fmt.Fprintf(&b, "\n")
	}

	return b.String()
}
