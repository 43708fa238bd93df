package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"aether-trading-bot/internal/database"
)

// Rejection reasons recorded when the gate degrades instead of deciding
const (
	ReasonAPIError   = "LLM_API_ERROR"
	ReasonParseError = "LLM_PARSE_ERROR"
)

// Decision values the gate can return
const (
	DecisionApprove = "APPROVE"
	DecisionReject  = "REJECT"
	DecisionModify  = "MODIFY"
)

// GateRequest is the proposed trade under review
type GateRequest struct {
	Pair            string
	Signal          string
	Confidence      float64
	PositionSizeZAR float64
	Leverage        float64
	StopLossPct     float64
	TakeProfitPct   float64
}

// Verdict is the structured gate outcome. For MODIFY the multiplier
// scales position size, max loss and expected gain; the override
// pointers replace parameters when non-nil.
type Verdict struct {
	Decision               string   `json:"decision"`
	Reasoning              string   `json:"reasoning"`
	ConfidenceAdjustment   float64  `json:"confidence_adjustment"`
	PositionSizeMultiplier float64  `json:"position_size_multiplier"`
	RiskFlags              []string `json:"risk_flags"`
	SuggestedModifications struct {
		Leverage      *float64 `json:"leverage,omitempty"`
		StopLossPct   *float64 `json:"stop_loss_pct,omitempty"`
		TakeProfitPct *float64 `json:"take_profit_pct,omitempty"`
	} `json:"suggested_modifications"`

	// set when the verdict is a degraded REJECT rather than a model decision
	FailureReason string `json:"-"`
}

// GateStore is the persistence surface the gate reads context from
type GateStore interface {
	GetDailyCloses(ctx context.Context, pair string, days int) ([]float64, error)
	GetOpenPositions(ctx context.Context) ([]*database.Position, error)
	GetPortfolioState(ctx context.Context, startingValueZAR float64) (*database.PortfolioState, error)
	GetRecentPredictions(ctx context.Context, pair string, limit int) ([]*database.Prediction, error)
}

// Completer is the LLM surface the gate needs
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Gate is the tier 4 strategic check. It gathers market and portfolio
// context, asks the model for a structured verdict, and degrades safely
// to REJECT on any API or parse failure.
type Gate struct {
	client Completer
	store  GateStore
	pairs  []string
	logger zerolog.Logger
}

// NewGate creates the strategic gate over all configured pairs
func NewGate(client Completer, store GateStore, pairs []string, logger zerolog.Logger) *Gate {
	return &Gate{
		client: client,
		store:  store,
		pairs:  pairs,
		logger: logger.With().Str("component", "strategic_gate").Logger(),
	}
}

// Evaluate reviews the proposed trade. The returned verdict is always
// usable: errors surface as REJECT with FailureReason set, never as a
// spurious APPROVE.
func (g *Gate) Evaluate(ctx context.Context, req GateRequest) *Verdict {
	marketCtx, err := g.gatherContext(ctx, req.Pair)
	if err != nil {
		// context gathering is best-effort; trade review proceeds on
		// whatever was collected
		g.logger.Warn().Err(err).Str("pair", req.Pair).Msg("partial gate context")
	}

	response, err := g.client.Complete(ctx, gateSystemPrompt, buildGatePrompt(req, marketCtx))
	if err != nil {
		g.logger.Error().Err(err).Str("pair", req.Pair).Msg("LLM call failed, rejecting")
		return failedVerdict(ReasonAPIError, err)
	}

	verdict, err := parseVerdict(response)
	if err != nil {
		g.logger.Error().Err(err).Str("pair", req.Pair).Msg("unparseable verdict, rejecting")
		return failedVerdict(ReasonParseError, err)
	}

	g.logger.Info().
		Str("pair", req.Pair).
		Str("decision", verdict.Decision).
		Float64("multiplier", verdict.PositionSizeMultiplier).
		Msg("strategic verdict")
	return verdict
}

func failedVerdict(reason string, err error) *Verdict {
	return &Verdict{
		Decision:      DecisionReject,
		Reasoning:     fmt.Sprintf("%s: %v", reason, err),
		FailureReason: reason,
	}
}

func parseVerdict(response string) (*Verdict, error) {
	cleaned := StripMarkdownCodeBlock(response)

	var verdict Verdict
	if err := json.Unmarshal([]byte(cleaned), &verdict); err != nil {
		return nil, fmt.Errorf("parse verdict JSON: %w", err)
	}

	switch verdict.Decision {
	case DecisionApprove, DecisionReject, DecisionModify:
	default:
		return nil, fmt.Errorf("unknown decision %q", verdict.Decision)
	}

	// multiplier outside [0, 2] means the model ignored instructions
	if verdict.Decision == DecisionModify {
		if verdict.PositionSizeMultiplier < 0 || verdict.PositionSizeMultiplier > 2 {
			return nil, fmt.Errorf("multiplier %.2f out of range [0, 2]", verdict.PositionSizeMultiplier)
		}
	}
	return &verdict, nil
}

// marketContext is the snapshot handed to the model
type marketContext struct {
	Change24hPct      float64
	Change7dPct       float64
	Change30dPct      float64
	VolatilityRegime  string
	CorrelationRegime string
	PortfolioValueZAR float64
	DrawdownPct       float64
	OpenPositions     int
	OpenExposureZAR   float64
	RecentSignals     map[string]int
}

func (g *Gate) gatherContext(ctx context.Context, pair string) (*marketContext, error) {
	mc := &marketContext{
		VolatilityRegime:  "UNKNOWN",
		CorrelationRegime: "UNKNOWN",
		RecentSignals:     make(map[string]int),
	}
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	closes, err := g.store.GetDailyCloses(ctx, pair, 31)
	record(err)
	if len(closes) > 0 {
		mc.Change24hPct = changeOver(closes, 1)
		mc.Change7dPct = changeOver(closes, 7)
		mc.Change30dPct = changeOver(closes, 30)
		mc.VolatilityRegime = volatilityRegime(closes)
	}

	mc.CorrelationRegime = g.correlationRegime(ctx, pair)

	if state, err := g.store.GetPortfolioState(ctx, 0); err == nil {
		mc.PortfolioValueZAR = state.TotalValueZAR
		mc.DrawdownPct = state.CurrentDrawdownPct
	} else {
		record(err)
	}

	if positions, err := g.store.GetOpenPositions(ctx); err == nil {
		mc.OpenPositions = len(positions)
		for _, p := range positions {
			mc.OpenExposureZAR += p.PositionValueZAR
		}
	} else {
		record(err)
	}

	if predictions, err := g.store.GetRecentPredictions(ctx, pair, 20); err == nil {
		for _, p := range predictions {
			mc.RecentSignals[p.Class]++
		}
	} else {
		record(err)
	}

	return mc, firstErr
}

// correlationRegime classifies the average pairwise 30-day correlation
// across configured pairs
func (g *Gate) correlationRegime(ctx context.Context, pair string) string {
	series := make(map[string][]float64)
	for _, p := range g.pairs {
		closes, err := g.store.GetDailyCloses(ctx, p, 31)
		if err != nil || len(closes) < 8 {
			continue
		}
		series[p] = dailyReturns(closes)
	}
	if len(series) < 2 {
		return "UNKNOWN"
	}

	var sum float64
	var n int
	for _, p := range g.pairs {
		if p == pair {
			continue
		}
		a, okA := series[pair]
		b, okB := series[p]
		if !okA || !okB {
			continue
		}
		sum += math.Abs(correlation(a, b))
		n++
	}
	if n == 0 {
		return "UNKNOWN"
	}

	switch avg := sum / float64(n); {
	case avg >= 0.85:
		return "CRISIS"
	case avg >= 0.60:
		return "ELEVATED"
	default:
		return "CALM"
	}
}

func changeOver(closes []float64, days int) float64 {
	if len(closes) <= days {
		return 0
	}
	prev := closes[len(closes)-1-days]
	if prev == 0 {
		return 0
	}
	return (closes[len(closes)-1]/prev - 1) * 100
}

func volatilityRegime(closes []float64) string {
	returns := dailyReturns(closes)
	if len(returns) < 5 {
		return "UNKNOWN"
	}
	var sumSq float64
	for _, r := range returns {
		sumSq += r * r
	}
	vol := math.Sqrt(sumSq / float64(len(returns)))
	switch {
	case vol >= 0.05:
		return "HIGH"
	case vol >= 0.02:
		return "NORMAL"
	default:
		return "LOW"
	}
}

func dailyReturns(closes []float64) []float64 {
	var returns []float64
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	return returns
}

// correlation is the Pearson correlation of two return series aligned
// from the tail
func correlation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
