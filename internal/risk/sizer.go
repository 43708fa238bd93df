package risk

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"aether-trading-bot/config"
	"aether-trading-bot/internal/database"
	"aether-trading-bot/internal/features"
)

// TradeParameters is the tier 3 output, consumed unchanged downstream
// unless the strategic gate modifies it.
type TradeParameters struct {
	PositionSizeZAR float64
	Leverage        float64
	StopLossPct     float64
	TakeProfitPct   float64
	MaxLossZAR      float64
	ExpectedGainZAR float64
}

// Proposal couples trade parameters with the decision row they were
// recorded under. Downstream tiers update that same row.
type Proposal struct {
	Params     TradeParameters
	DecisionID int64
}

// SizerStore is the persistence surface the sizer needs
type SizerStore interface {
	GetPortfolioState(ctx context.Context, startingValueZAR float64) (*database.PortfolioState, error)
	GetDailyCloses(ctx context.Context, pair string, limit int) ([]float64, error)
	InsertDecision(ctx context.Context, d *database.RiskDecision) error
}

// Sizer is tier 3: it gates on model confidence and sizes the position
// by a confidence-scaled fractional Kelly rule. Every call writes an
// audit row: proposals as pending decisions, rejections tagged
// TIER3_RISK_SIZER.
type Sizer struct {
	store  SizerStore
	cfg    config.RiskConfig
	logger zerolog.Logger
}

// NewSizer creates a risk sizer
func NewSizer(store SizerStore, cfg config.RiskConfig, logger zerolog.Logger) *Sizer {
	return &Sizer{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "risk_sizer").Logger(),
	}
}

// Evaluate produces a sized proposal or nil when there is no edge. A nil
// proposal with nil error means the rejection row has been written.
func (s *Sizer) Evaluate(ctx context.Context, pair, signal string, confidence float64) (*Proposal, error) {
	// strict: confidence exactly at the threshold is below it
	if !(confidence > s.cfg.MinConfidence) {
		reason := fmt.Sprintf("confidence %.4f not above threshold %.4f", confidence, s.cfg.MinConfidence)
		if err := s.recordRejection(ctx, pair, signal, confidence, reason); err != nil {
			return nil, err
		}
		s.logger.Debug().Str("pair", pair).Float64("confidence", confidence).Msg("no edge, skipped")
		return nil, nil
	}

	state, err := s.store.GetPortfolioState(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("load portfolio for sizing: %w", err)
	}
	if state.TotalValueZAR <= 0 {
		reason := fmt.Sprintf("portfolio value R%.2f, nothing to size against", state.TotalValueZAR)
		if err := s.recordRejection(ctx, pair, signal, confidence, reason); err != nil {
			return nil, err
		}
		return nil, nil
	}

	slPct, tpPct := s.stopsFromVolatility(ctx, pair)

	params := TradeParameters{
		PositionSizeZAR: s.kellySize(state.TotalValueZAR, confidence, slPct, tpPct),
		Leverage:        1,
		StopLossPct:     slPct,
		TakeProfitPct:   tpPct,
	}
	params.MaxLossZAR = params.PositionSizeZAR * params.StopLossPct / 100 * params.Leverage
	params.ExpectedGainZAR = params.PositionSizeZAR * params.TakeProfitPct / 100 * params.Leverage

	decision := &database.RiskDecision{
		Pair:            pair,
		Signal:          signal,
		MLConfidence:    confidence,
		PositionSizeZAR: params.PositionSizeZAR,
		Leverage:        params.Leverage,
		StopLossPct:     params.StopLossPct,
		TakeProfitPct:   params.TakeProfitPct,
		MaxLossZAR:      params.MaxLossZAR,
		ExpectedGainZAR: params.ExpectedGainZAR,
	}
	if err := s.store.InsertDecision(ctx, decision); err != nil {
		return nil, fmt.Errorf("record decision: %w", err)
	}

	s.logger.Info().
		Str("pair", pair).
		Str("signal", signal).
		Float64("size_zar", params.PositionSizeZAR).
		Float64("sl_pct", params.StopLossPct).
		Float64("tp_pct", params.TakeProfitPct).
		Int64("decision_id", decision.ID).
		Msg("trade sized")

	return &Proposal{Params: params, DecisionID: decision.ID}, nil
}

// kellySize applies fractional Kelly with the stop/take payoff ratio,
// scaled down by configured fraction and clamped to the per-position cap.
func (s *Sizer) kellySize(portfolioValue, confidence, slPct, tpPct float64) float64 {
	payoffRatio := tpPct / slPct
	kelly := (confidence*(payoffRatio+1) - 1) / payoffRatio
	if kelly < 0 {
		kelly = 0
	}

	fraction := kelly * s.cfg.KellyFraction
	if fraction > s.cfg.MaxPositionFraction {
		fraction = s.cfg.MaxPositionFraction
	}
	return portfolioValue * fraction
}

// stopsFromVolatility derives stop-loss and take-profit percentages from
// the 30-day daily return volatility, with a 1.5% default when no
// history exists. Take-profit is twice the stop.
func (s *Sizer) stopsFromVolatility(ctx context.Context, pair string) (slPct, tpPct float64) {
	vol := 0.015
	if closes, err := s.store.GetDailyCloses(ctx, pair, 31); err == nil && len(closes) >= 8 {
		if v := features.ReturnVolatility(closes, 30); v > 0 {
			vol = v
		}
	}

	slPct = clampPct(vol*100*1.5, 1, 5)
	tpPct = 2 * slPct
	return slPct, tpPct
}

func (s *Sizer) recordRejection(ctx context.Context, pair, signal string, confidence float64, reason string) error {
	rejectedBy := database.RejectedByRiskSizer
	decision := &database.RiskDecision{
		Pair:            pair,
		Signal:          signal,
		MLConfidence:    confidence,
		RejectedBy:      &rejectedBy,
		RejectionReason: &reason,
	}
	if err := s.store.InsertDecision(ctx, decision); err != nil {
		return fmt.Errorf("record rejection: %w", err)
	}
	return nil
}

func clampPct(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
