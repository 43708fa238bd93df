package risk

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"aether-trading-bot/config"
	"aether-trading-bot/internal/database"
	"aether-trading-bot/internal/features"
)

// volatility fallback chain for the dynamic risk capacity check
const (
	referenceVolPair = "BTCZAR"
	defaultDailyVol  = 0.015
)

// CheckResult is the tier 5 verdict on a proposed trade
type CheckResult struct {
	Passed         bool
	Reason         string
	ViolatedLimits []string
	Metrics        map[string]float64
}

// PortfolioStore is the persistence surface the manager needs
type PortfolioStore interface {
	GetPortfolioState(ctx context.Context, startingValueZAR float64) (*database.PortfolioState, error)
	GetOpenPositions(ctx context.Context) ([]*database.Position, error)
	SumRealizedPnLSince(ctx context.Context, cutoff time.Time) (float64, error)
	GetDailyCloses(ctx context.Context, pair string, limit int) ([]float64, error)
	GetPortfolioValueHistory(ctx context.Context, days int) ([]float64, error)
}

// PortfolioManager is tier 5's gatekeeper: seven portfolio-level checks
// that every proposed trade must clear. All checks run so the rejection
// reason lists every violated limit, not just the first.
type PortfolioManager struct {
	store  PortfolioStore
	cfg    config.RiskConfig
	logger zerolog.Logger
}

// NewPortfolioManager creates the portfolio risk manager
func NewPortfolioManager(store PortfolioStore, cfg config.RiskConfig, logger zerolog.Logger) *PortfolioManager {
	return &PortfolioManager{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "portfolio_risk").Logger(),
	}
}

// Check validates the proposed trade against all portfolio limits
func (m *PortfolioManager) Check(ctx context.Context, pair, signal string, params TradeParameters) (*CheckResult, error) {
	state, err := m.store.GetPortfolioState(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("load portfolio state: %w", err)
	}

	if state.TotalValueZAR <= 0 {
		return &CheckResult{
			Passed:         false,
			Reason:         fmt.Sprintf("portfolio value is R%.2f, risk capacity undefined", state.TotalValueZAR),
			ViolatedLimits: []string{"portfolio_value"},
		}, nil
	}

	open, err := m.store.GetOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load open positions: %w", err)
	}

	result := &CheckResult{Metrics: make(map[string]float64)}
	var violations []string
	violate := func(limit, detail string) {
		result.ViolatedLimits = append(result.ViolatedLimits, limit)
		violations = append(violations, detail)
	}

	portfolioValue := state.TotalValueZAR

	// 1. drawdown
	result.Metrics["current_drawdown_pct"] = state.CurrentDrawdownPct
	if state.CurrentDrawdownPct > m.cfg.MaxDrawdownPct {
		violate("drawdown", fmt.Sprintf("drawdown %.2f%% exceeds limit %.2f%%",
			state.CurrentDrawdownPct, m.cfg.MaxDrawdownPct))
	}

	// 2. daily loss
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	todayPnL, err := m.store.SumRealizedPnLSince(ctx, midnight)
	if err != nil {
		return nil, fmt.Errorf("sum daily pnl: %w", err)
	}
	todayPnLPct := todayPnL / portfolioValue * 100
	result.Metrics["today_pnl_pct"] = todayPnLPct
	if todayPnLPct < -m.cfg.DailyLossLimitPct {
		violate("daily_loss", fmt.Sprintf("today's P&L %.2f%% breaches daily loss limit %.2f%%",
			todayPnLPct, m.cfg.DailyLossLimitPct))
	}

	// 3. volatility-scaled risk capacity, cash sufficiency, size floor
	m.checkRiskCapacity(ctx, open, params, portfolioValue, result, violate)

	// 4. single position size
	sizeFraction := params.PositionSizeZAR / portfolioValue * 100
	result.Metrics["position_pct"] = sizeFraction
	if sizeFraction > m.cfg.MaxSinglePositionPct {
		violate("single_position", fmt.Sprintf("position %.2f%% of portfolio exceeds %.2f%% cap",
			sizeFraction, m.cfg.MaxSinglePositionPct))
	}

	// 5. sector exposure, all open crypto positions plus this trade
	var openValue float64
	for _, p := range open {
		openValue += p.PositionValueZAR
	}
	sectorPct := (openValue + params.PositionSizeZAR) / portfolioValue * 100
	result.Metrics["sector_exposure_pct"] = sectorPct
	if sectorPct > m.cfg.MaxSectorExposurePct {
		violate("sector_exposure", fmt.Sprintf("crypto exposure %.2f%% exceeds %.2f%% cap",
			sectorPct, m.cfg.MaxSectorExposurePct))
	}

	// 6. correlation against every other open pair, strict <
	m.checkCorrelation(ctx, pair, open, result, violate)

	// 7. total leverage
	leveraged := params.PositionSizeZAR * params.Leverage
	for _, p := range open {
		leveraged += p.PositionValueZAR * p.Leverage
	}
	totalLeverage := leveraged / portfolioValue
	result.Metrics["total_leverage"] = totalLeverage
	if totalLeverage > m.cfg.MaxTotalLeverage {
		violate("leverage", fmt.Sprintf("total leverage %.2fx exceeds %.2fx cap",
			totalLeverage, m.cfg.MaxTotalLeverage))
	}

	if len(violations) > 0 {
		result.Passed = false
		result.Reason = strings.Join(violations, "; ")
		m.logger.Info().
			Str("pair", pair).
			Str("signal", signal).
			Strs("violated", result.ViolatedLimits).
			Msg("trade blocked by portfolio limits")
		return result, nil
	}

	result.Passed = true
	return result, nil
}

// checkRiskCapacity enforces the dynamic aggregate-at-risk limit plus
// cash sufficiency and the minimum position floor.
func (m *PortfolioManager) checkRiskCapacity(ctx context.Context, open []*database.Position, params TradeParameters, portfolioValue float64, result *CheckResult, violate func(limit, detail string)) {
	var atRisk float64
	var openValue float64
	for _, p := range open {
		if p.EntryPrice > 0 {
			atRisk += p.PositionValueZAR * math.Abs(p.EntryPrice-p.StopLossPrice) / p.EntryPrice
		}
		openValue += p.PositionValueZAR
	}
	newAtRisk := params.PositionSizeZAR * params.StopLossPct / 100

	limitFraction := m.riskLimitFraction(ctx)
	riskLimit := portfolioValue * limitFraction

	result.Metrics["at_risk_zar"] = atRisk + newAtRisk
	result.Metrics["risk_limit_zar"] = riskLimit
	result.Metrics["risk_limit_fraction"] = limitFraction

	if atRisk+newAtRisk > riskLimit {
		violate("risk_capacity", fmt.Sprintf("aggregate at-risk R%.2f exceeds volatility-scaled limit R%.2f",
			atRisk+newAtRisk, riskLimit))
	}

	cash := portfolioValue - openValue
	if params.PositionSizeZAR > cash {
		violate("cash", fmt.Sprintf("position R%.2f exceeds available cash R%.2f",
			params.PositionSizeZAR, cash))
	}

	minSize := portfolioValue * m.cfg.MinPositionPct / 100
	if params.PositionSizeZAR < minSize {
		violate("min_position", fmt.Sprintf("position R%.2f below %.1f%% floor (R%.2f)",
			params.PositionSizeZAR, m.cfg.MinPositionPct, minSize))
	}
}

// riskLimitFraction scales the portfolio risk budget inversely with
// realized volatility: calm markets allow up to 50% of portfolio at
// risk, turbulent markets shrink it toward 25%.
func (m *PortfolioManager) riskLimitFraction(ctx context.Context) float64 {
	vol := m.portfolioVolatility(ctx)
	fraction := 0.50 * defaultDailyVol / vol
	if fraction > 0.50 {
		fraction = 0.50
	}
	if fraction < 0.25 {
		fraction = 0.25
	}
	return fraction
}

// portfolioVolatility follows the fallback chain: 30-day portfolio value
// history, then reference pair daily volatility, then the default.
func (m *PortfolioManager) portfolioVolatility(ctx context.Context) float64 {
	if history, err := m.store.GetPortfolioValueHistory(ctx, 30); err == nil && len(history) >= 8 {
		if v := features.ReturnVolatility(history, 30); v > 0 {
			return v
		}
	}
	if closes, err := m.store.GetDailyCloses(ctx, referenceVolPair, 31); err == nil && len(closes) >= 8 {
		if v := features.ReturnVolatility(closes, 30); v > 0 {
			return v
		}
	}
	return defaultDailyVol
}

func (m *PortfolioManager) checkCorrelation(ctx context.Context, pair string, open []*database.Position, result *CheckResult, violate func(limit, detail string)) {
	newReturns := m.returns(ctx, pair)
	if len(newReturns) < 8 {
		// not enough shared history to measure; cannot flag what cannot
		// be computed
		return
	}

	seen := make(map[string]bool)
	for _, p := range open {
		if p.Pair == pair || seen[p.Pair] {
			continue
		}
		seen[p.Pair] = true

		openReturns := m.returns(ctx, p.Pair)
		if len(openReturns) < 8 {
			continue
		}

		corr := Correlation(newReturns, openReturns)
		result.Metrics["correlation_"+p.Pair] = corr
		// strict: exactly at the cap counts as violating
		if !(math.Abs(corr) < m.cfg.MaxCorrelation) {
			violate("correlation", fmt.Sprintf("correlation with %s is %.3f, limit %.2f",
				p.Pair, corr, m.cfg.MaxCorrelation))
		}
	}
}

func (m *PortfolioManager) returns(ctx context.Context, pair string) []float64 {
	closes, err := m.store.GetDailyCloses(ctx, pair, 31)
	if err != nil {
		return nil
	}
	var returns []float64
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	return returns
}

// Correlation is the Pearson correlation of two return series aligned
// from the tail
func Correlation(a, b []float64) float64 {
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
