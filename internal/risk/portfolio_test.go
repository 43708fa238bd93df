package risk

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"aether-trading-bot/config"
	"aether-trading-bot/internal/database"
)

type fakePortfolioStore struct {
	state    *database.PortfolioState
	open     []*database.Position
	todayPnL float64
	closes   map[string][]float64
	history  []float64
}

func (f *fakePortfolioStore) GetPortfolioState(ctx context.Context, startingValueZAR float64) (*database.PortfolioState, error) {
	return f.state, nil
}

func (f *fakePortfolioStore) GetOpenPositions(ctx context.Context) ([]*database.Position, error) {
	return f.open, nil
}

func (f *fakePortfolioStore) SumRealizedPnLSince(ctx context.Context, cutoff time.Time) (float64, error) {
	return f.todayPnL, nil
}

func (f *fakePortfolioStore) GetDailyCloses(ctx context.Context, pair string, limit int) ([]float64, error) {
	return f.closes[pair], nil
}

func (f *fakePortfolioStore) GetPortfolioValueHistory(ctx context.Context, days int) ([]float64, error) {
	return f.history, nil
}

func portfolioConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxDrawdownPct:       15,
		DailyLossLimitPct:    5,
		MaxSinglePositionPct: 20,
		MaxSectorExposurePct: 60,
		MaxCorrelation:       0.90,
		MaxTotalLeverage:     3,
		MinPositionPct:       5,
	}
}

func healthyStore() *fakePortfolioStore {
	return &fakePortfolioStore{
		state:  &database.PortfolioState{TotalValueZAR: 100000, PeakValueZAR: 100000},
		closes: map[string][]float64{},
	}
}

func okParams() TradeParameters {
	return TradeParameters{
		PositionSizeZAR: 8000,
		Leverage:        1,
		StopLossPct:     2,
		TakeProfitPct:   4,
	}
}

func TestCheckPassesHealthyPortfolio(t *testing.T) {
	m := NewPortfolioManager(healthyStore(), portfolioConfig(), zerolog.Nop())

	result, err := m.Check(context.Background(), "BTCZAR", database.SignalBuy, okParams())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.Passed {
		t.Fatalf("healthy portfolio should pass, violated %v: %s", result.ViolatedLimits, result.Reason)
	}
}

func TestCheckEmptyPortfolioRejectsExplicitly(t *testing.T) {
	store := healthyStore()
	store.state.TotalValueZAR = 0
	m := NewPortfolioManager(store, portfolioConfig(), zerolog.Nop())

	result, err := m.Check(context.Background(), "BTCZAR", database.SignalBuy, okParams())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Passed {
		t.Fatal("zero-value portfolio must fail")
	}
	if len(result.ViolatedLimits) != 1 || result.ViolatedLimits[0] != "portfolio_value" {
		t.Fatalf("violated = %v, want [portfolio_value]", result.ViolatedLimits)
	}
}

func TestCheckDrawdownLimit(t *testing.T) {
	store := healthyStore()
	store.state.CurrentDrawdownPct = 16
	m := NewPortfolioManager(store, portfolioConfig(), zerolog.Nop())

	result, _ := m.Check(context.Background(), "BTCZAR", database.SignalBuy, okParams())
	if result.Passed {
		t.Fatal("drawdown above limit must fail")
	}
	assertViolated(t, result, "drawdown")
}

func TestCheckDailyLossLimit(t *testing.T) {
	store := healthyStore()
	store.todayPnL = -6000 // -6% of 100k
	m := NewPortfolioManager(store, portfolioConfig(), zerolog.Nop())

	result, _ := m.Check(context.Background(), "BTCZAR", database.SignalBuy, okParams())
	if result.Passed {
		t.Fatal("daily loss beyond limit must fail")
	}
	assertViolated(t, result, "daily_loss")
}

func TestCheckSinglePositionCap(t *testing.T) {
	m := NewPortfolioManager(healthyStore(), portfolioConfig(), zerolog.Nop())

	params := okParams()
	params.PositionSizeZAR = 25000 // 25% of portfolio
	result, _ := m.Check(context.Background(), "BTCZAR", database.SignalBuy, params)
	if result.Passed {
		t.Fatal("oversized position must fail")
	}
	assertViolated(t, result, "single_position")
}

func TestCheckSectorExposure(t *testing.T) {
	store := healthyStore()
	store.open = []*database.Position{
		{Pair: "ETHZAR", PositionValueZAR: 55000, Leverage: 1},
	}
	m := NewPortfolioManager(store, portfolioConfig(), zerolog.Nop())

	params := okParams()
	params.PositionSizeZAR = 10000 // 55% + 10% > 60%
	result, _ := m.Check(context.Background(), "BTCZAR", database.SignalBuy, params)
	if result.Passed {
		t.Fatal("sector exposure beyond cap must fail")
	}
	assertViolated(t, result, "sector_exposure")
}

func TestCheckMinPositionFloor(t *testing.T) {
	m := NewPortfolioManager(healthyStore(), portfolioConfig(), zerolog.Nop())

	params := okParams()
	params.PositionSizeZAR = 3000 // below the 5% floor
	result, _ := m.Check(context.Background(), "BTCZAR", database.SignalBuy, params)
	if result.Passed {
		t.Fatal("position below the floor must fail")
	}
	assertViolated(t, result, "min_position")
}

func TestCheckCashSufficiency(t *testing.T) {
	store := healthyStore()
	store.open = []*database.Position{
		{Pair: "ETHZAR", PositionValueZAR: 50000, Leverage: 1},
	}
	m := NewPortfolioManager(store, portfolioConfig(), zerolog.Nop())

	params := okParams()
	params.PositionSizeZAR = 55000 // only 50k cash left
	result, _ := m.Check(context.Background(), "BTCZAR", database.SignalBuy, params)
	if result.Passed {
		t.Fatal("position beyond available cash must fail")
	}
	assertViolated(t, result, "cash")
}

func TestCheckLeverageCap(t *testing.T) {
	store := healthyStore()
	store.open = []*database.Position{
		{Pair: "ETHZAR", PositionValueZAR: 50000, Leverage: 7},
	}
	m := NewPortfolioManager(store, portfolioConfig(), zerolog.Nop())

	// 50k at 7x plus the new 8k is 3.58x the 100k portfolio
	result, _ := m.Check(context.Background(), "BTCZAR", database.SignalBuy, okParams())
	if result.Passed {
		t.Fatal("total leverage beyond cap must fail")
	}
	assertViolated(t, result, "leverage")
}

func TestCheckCorrelationStrictBoundary(t *testing.T) {
	store := healthyStore()
	// identical price paths: correlation exactly 1.0
	path := []float64{100, 102, 101, 104, 103, 106, 105, 108, 107, 110}
	store.closes["BTCZAR"] = path
	store.closes["ETHZAR"] = path
	store.open = []*database.Position{
		{Pair: "ETHZAR", PositionValueZAR: 8000, Leverage: 1},
	}
	m := NewPortfolioManager(store, portfolioConfig(), zerolog.Nop())

	result, _ := m.Check(context.Background(), "BTCZAR", database.SignalBuy, okParams())
	if result.Passed {
		t.Fatal("perfectly correlated pairs must fail")
	}
	assertViolated(t, result, "correlation")
}

func TestCheckCorrelationSkippedWithoutHistory(t *testing.T) {
	store := healthyStore()
	store.open = []*database.Position{
		{Pair: "ETHZAR", PositionValueZAR: 8000, Leverage: 1},
	}
	m := NewPortfolioManager(store, portfolioConfig(), zerolog.Nop())

	result, _ := m.Check(context.Background(), "BTCZAR", database.SignalBuy, okParams())
	if !result.Passed {
		t.Fatalf("no history means no correlation check, violated %v", result.ViolatedLimits)
	}
}

func TestCheckCollectsAllViolations(t *testing.T) {
	store := healthyStore()
	store.state.CurrentDrawdownPct = 20
	store.todayPnL = -7000
	m := NewPortfolioManager(store, portfolioConfig(), zerolog.Nop())

	params := okParams()
	params.PositionSizeZAR = 30000
	result, _ := m.Check(context.Background(), "BTCZAR", database.SignalBuy, params)
	if result.Passed {
		t.Fatal("multiple violations must fail")
	}
	if len(result.ViolatedLimits) < 3 {
		t.Fatalf("expected all violations collected, got %v", result.ViolatedLimits)
	}
	if !strings.Contains(result.Reason, "; ") {
		t.Fatalf("reason should join all violations: %q", result.Reason)
	}
}

func TestRiskLimitFractionScaling(t *testing.T) {
	store := healthyStore()
	m := NewPortfolioManager(store, portfolioConfig(), zerolog.Nop())
	ctx := context.Background()

	// no history anywhere: default vol gives the full 50% budget
	if got := m.riskLimitFraction(ctx); got != 0.50 {
		t.Errorf("default fraction = %v, want 0.50", got)
	}

	// turbulent history shrinks the budget to the 25% floor
	turbulent := []float64{100000}
	sign := 1.0
	for i := 0; i < 30; i++ {
		turbulent = append(turbulent, turbulent[len(turbulent)-1]*(1+sign*0.10))
		sign = -sign
	}
	store.history = turbulent
	if got := m.riskLimitFraction(ctx); got != 0.25 {
		t.Errorf("turbulent fraction = %v, want 0.25", got)
	}
}

func TestCorrelation(t *testing.T) {
	a := []float64{0.01, -0.02, 0.03, -0.01, 0.02}
	if got := Correlation(a, a); math.Abs(got-1) > 1e-9 {
		t.Errorf("self correlation = %v, want 1", got)
	}

	inverse := make([]float64, len(a))
	for i, v := range a {
		inverse[i] = -v
	}
	if got := Correlation(a, inverse); math.Abs(got+1) > 1e-9 {
		t.Errorf("inverse correlation = %v, want -1", got)
	}

	if got := Correlation(a, []float64{0.01}); got != 0 {
		t.Errorf("too-short series correlation = %v, want 0", got)
	}
	if got := Correlation(a, []float64{0, 0, 0, 0, 0}); got != 0 {
		t.Errorf("zero-variance correlation = %v, want 0", got)
	}
}

func assertViolated(t *testing.T, result *CheckResult, limit string) {
	t.Helper()
	for _, v := range result.ViolatedLimits {
		if v == limit {
			return
		}
	}
	t.Fatalf("expected %q in violated limits %v", limit, result.ViolatedLimits)
}
