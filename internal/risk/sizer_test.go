package risk

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"aether-trading-bot/config"
	"aether-trading-bot/internal/database"
)

type fakeSizerStore struct {
	portfolioValue float64
	closes         []float64
	decisions      []*database.RiskDecision
	nextID         int64
}

func (f *fakeSizerStore) GetPortfolioState(ctx context.Context, startingValueZAR float64) (*database.PortfolioState, error) {
	return &database.PortfolioState{TotalValueZAR: f.portfolioValue}, nil
}

func (f *fakeSizerStore) GetDailyCloses(ctx context.Context, pair string, limit int) ([]float64, error) {
	return f.closes, nil
}

func (f *fakeSizerStore) InsertDecision(ctx context.Context, d *database.RiskDecision) error {
	f.nextID++
	d.ID = f.nextID
	f.decisions = append(f.decisions, d)
	return nil
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MinConfidence:       0.40,
		KellyFraction:       0.25,
		MaxPositionFraction: 0.10,
	}
}

func TestEvaluateRejectsAtExactThreshold(t *testing.T) {
	store := &fakeSizerStore{portfolioValue: 100000}
	s := NewSizer(store, testRiskConfig(), zerolog.Nop())

	// confidence exactly at the threshold does not clear it
	proposal, err := s.Evaluate(context.Background(), "BTCZAR", database.SignalBuy, 0.40)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if proposal != nil {
		t.Fatal("threshold confidence must not produce a proposal")
	}
	if len(store.decisions) != 1 {
		t.Fatalf("expected one rejection row, got %d", len(store.decisions))
	}
	d := store.decisions[0]
	if d.RejectedBy == nil || *d.RejectedBy != database.RejectedByRiskSizer {
		t.Fatalf("rejection tag = %v, want TIER3_RISK_SIZER", d.RejectedBy)
	}
	if d.RejectionReason == nil || *d.RejectionReason == "" {
		t.Fatal("rejection reason must be recorded")
	}
}

func TestEvaluateAboveThresholdProposes(t *testing.T) {
	store := &fakeSizerStore{portfolioValue: 100000}
	s := NewSizer(store, testRiskConfig(), zerolog.Nop())

	proposal, err := s.Evaluate(context.Background(), "BTCZAR", database.SignalBuy, 0.41)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if proposal == nil {
		t.Fatal("confidence above threshold must produce a proposal")
	}
	if proposal.DecisionID == 0 {
		t.Error("proposal must reference its decision row")
	}

	// no history: default vol 1.5% gives sl 2.25%, tp 4.5%, payoff 2
	p := proposal.Params
	if math.Abs(p.StopLossPct-2.25) > 1e-9 {
		t.Errorf("stop loss = %v, want 2.25", p.StopLossPct)
	}
	if math.Abs(p.TakeProfitPct-4.5) > 1e-9 {
		t.Errorf("take profit = %v, want 4.5", p.TakeProfitPct)
	}
	// kelly = (0.41*3 - 1) / 2 = 0.115; * 0.25 = 0.02875 of portfolio
	wantSize := 100000 * 0.115 * 0.25
	if math.Abs(p.PositionSizeZAR-wantSize) > 1e-6 {
		t.Errorf("size = %v, want %v", p.PositionSizeZAR, wantSize)
	}
	if math.Abs(p.MaxLossZAR-wantSize*0.0225) > 1e-6 {
		t.Errorf("max loss = %v, want %v", p.MaxLossZAR, wantSize*0.0225)
	}
	if math.Abs(p.ExpectedGainZAR-wantSize*0.045) > 1e-6 {
		t.Errorf("expected gain = %v, want %v", p.ExpectedGainZAR, wantSize*0.045)
	}
	if p.Leverage != 1 {
		t.Errorf("leverage = %v, want 1", p.Leverage)
	}

	if len(store.decisions) != 1 {
		t.Fatalf("expected one pending decision row, got %d", len(store.decisions))
	}
	if store.decisions[0].RejectedBy != nil {
		t.Error("proposal row must not be rejected")
	}
}

func TestEvaluateCapsAtMaxPositionFraction(t *testing.T) {
	store := &fakeSizerStore{portfolioValue: 100000}
	s := NewSizer(store, testRiskConfig(), zerolog.Nop())

	proposal, err := s.Evaluate(context.Background(), "BTCZAR", database.SignalBuy, 0.90)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// full Kelly would be 0.85 of portfolio; the fraction and cap bring
	// it to 10%
	if got := proposal.Params.PositionSizeZAR; math.Abs(got-10000) > 1e-6 {
		t.Fatalf("size = %v, want 10000 cap", got)
	}
}

func TestEvaluateEmptyPortfolioRejects(t *testing.T) {
	store := &fakeSizerStore{portfolioValue: 0}
	s := NewSizer(store, testRiskConfig(), zerolog.Nop())

	proposal, err := s.Evaluate(context.Background(), "BTCZAR", database.SignalBuy, 0.80)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if proposal != nil {
		t.Fatal("empty portfolio must not size a trade")
	}
	if len(store.decisions) != 1 {
		t.Fatalf("expected explicit rejection row, got %d rows", len(store.decisions))
	}
	if store.decisions[0].RejectedBy == nil || *store.decisions[0].RejectedBy != database.RejectedByRiskSizer {
		t.Fatal("empty portfolio rejection must be tagged TIER3_RISK_SIZER")
	}
}

func TestStopsFromVolatilityClamped(t *testing.T) {
	// wild 10% daily swings would imply a 15% stop; clamp holds it at 5%
	closes := []float64{100}
	sign := 1.0
	for i := 0; i < 30; i++ {
		closes = append(closes, closes[len(closes)-1]*(1+sign*0.10))
		sign = -sign
	}
	store := &fakeSizerStore{portfolioValue: 100000, closes: closes}
	s := NewSizer(store, testRiskConfig(), zerolog.Nop())

	sl, tp := s.stopsFromVolatility(context.Background(), "BTCZAR")
	if sl != 5 {
		t.Errorf("stop loss = %v, want clamped 5", sl)
	}
	if tp != 10 {
		t.Errorf("take profit = %v, want 2x stop", tp)
	}

	// nearly flat prices clamp at the 1% floor
	flat := make([]float64, 31)
	for i := range flat {
		flat[i] = 100 + float64(i)*0.001
	}
	store.closes = flat
	sl, tp = s.stopsFromVolatility(context.Background(), "BTCZAR")
	if sl != 1 {
		t.Errorf("stop loss = %v, want floor 1", sl)
	}
	if tp != 2 {
		t.Errorf("take profit = %v, want 2", tp)
	}
}

func TestKellySizeNeverNegative(t *testing.T) {
	s := NewSizer(&fakeSizerStore{}, testRiskConfig(), zerolog.Nop())
	// low confidence with poor payoff implies negative Kelly; floor at 0
	if got := s.kellySize(100000, 0.30, 3, 3); got != 0 {
		t.Fatalf("negative-edge size = %v, want 0", got)
	}
}
