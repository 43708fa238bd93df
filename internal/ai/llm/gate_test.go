package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"aether-trading-bot/internal/database"
)

type fakeCompleter struct {
	response string
	err      error
	called   bool
}

func (f *fakeCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.called = true
	return f.response, f.err
}

type fakeGateStore struct {
	closes map[string][]float64
}

func (f *fakeGateStore) GetDailyCloses(ctx context.Context, pair string, days int) ([]float64, error) {
	return f.closes[pair], nil
}

func (f *fakeGateStore) GetOpenPositions(ctx context.Context) ([]*database.Position, error) {
	return nil, nil
}

func (f *fakeGateStore) GetPortfolioState(ctx context.Context, startingValueZAR float64) (*database.PortfolioState, error) {
	return &database.PortfolioState{TotalValueZAR: 100000}, nil
}

func (f *fakeGateStore) GetRecentPredictions(ctx context.Context, pair string, limit int) ([]*database.Prediction, error) {
	return nil, nil
}

func newTestGate(client Completer) *Gate {
	return NewGate(client, &fakeGateStore{closes: map[string][]float64{}}, []string{"BTCZAR", "ETHZAR"}, zerolog.Nop())
}

func TestEvaluateApprove(t *testing.T) {
	client := &fakeCompleter{response: `{"decision":"APPROVE","reasoning":"trend intact","position_size_multiplier":1.0}`}
	verdict := newTestGate(client).Evaluate(context.Background(), GateRequest{Pair: "BTCZAR", Signal: "BUY", Confidence: 0.7})

	if verdict.Decision != DecisionApprove {
		t.Fatalf("decision = %s, want APPROVE", verdict.Decision)
	}
	if verdict.FailureReason != "" {
		t.Errorf("approve must not carry a failure reason, got %q", verdict.FailureReason)
	}
	if !client.called {
		t.Error("model was not consulted")
	}
}

func TestEvaluateAPIErrorFailsSafe(t *testing.T) {
	client := &fakeCompleter{err: errors.New("upstream 500")}
	verdict := newTestGate(client).Evaluate(context.Background(), GateRequest{Pair: "BTCZAR"})

	if verdict.Decision != DecisionReject {
		t.Fatalf("API failure must REJECT, got %s", verdict.Decision)
	}
	if verdict.FailureReason != ReasonAPIError {
		t.Errorf("failure reason = %q, want %q", verdict.FailureReason, ReasonAPIError)
	}
}

func TestEvaluateGarbageFailsSafe(t *testing.T) {
	client := &fakeCompleter{response: "I think this trade looks great!"}
	verdict := newTestGate(client).Evaluate(context.Background(), GateRequest{Pair: "BTCZAR"})

	if verdict.Decision != DecisionReject {
		t.Fatalf("unparseable output must REJECT, got %s", verdict.Decision)
	}
	if verdict.FailureReason != ReasonParseError {
		t.Errorf("failure reason = %q, want %q", verdict.FailureReason, ReasonParseError)
	}
}

func TestParseVerdictFencedJSON(t *testing.T) {
	response := "```json\n{\"decision\":\"MODIFY\",\"reasoning\":\"reduce size\",\"position_size_multiplier\":0.5}\n```"
	verdict, err := parseVerdict(response)
	if err != nil {
		t.Fatalf("parseVerdict: %v", err)
	}
	if verdict.Decision != DecisionModify || verdict.PositionSizeMultiplier != 0.5 {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
}

func TestParseVerdictRejectsUnknownDecision(t *testing.T) {
	if _, err := parseVerdict(`{"decision":"MAYBE"}`); err == nil {
		t.Fatal("unknown decision must error")
	}
}

func TestParseVerdictModifyMultiplierRange(t *testing.T) {
	if _, err := parseVerdict(`{"decision":"MODIFY","position_size_multiplier":2.5}`); err == nil {
		t.Fatal("multiplier above 2 must error")
	}
	if _, err := parseVerdict(`{"decision":"MODIFY","position_size_multiplier":-0.1}`); err == nil {
		t.Fatal("negative multiplier must error")
	}
	if _, err := parseVerdict(`{"decision":"MODIFY","position_size_multiplier":2.0}`); err != nil {
		t.Fatalf("multiplier 2.0 is valid: %v", err)
	}
	// range only applies to MODIFY
	if _, err := parseVerdict(`{"decision":"APPROVE","position_size_multiplier":5}`); err != nil {
		t.Fatalf("non-MODIFY multiplier is ignored: %v", err)
	}
}

func TestParseVerdictModifications(t *testing.T) {
	response := `{
		"decision": "MODIFY",
		"reasoning": "tighten stop",
		"position_size_multiplier": 0.8,
		"risk_flags": ["HIGH_VOLATILITY"],
		"suggested_modifications": {"stop_loss_pct": 1.5}
	}`
	verdict, err := parseVerdict(response)
	if err != nil {
		t.Fatalf("parseVerdict: %v", err)
	}
	if verdict.SuggestedModifications.StopLossPct == nil || *verdict.SuggestedModifications.StopLossPct != 1.5 {
		t.Fatal("stop loss override not parsed")
	}
	if verdict.SuggestedModifications.Leverage != nil {
		t.Fatal("absent override should stay nil")
	}
	if len(verdict.RiskFlags) != 1 || verdict.RiskFlags[0] != "HIGH_VOLATILITY" {
		t.Fatalf("risk flags = %v", verdict.RiskFlags)
	}
}

func TestStripMarkdownCodeBlock(t *testing.T) {
	cases := []struct{ in, want string }{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, c := range cases {
		if got := StripMarkdownCodeBlock(c.in); got != c.want {
			t.Errorf("StripMarkdownCodeBlock(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestVolatilityRegimeThresholds(t *testing.T) {
	buildCloses := func(dailyMove float64) []float64 {
		closes := []float64{100}
		sign := 1.0
		for i := 0; i < 30; i++ {
			closes = append(closes, closes[len(closes)-1]*(1+sign*dailyMove))
			sign = -sign
		}
		return closes
	}

	if got := volatilityRegime(buildCloses(0.06)); got != "HIGH" {
		t.Errorf("6%% daily moves = %s, want HIGH", got)
	}
	if got := volatilityRegime(buildCloses(0.03)); got != "NORMAL" {
		t.Errorf("3%% daily moves = %s, want NORMAL", got)
	}
	if got := volatilityRegime(buildCloses(0.005)); got != "LOW" {
		t.Errorf("0.5%% daily moves = %s, want LOW", got)
	}
	if got := volatilityRegime([]float64{100, 101}); got != "UNKNOWN" {
		t.Errorf("short series = %s, want UNKNOWN", got)
	}
}

func TestChangeOver(t *testing.T) {
	closes := []float64{100, 100, 100, 110}
	if got := changeOver(closes, 1); got != 10 {
		t.Errorf("24h change = %v, want 10", got)
	}
	if got := changeOver(closes, 10); got != 0 {
		t.Errorf("change beyond history = %v, want 0", got)
	}
}
