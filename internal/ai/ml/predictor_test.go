package ml

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"aether-trading-bot/internal/database"
)

type fakeFeatureSource struct {
	fv  *database.FeatureVector
	err error
}

func (f *fakeFeatureSource) GetLatestFeatureVector(ctx context.Context, pair string) (*database.FeatureVector, error) {
	return f.fv, f.err
}

type fakePredictionWriter struct {
	stored *database.Prediction
	err    error
}

func (f *fakePredictionWriter) InsertPrediction(ctx context.Context, p *database.Prediction) error {
	f.stored = p
	return f.err
}

func vectorWith(values map[string]float64) *database.FeatureVector {
	fv := &database.FeatureVector{Pair: "BTCZAR"}
	for name, v := range values {
		fv.Names = append(fv.Names, name)
		fv.Values = append(fv.Values, v)
	}
	return fv
}

func TestClassProbabilitiesSumToOne(t *testing.T) {
	for _, score := range []float64{-5, -0.5, 0, 0.5, 5, 100} {
		buy, sell, hold := classProbabilities(score)
		sum := buy + sell + hold
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("score %v: probabilities sum to %v", score, sum)
		}
		if buy < 0 || sell < 0 || hold < 0 {
			t.Errorf("score %v: negative probability", score)
		}
	}
}

func TestClassProbabilitiesDirection(t *testing.T) {
	buy, sell, hold := classProbabilities(2)
	if buy <= sell || buy <= hold {
		t.Errorf("positive score should favour BUY: buy=%v sell=%v hold=%v", buy, sell, hold)
	}

	buy, sell, hold = classProbabilities(-2)
	if sell <= buy || sell <= hold {
		t.Errorf("negative score should favour SELL: buy=%v sell=%v hold=%v", buy, sell, hold)
	}

	buy, sell, hold = classProbabilities(0)
	if hold <= buy || hold <= sell {
		t.Errorf("zero score should favour HOLD: buy=%v sell=%v hold=%v", buy, sell, hold)
	}
}

func TestArgmax(t *testing.T) {
	if class, conf := argmax(0.6, 0.2, 0.2); class != database.SignalBuy || conf != 0.6 {
		t.Errorf("argmax = %s/%v, want BUY/0.6", class, conf)
	}
	if class, _ := argmax(0.1, 0.7, 0.2); class != database.SignalSell {
		t.Errorf("argmax = %s, want SELL", class)
	}
	if class, _ := argmax(0.3, 0.3, 0.4); class != database.SignalHold {
		t.Errorf("argmax = %s, want HOLD", class)
	}
}

func TestPredictBullishVector(t *testing.T) {
	source := &fakeFeatureSource{fv: vectorWith(map[string]float64{
		"1m_ret_5":       0.02,
		"1m_ret_20":      0.05,
		"1m_ema_9_ratio": 0.01,
		"5m_ret_5":       0.03,
		"1m_rsi_14":      55,
	})}
	writer := &fakePredictionWriter{}
	p := NewPredictor(source, writer, zerolog.Nop())

	pred, err := p.Predict(context.Background(), "BTCZAR")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.Class != database.SignalBuy {
		t.Errorf("class = %s, want BUY", pred.Class)
	}
	if pred.Confidence != pred.ProbBuy {
		t.Errorf("confidence should be the max class probability")
	}
	if pred.ModelVersion != ModelVersion {
		t.Errorf("model version = %s", pred.ModelVersion)
	}
	if writer.stored == nil {
		t.Fatal("prediction was not persisted")
	}
	if writer.stored.Class != pred.Class || writer.stored.Confidence != pred.Confidence {
		t.Error("persisted row does not match returned prediction")
	}
}

func TestPredictFlatVectorHolds(t *testing.T) {
	source := &fakeFeatureSource{fv: vectorWith(map[string]float64{
		"1m_ret_5":  0,
		"1m_rsi_14": 50,
	})}
	p := NewPredictor(source, &fakePredictionWriter{}, zerolog.Nop())

	pred, err := p.Predict(context.Background(), "BTCZAR")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.Class != database.SignalHold {
		t.Errorf("flat vector should HOLD, got %s", pred.Class)
	}
}

func TestPredictPropagatesErrors(t *testing.T) {
	p := NewPredictor(&fakeFeatureSource{err: errors.New("no rows")}, &fakePredictionWriter{}, zerolog.Nop())
	if _, err := p.Predict(context.Background(), "BTCZAR"); err == nil {
		t.Fatal("expected error when features are missing")
	}

	p = NewPredictor(
		&fakeFeatureSource{fv: vectorWith(map[string]float64{"1m_ret_5": 0.01})},
		&fakePredictionWriter{err: errors.New("db down")},
		zerolog.Nop(),
	)
	if _, err := p.Predict(context.Background(), "BTCZAR"); err == nil {
		t.Fatal("expected error when persistence fails")
	}
}
