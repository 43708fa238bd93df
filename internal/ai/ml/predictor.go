package ml

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"aether-trading-bot/internal/database"
)

// ModelVersion identifies the scoring model recorded with each prediction
const ModelVersion = "aether-momentum-v1"

// Prediction is the classifier output for one pair
type Prediction struct {
	Pair         string
	Class        string
	ProbBuy      float64
	ProbSell     float64
	ProbHold     float64
	Confidence   float64
	ModelVersion string
	CreatedAt    time.Time
}

// FeatureSource reads the latest stored vector for a pair
type FeatureSource interface {
	GetLatestFeatureVector(ctx context.Context, pair string) (*database.FeatureVector, error)
}

// PredictionWriter persists classifier outputs
type PredictionWriter interface {
	InsertPrediction(ctx context.Context, p *database.Prediction) error
}

// Predictor scores the most recent feature vector into BUY/SELL/HOLD
// probabilities. Confidence is the maximum class probability. The model
// is a fixed linear scorer over named momentum features; training is
// external to this process.
type Predictor struct {
	features FeatureSource
	store    PredictionWriter
	logger   zerolog.Logger
}

// NewPredictor creates a predictor over the feature store
func NewPredictor(features FeatureSource, store PredictionWriter, logger zerolog.Logger) *Predictor {
	return &Predictor{
		features: features,
		store:    store,
		logger:   logger.With().Str("component", "ml_predictor").Logger(),
	}
}

// feature weights per class direction: positive values push BUY,
// negative push SELL. Tuned offline against the same vector layout.
var buyWeights = map[string]float64{
	"1m_ret_5":        40,
	"1m_ret_20":       25,
	"1m_ema_9_ratio":  30,
	"1m_macd_hist":    0.002,
	"1m_bb_percent_b": 1.2,
	"5m_ret_5":        30,
	"5m_ema_9_ratio":  25,
	"5m_macd_hist":    0.002,
	"15m_ret_5":       20,
	"15m_ema_9_ratio": 15,
}

// Predict scores the latest vector for a pair and persists the result
func (p *Predictor) Predict(ctx context.Context, pair string) (*Prediction, error) {
	fv, err := p.features.GetLatestFeatureVector(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("load features for %s: %w", pair, err)
	}

	byName := make(map[string]float64, len(fv.Names))
	for i, name := range fv.Names {
		if i < len(fv.Values) {
			byName[name] = fv.Values[i]
		}
	}

	var score float64
	for name, weight := range buyWeights {
		score += weight * byName[name]
	}

	// RSI pulls toward mean reversion at the extremes
	if rsi, ok := byName["1m_rsi_14"]; ok && rsi > 0 {
		score += (50 - rsi) / 100
	}

	probBuy, probSell, probHold := classProbabilities(score)
	class, confidence := argmax(probBuy, probSell, probHold)

	pred := &Prediction{
		Pair:         pair,
		Class:        class,
		ProbBuy:      probBuy,
		ProbSell:     probSell,
		ProbHold:     probHold,
		Confidence:   confidence,
		ModelVersion: ModelVersion,
		CreatedAt:    time.Now().UTC(),
	}

	row := &database.Prediction{
		Pair:         pred.Pair,
		ModelVersion: pred.ModelVersion,
		Class:        pred.Class,
		ProbBuy:      pred.ProbBuy,
		ProbSell:     pred.ProbSell,
		ProbHold:     pred.ProbHold,
		Confidence:   pred.Confidence,
		CreatedAt:    pred.CreatedAt,
	}
	if err := p.store.InsertPrediction(ctx, row); err != nil {
		return nil, fmt.Errorf("persist prediction for %s: %w", pair, err)
	}

	p.logger.Debug().
		Str("pair", pair).
		Str("class", class).
		Float64("confidence", confidence).
		Msg("prediction")

	return pred, nil
}

// classProbabilities maps the directional score into a three-class
// softmax. HOLD dominates near zero; the direction classes grow with
// score magnitude.
func classProbabilities(score float64) (buy, sell, hold float64) {
	expBuy := math.Exp(clamp(score, -10, 10))
	expSell := math.Exp(clamp(-score, -10, 10))
	expHold := math.Exp(0.5)
	total := expBuy + expSell + expHold
	return expBuy / total, expSell / total, expHold / total
}

func argmax(buy, sell, hold float64) (string, float64) {
	class := database.SignalHold
	best := hold
	if buy > best {
		class, best = database.SignalBuy, buy
	}
	if sell > best {
		class, best = database.SignalSell, sell
	}
	return class, best
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
