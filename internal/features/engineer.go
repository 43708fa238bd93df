package features

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"aether-trading-bot/internal/database"
)

// MinSourceCandles is the minimum 1m history required before a vector
// can be computed.
const MinSourceCandles = 50

const candlesPerTimeframe = 100

// CandleReader is the store surface the engineer needs
type CandleReader interface {
	GetRecentCandles(ctx context.Context, pair, timeframe string, limit int) ([]*database.Candle, error)
}

// VectorWriter persists computed vectors
type VectorWriter interface {
	InsertFeatureVector(ctx context.Context, fv *database.FeatureVector) error
}

// Engineer computes the 90-dimensional feature vector for a pair from
// recent 1m/5m/15m candles. 30 features per timeframe, same block layout
// for each, names prefixed with the timeframe.
type Engineer struct {
	candles CandleReader
	vectors VectorWriter
	logger  zerolog.Logger
}

// NewEngineer creates a feature engineer
func NewEngineer(candles CandleReader, vectors VectorWriter, logger zerolog.Logger) *Engineer {
	return &Engineer{
		candles: candles,
		vectors: vectors,
		logger:  logger.With().Str("component", "feature_engineer").Logger(),
	}
}

// ComputeAndStore builds the vector for a pair and persists it keyed by
// (pair, computed_at). Runs on every candle regardless of trading state.
func (e *Engineer) ComputeAndStore(ctx context.Context, pair string) (*database.FeatureVector, error) {
	fv := &database.FeatureVector{
		Pair:       pair,
		ComputedAt: time.Now().UTC(),
	}

	for _, timeframe := range []string{database.Timeframe1m, database.Timeframe5m, database.Timeframe15m} {
		candles, err := e.candles.GetRecentCandles(ctx, pair, timeframe, candlesPerTimeframe)
		if err != nil {
			return nil, fmt.Errorf("fetch %s candles for %s: %w", timeframe, pair, err)
		}
		if timeframe == database.Timeframe1m && len(candles) < MinSourceCandles {
			return nil, fmt.Errorf("insufficient 1m history for %s: have %d, need %d", pair, len(candles), MinSourceCandles)
		}

		names, values := timeframeBlock(timeframe, candles)
		fv.Names = append(fv.Names, names...)
		fv.Values = append(fv.Values, values...)
	}

	if err := e.vectors.InsertFeatureVector(ctx, fv); err != nil {
		return nil, fmt.Errorf("persist features for %s: %w", pair, err)
	}

	e.logger.Debug().Str("pair", pair).Int("dims", len(fv.Values)).Msg("feature vector computed")
	return fv, nil
}

// timeframeBlock computes the 30 per-timeframe features. Candles are
// chronological; a short or empty series yields zeros for the features
// it cannot support.
func timeframeBlock(timeframe string, candles []*database.Candle) ([]string, []float64) {
	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	add := newBlock(timeframe, 30)

	add.feature("ret_1", trailingReturn(closes, 1))
	add.feature("ret_5", trailingReturn(closes, 5))
	add.feature("ret_10", trailingReturn(closes, 10))
	add.feature("ret_20", trailingReturn(closes, 20))
	add.feature("log_ret_1", logReturn(closes))

	last := lastValue(closes)
	ema9 := lastValue(ema(closes, 9))
	ema21 := lastValue(ema(closes, 21))
	ema50 := lastValue(ema(closes, 50))
	add.feature("ema_9_ratio", ratioMinusOne(last, ema9))
	add.feature("ema_21_ratio", ratioMinusOne(last, ema21))
	add.feature("ema_50_ratio", ratioMinusOne(last, ema50))
	add.feature("sma_20_ratio", ratioMinusOne(last, lastValue(sma(closes, 20))))
	add.feature("ema_9_21_spread", ratioMinusOne(ema9, ema21))

	rsiValues := rsi(closes, 14)
	add.feature("rsi_14", lastValue(rsiValues))
	add.feature("rsi_14_slope", lastDelta(rsiValues))

	macdLine, signalLine := macd(closes, 12, 26, 9)
	macdLast := lastValue(macdLine)
	signalLast := lastValue(signalLine)
	add.feature("macd", macdLast)
	add.feature("macd_signal", signalLast)
	add.feature("macd_hist", macdLast-signalLast)

	lower, middle, upper := bollinger(closes, 20)
	add.feature("bb_width", bandWidth(lastValue(lower), lastValue(middle), lastValue(upper)))
	add.feature("bb_percent_b", percentB(last, lastValue(lower), lastValue(upper)))

	vol20 := ReturnVolatility(closes, 20)
	vol5 := ReturnVolatility(closes, 5)
	add.feature("volatility_20", vol20)
	add.feature("volatility_ratio", safeDiv(vol5, vol20))
	add.feature("atr_14_pct", safeDiv(averageTrueRange(candles, 14), last))

	add.features(candleShape(candles)...)

	add.feature("volume_ratio", safeDiv(lastValue(volumes), mean(tail(volumes, 20))))
	add.feature("volume_change", trailingReturn(volumes, 1))
	add.feature("volume_trend", safeDiv(mean(tail(volumes, 5)), mean(tail(volumes, 20))))

	high20, low20 := extremes(candles, 20)
	add.feature("high_20_dist", ratioMinusOne(last, high20))
	add.feature("low_20_dist", ratioMinusOne(last, low20))

	return add.names, add.values
}

type block struct {
	prefix string
	names  []string
	values []float64
}

func newBlock(prefix string, capacity int) *block {
	return &block{
		prefix: prefix,
		names:  make([]string, 0, capacity),
		values: make([]float64, 0, capacity),
	}
}

func (b *block) feature(name string, value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		value = 0
	}
	b.names = append(b.names, b.prefix+"_"+name)
	b.values = append(b.values, value)
}

type named struct {
	name  string
	value float64
}

func (b *block) features(fs ...named) {
	for _, f := range fs {
		b.feature(f.name, f.value)
	}
}

// candleShape describes the most recent candle: range, close position,
// shadows, body. Five features.
func candleShape(candles []*database.Candle) []named {
	out := []named{
		{"range_pct", 0}, {"close_position", 0},
		{"upper_shadow", 0}, {"lower_shadow", 0}, {"body_pct", 0},
	}
	if len(candles) == 0 {
		return out
	}
	c := candles[len(candles)-1]
	spread := c.High - c.Low
	bodyTop := math.Max(c.Open, c.Close)
	bodyBottom := math.Min(c.Open, c.Close)

	out[0].value = safeDiv(spread, c.Close)
	out[1].value = safeDiv(c.Close-c.Low, spread)
	out[2].value = safeDiv(c.High-bodyTop, spread)
	out[3].value = safeDiv(bodyBottom-c.Low, spread)
	out[4].value = safeDiv(math.Abs(c.Close-c.Open), spread)
	return out
}

func extremes(candles []*database.Candle, window int) (high, low float64) {
	recent := candles
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	for i, c := range recent {
		if i == 0 || c.High > high {
			high = c.High
		}
		if i == 0 || c.Low < low {
			low = c.Low
		}
	}
	return high, low
}

func averageTrueRange(candles []*database.Candle, period int) float64 {
	if len(candles) < 2 {
		return 0
	}
	start := len(candles) - period
	if start < 1 {
		start = 1
	}
	var sum float64
	var n int
	for i := start; i < len(candles); i++ {
		prevClose := candles[i-1].Close
		tr := candles[i].High - candles[i].Low
		tr = math.Max(tr, math.Abs(candles[i].High-prevClose))
		tr = math.Max(tr, math.Abs(candles[i].Low-prevClose))
		sum += tr
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func trailingReturn(series []float64, periods int) float64 {
	if len(series) <= periods {
		return 0
	}
	prev := series[len(series)-1-periods]
	return ratioMinusOne(series[len(series)-1], prev)
}

func logReturn(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	prev := series[len(series)-2]
	curr := series[len(series)-1]
	if prev <= 0 || curr <= 0 {
		return 0
	}
	return math.Log(curr / prev)
}

func ratioMinusOne(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a/b - 1
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func lastValue(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

func lastDelta(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	return series[len(series)-1] - series[len(series)-2]
}

func tail(series []float64, n int) []float64 {
	if len(series) <= n {
		return series
	}
	return series[len(series)-n:]
}

func mean(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	var sum float64
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}

func bandWidth(lower, middle, upper float64) float64 {
	return safeDiv(upper-lower, middle)
}

func percentB(price, lower, upper float64) float64 {
	return safeDiv(price-lower, upper-lower)
}
