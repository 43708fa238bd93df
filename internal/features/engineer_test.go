package features

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"aether-trading-bot/internal/database"
)

type fakeCandleReader struct {
	candles map[string][]*database.Candle
}

func (f *fakeCandleReader) GetRecentCandles(ctx context.Context, pair, timeframe string, limit int) ([]*database.Candle, error) {
	return f.candles[timeframe], nil
}

type fakeVectorWriter struct {
	stored *database.FeatureVector
}

func (f *fakeVectorWriter) InsertFeatureVector(ctx context.Context, fv *database.FeatureVector) error {
	f.stored = fv
	return nil
}

func testCandles(n int, startPrice float64) []*database.Candle {
	start := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	out := make([]*database.Candle, n)
	price := startPrice
	for i := 0; i < n; i++ {
		// gentle uptrend with some oscillation
		price *= 1 + 0.001*math.Sin(float64(i)/3) + 0.0002
		open := start.Add(time.Duration(i) * time.Minute)
		out[i] = &database.Candle{
			Pair:      "BTCZAR",
			Timeframe: database.Timeframe1m,
			OpenTime:  open,
			CloseTime: open.Add(time.Minute),
			Open:      price * 0.999,
			High:      price * 1.002,
			Low:       price * 0.997,
			Close:     price,
			Volume:    1 + float64(i%5),
		}
	}
	return out
}

func TestComputeAndStoreProducesNinetyFeatures(t *testing.T) {
	reader := &fakeCandleReader{candles: map[string][]*database.Candle{
		database.Timeframe1m:  testCandles(100, 1250000),
		database.Timeframe5m:  testCandles(100, 1250000),
		database.Timeframe15m: testCandles(100, 1250000),
	}}
	writer := &fakeVectorWriter{}
	e := NewEngineer(reader, writer, zerolog.Nop())

	fv, err := e.ComputeAndStore(context.Background(), "BTCZAR")
	if err != nil {
		t.Fatalf("ComputeAndStore: %v", err)
	}

	if len(fv.Values) != 90 {
		t.Fatalf("expected 90 features, got %d", len(fv.Values))
	}
	if len(fv.Names) != 90 {
		t.Fatalf("expected 90 names, got %d", len(fv.Names))
	}
	if writer.stored != fv {
		t.Error("vector was not persisted")
	}

	counts := map[string]int{}
	for _, name := range fv.Names {
		prefix := strings.SplitN(name, "_", 2)[0]
		counts[prefix]++
	}
	for _, timeframe := range []string{"1m", "5m", "15m"} {
		if counts[timeframe] != 30 {
			t.Errorf("%s block has %d features, want 30", timeframe, counts[timeframe])
		}
	}

	for i, v := range fv.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("feature %s is not finite: %v", fv.Names[i], v)
		}
	}
}

func TestComputeAndStoreRequiresMinimumHistory(t *testing.T) {
	reader := &fakeCandleReader{candles: map[string][]*database.Candle{
		database.Timeframe1m: testCandles(MinSourceCandles-1, 1250000),
	}}
	e := NewEngineer(reader, &fakeVectorWriter{}, zerolog.Nop())

	if _, err := e.ComputeAndStore(context.Background(), "BTCZAR"); err == nil {
		t.Fatal("expected error with insufficient 1m history")
	}
}

func TestTimeframeBlockToleratesShortSeries(t *testing.T) {
	// higher timeframes can be nearly empty early in the bot's life
	names, values := timeframeBlock("15m", testCandles(2, 1000))
	if len(names) != 30 || len(values) != 30 {
		t.Fatalf("expected 30 features even for short series, got %d/%d", len(names), len(values))
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("feature %s is not finite: %v", names[i], v)
		}
	}

	names, values = timeframeBlock("15m", nil)
	if len(values) != 30 {
		t.Fatalf("expected 30 zero features for empty series, got %d", len(values))
	}
	for i := range values {
		if values[i] != 0 {
			t.Errorf("feature %s should be zero for empty series, got %v", names[i], values[i])
		}
	}
}

func TestTrailingReturn(t *testing.T) {
	series := []float64{100, 110, 121}
	if got := trailingReturn(series, 1); math.Abs(got-0.1) > 1e-9 {
		t.Errorf("ret_1 = %v, want 0.1", got)
	}
	if got := trailingReturn(series, 2); math.Abs(got-0.21) > 1e-9 {
		t.Errorf("ret_2 = %v, want 0.21", got)
	}
	if got := trailingReturn(series, 5); got != 0 {
		t.Errorf("ret beyond history = %v, want 0", got)
	}
}

func TestSafeDivAndRatio(t *testing.T) {
	if got := safeDiv(1, 0); got != 0 {
		t.Errorf("safeDiv by zero = %v, want 0", got)
	}
	if got := ratioMinusOne(110, 100); math.Abs(got-0.1) > 1e-9 {
		t.Errorf("ratioMinusOne = %v, want 0.1", got)
	}
	if got := ratioMinusOne(1, 0); got != 0 {
		t.Errorf("ratioMinusOne with zero base = %v, want 0", got)
	}
}

func TestReturnVolatility(t *testing.T) {
	// constant series has zero volatility
	flat := []float64{100, 100, 100, 100, 100}
	if got := ReturnVolatility(flat, 4); got != 0 {
		t.Errorf("flat volatility = %v, want 0", got)
	}

	moving := []float64{100, 102, 99, 103, 101}
	if got := ReturnVolatility(moving, 4); got <= 0 {
		t.Errorf("moving volatility = %v, want > 0", got)
	}
}

func TestAverageTrueRange(t *testing.T) {
	candles := []*database.Candle{
		{High: 105, Low: 95, Close: 100},
		{High: 110, Low: 100, Close: 108},
		{High: 112, Low: 104, Close: 106},
	}
	// TR2 = max(10, |110-100|, |100-100|) = 10
	// TR3 = max(8, |112-108|, |104-108|) = 8
	if got := averageTrueRange(candles, 14); math.Abs(got-9) > 1e-9 {
		t.Errorf("ATR = %v, want 9", got)
	}
	if got := averageTrueRange(candles[:1], 14); got != 0 {
		t.Errorf("ATR with one candle = %v, want 0", got)
	}
}

func TestCandleShapeBullish(t *testing.T) {
	candles := []*database.Candle{{Open: 100, High: 112, Low: 98, Close: 110}}
	shape := candleShape(candles)

	byName := map[string]float64{}
	for _, f := range shape {
		byName[f.name] = f.value
	}
	// range 14, close at 12 above the low
	if got := byName["close_position"]; math.Abs(got-12.0/14.0) > 1e-9 {
		t.Errorf("close_position = %v", got)
	}
	if got := byName["body_pct"]; math.Abs(got-10.0/14.0) > 1e-9 {
		t.Errorf("body_pct = %v", got)
	}
	if got := byName["upper_shadow"]; math.Abs(got-2.0/14.0) > 1e-9 {
		t.Errorf("upper_shadow = %v", got)
	}
}
