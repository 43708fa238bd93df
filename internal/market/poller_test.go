package market

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"aether-trading-bot/internal/database"
	"aether-trading-bot/internal/events"
	"aether-trading-bot/internal/exchange/valr"
)

type fakeBucketSource struct {
	buckets map[string][]valr.Bucket
	err     error
	calls   int
}

func (f *fakeBucketSource) GetBuckets(ctx context.Context, pair string, periodSeconds, limit int) ([]valr.Bucket, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.buckets[pair], nil
}

type fakeCandleWriter struct {
	inserted []*database.Candle
	err      error
}

func (f *fakeCandleWriter) InsertCandle(ctx context.Context, c *database.Candle) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.inserted = append(f.inserted, c)
	return true, nil
}

func newTestPoller(source BucketSource, store CandleWriter, queue *events.Queue) *Poller {
	return NewPoller(source, store, queue, []string{"BTCZAR"}, 60*time.Second, zerolog.Nop())
}

func TestPollerIngestsChronologicallyAndPublishes(t *testing.T) {
	t0 := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	source := &fakeBucketSource{buckets: map[string][]valr.Bucket{
		// newest first, as the exchange returns them
		"BTCZAR": {
			{StartTime: t0.Add(time.Minute), Open: 101, High: 102, Low: 100, Close: 101.5, Volume: 2},
			{StartTime: t0, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1},
		},
	}}
	store := &fakeCandleWriter{}
	queue := events.NewQueue(10)
	p := newTestPoller(source, store, queue)

	if err := p.pollPair(context.Background(), "BTCZAR"); err != nil {
		t.Fatalf("pollPair: %v", err)
	}

	if len(store.inserted) != 2 {
		t.Fatalf("expected 2 candles inserted, got %d", len(store.inserted))
	}
	if !store.inserted[0].OpenTime.Equal(t0) {
		t.Errorf("oldest candle should be ingested first, got %v", store.inserted[0].OpenTime)
	}
	if store.inserted[0].Timeframe != database.Timeframe1m {
		t.Errorf("expected 1m timeframe, got %s", store.inserted[0].Timeframe)
	}
	if !store.inserted[0].CloseTime.Equal(t0.Add(time.Minute)) {
		t.Errorf("close time should be open + 1m, got %v", store.inserted[0].CloseTime)
	}

	for i := 0; i < 2; i++ {
		event, ok := queue.Recv(10 * time.Millisecond)
		if !ok || event.Type != events.EventNewCandle {
			t.Fatalf("expected NEW_CANDLE event %d, got %+v ok=%v", i, event, ok)
		}
	}
}

func TestPollerDeduplicatesByOpenTime(t *testing.T) {
	t0 := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	source := &fakeBucketSource{buckets: map[string][]valr.Bucket{
		"BTCZAR": {{StartTime: t0, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1}},
	}}
	store := &fakeCandleWriter{}
	p := newTestPoller(source, store, events.NewQueue(10))

	ctx := context.Background()
	if err := p.pollPair(ctx, "BTCZAR"); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if err := p.pollPair(ctx, "BTCZAR"); err != nil {
		t.Fatalf("second poll: %v", err)
	}

	if len(store.inserted) != 1 {
		t.Fatalf("same open time must not be re-inserted, got %d inserts", len(store.inserted))
	}
}

func TestPollerBackoffProgression(t *testing.T) {
	p := newTestPoller(&fakeBucketSource{}, &fakeCandleWriter{}, events.NewQueue(1))

	expected := []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second,
		60 * time.Second, 60 * time.Second,
	}
	for i, want := range expected {
		p.recordError("BTCZAR", errors.New("boom"))
		if got := p.backoff["BTCZAR"]; got != want {
			t.Errorf("error %d: backoff = %v, want %v", i+1, got, want)
		}
	}
}

func TestPollerRateLimitJumpsToMaxBackoff(t *testing.T) {
	p := newTestPoller(&fakeBucketSource{}, &fakeCandleWriter{}, events.NewQueue(1))

	p.recordError("BTCZAR", &valr.APIError{StatusCode: http.StatusTooManyRequests})
	if got := p.backoff["BTCZAR"]; got != 60*time.Second {
		t.Fatalf("429 should back off the full 60s immediately, got %v", got)
	}
}

func TestPollerCriticalHandlerFiresAtThreshold(t *testing.T) {
	p := newTestPoller(&fakeBucketSource{}, &fakeCandleWriter{}, events.NewQueue(1))

	var criticalPair string
	var criticalCount int
	p.SetCriticalHandler(func(pair string, consecutive int, err error) {
		criticalPair = pair
		criticalCount = consecutive
	})

	for i := 0; i < 4; i++ {
		p.recordError("BTCZAR", errors.New("boom"))
	}
	if criticalPair != "" {
		t.Fatal("handler should not fire below 5 consecutive errors")
	}

	p.recordError("BTCZAR", errors.New("boom"))
	if criticalPair != "BTCZAR" || criticalCount != 5 {
		t.Fatalf("expected critical at 5 errors, got pair=%q count=%d", criticalPair, criticalCount)
	}
}

func TestPollerSweepSkipsBackedOffPair(t *testing.T) {
	source := &fakeBucketSource{err: errors.New("down")}
	p := newTestPoller(source, &fakeCandleWriter{}, events.NewQueue(1))

	ctx := context.Background()
	p.pollAll(ctx) // fails, sets 5s backoff
	calls := source.calls

	p.backoff["BTCZAR"] = 2 * p.interval
	p.pollAll(ctx)
	if source.calls != calls {
		t.Fatal("backed-off pair must be skipped")
	}
	p.pollAll(ctx)
	p.pollAll(ctx)
	if source.calls == calls {
		t.Fatal("pair should be polled again once backoff is consumed")
	}
}

func TestPollerErrorCountResetsOnSuccess(t *testing.T) {
	t0 := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	source := &fakeBucketSource{err: errors.New("down")}
	p := newTestPoller(source, &fakeCandleWriter{}, events.NewQueue(10))

	ctx := context.Background()
	p.pollAll(ctx)
	if p.errorCount["BTCZAR"] != 1 {
		t.Fatalf("expected 1 error, got %d", p.errorCount["BTCZAR"])
	}

	source.err = nil
	source.buckets = map[string][]valr.Bucket{
		"BTCZAR": {{StartTime: t0, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}},
	}
	p.backoff["BTCZAR"] = 0
	p.pollAll(ctx)
	if p.errorCount["BTCZAR"] != 0 {
		t.Fatalf("success should reset the error count, got %d", p.errorCount["BTCZAR"])
	}
}
