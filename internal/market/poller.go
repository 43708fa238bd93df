package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"aether-trading-bot/internal/database"
	"aether-trading-bot/internal/events"
	"aether-trading-bot/internal/exchange/valr"
)

const (
	pollBackoffBase = 5 * time.Second
	pollBackoffMax  = 60 * time.Second
	criticalErrors  = 5
)

// BucketSource is the exchange surface the poller needs
type BucketSource interface {
	GetBuckets(ctx context.Context, pair string, periodSeconds, limit int) ([]valr.Bucket, error)
}

// CandleWriter is the store surface the poller needs
type CandleWriter interface {
	InsertCandle(ctx context.Context, c *database.Candle) (bool, error)
}

// Poller fetches the last two 1-minute candles per pair every interval,
// deduplicates by open time, persists, and emits NEW_CANDLE events.
type Poller struct {
	source   BucketSource
	store    CandleWriter
	queue    *events.Queue
	pairs    []string
	interval time.Duration

	// public endpoint throttle, 1 request per second across pairs
	limiter *rate.Limiter

	lastSeen   map[string]time.Time
	errorCount map[string]int
	backoff    map[string]time.Duration

	onCritical func(pair string, consecutive int, err error)

	logger zerolog.Logger
}

// NewPoller creates a candle poller for the given pairs
func NewPoller(source BucketSource, store CandleWriter, queue *events.Queue, pairs []string, interval time.Duration, logger zerolog.Logger) *Poller {
	return &Poller{
		source:     source,
		store:      store,
		queue:      queue,
		pairs:      pairs,
		interval:   interval,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		lastSeen:   make(map[string]time.Time),
		errorCount: make(map[string]int),
		backoff:    make(map[string]time.Duration),
		logger:     logger.With().Str("component", "candle_poller").Logger(),
	}
}

// SetCriticalHandler registers the callback invoked when a pair accumulates
// enough consecutive errors to warrant operational alerting.
func (p *Poller) SetCriticalHandler(h func(pair string, consecutive int, err error)) {
	p.onCritical = h
}

// Run polls until the context is cancelled
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// first sweep immediately so the engine has fresh candles at startup
	p.pollAll(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("candle poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	for _, pair := range p.pairs {
		if ctx.Err() != nil {
			return
		}
		if wait := p.backoff[pair]; wait > 0 {
			// skip this pair for the sweep; backoff is consumed one tick
			// at a time rather than sleeping the whole loop
			p.backoff[pair] -= p.interval
			if p.backoff[pair] < 0 {
				p.backoff[pair] = 0
			}
			continue
		}
		if err := p.pollPair(ctx, pair); err != nil {
			p.recordError(pair, err)
		} else {
			p.errorCount[pair] = 0
			p.backoff[pair] = 0
		}
	}
}

func (p *Poller) pollPair(ctx context.Context, pair string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	buckets, err := p.source.GetBuckets(ctx, pair, 60, 2)
	if err != nil {
		return fmt.Errorf("fetch buckets %s: %w", pair, err)
	}

	// exchange returns newest first; ingest chronologically
	for i := len(buckets) - 1; i >= 0; i-- {
		b := buckets[i]
		openTime := b.StartTime.UTC()

		if !openTime.After(p.lastSeen[pair]) {
			continue
		}

		candle := &database.Candle{
			Pair:      pair,
			Timeframe: database.Timeframe1m,
			OpenTime:  openTime,
			CloseTime: openTime.Add(time.Minute),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}

		inserted, err := p.store.InsertCandle(ctx, candle)
		if err != nil {
			return fmt.Errorf("insert candle %s: %w", pair, err)
		}

		p.lastSeen[pair] = openTime

		if inserted {
			p.queue.Publish(events.Event{
				Type:      events.EventNewCandle,
				Pair:      pair,
				Timeframe: database.Timeframe1m,
				Timestamp: openTime,
			})
			p.logger.Debug().
				Str("pair", pair).
				Time("open_time", openTime).
				Float64("close", b.Close).
				Msg("new candle")
		}
	}
	return nil
}

func (p *Poller) recordError(pair string, err error) {
	p.errorCount[pair]++
	n := p.errorCount[pair]

	// 5s * 2^(n-1), capped at 60s; rate limiting jumps straight to the cap
	backoff := pollBackoffMax
	if n < 5 && !valr.IsRateLimited(err) {
		backoff = pollBackoffBase * (1 << (n - 1))
	}
	p.backoff[pair] = backoff

	logEvent := p.logger.Warn()
	if n >= criticalErrors {
		logEvent = p.logger.Error()
	}
	logEvent.Err(err).
		Str("pair", pair).
		Int("consecutive_errors", n).
		Dur("backoff", backoff).
		Msg("poll failed")

	if n >= criticalErrors && p.onCritical != nil {
		p.onCritical(pair, n, err)
	}
}
