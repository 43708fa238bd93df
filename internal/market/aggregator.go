package market

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"aether-trading-bot/internal/database"
)

// aggregation targets: period length, source timeframe, minimum gap
// between runs for that target
type aggTarget struct {
	timeframe string
	period    time.Duration
	source    string
	cadence   time.Duration
}

var aggTargets = []aggTarget{
	{database.Timeframe5m, 5 * time.Minute, database.Timeframe1m, 0},
	{database.Timeframe15m, 15 * time.Minute, database.Timeframe1m, 0},
	{database.Timeframe1h, time.Hour, database.Timeframe1m, 15 * time.Minute},
	{database.Timeframe4h, 4 * time.Hour, database.Timeframe1h, 60 * time.Minute},
	{database.Timeframe1d, 24 * time.Hour, database.Timeframe1h, 60 * time.Minute},
}

// CandleStore is the store surface the aggregator needs
type CandleStore interface {
	GetCandlesSince(ctx context.Context, pair, timeframe string, since time.Time) ([]*database.Candle, error)
	UpsertCandle(ctx context.Context, c *database.Candle) error
}

// Aggregator rolls 1m candles into the higher timeframes on a fixed
// cadence. Only complete periods are written; the current period is
// always skipped.
type Aggregator struct {
	store    CandleStore
	pairs    []string
	interval time.Duration
	lastRun  map[string]time.Time

	now func() time.Time

	logger zerolog.Logger
}

// NewAggregator creates a candle aggregator running every interval
// (5 minutes in production).
func NewAggregator(store CandleStore, pairs []string, interval time.Duration, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		store:    store,
		pairs:    pairs,
		interval: interval,
		lastRun:  make(map[string]time.Time),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With().Str("component", "candle_aggregator").Logger(),
	}
}

// Run aggregates until the context is cancelled
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("candle aggregator stopped")
			return ctx.Err()
		case <-ticker.C:
			a.RunOnce(ctx)
		}
	}
}

// RunOnce performs one aggregation sweep over all pairs and due targets
func (a *Aggregator) RunOnce(ctx context.Context) {
	now := a.now()
	for _, target := range aggTargets {
		if target.cadence > 0 && now.Sub(a.lastRun[target.timeframe]) < target.cadence {
			continue
		}
		for _, pair := range a.pairs {
			if err := a.aggregate(ctx, pair, target, now); err != nil {
				a.logger.Warn().Err(err).
					Str("pair", pair).
					Str("timeframe", target.timeframe).
					Msg("aggregation failed")
			}
		}
		a.lastRun[target.timeframe] = now
	}
}

func (a *Aggregator) aggregate(ctx context.Context, pair string, target aggTarget, now time.Time) error {
	// cover the last few periods so late-arriving source candles still
	// land in their buckets
	since := now.Add(-3 * target.period)
	source, err := a.store.GetCandlesSince(ctx, pair, target.source, since)
	if err != nil {
		return err
	}
	if len(source) == 0 {
		return nil
	}

	for _, bucket := range bucketCandles(source, target.period) {
		periodEnd := bucket.OpenTime.Add(target.period)
		if now.Before(periodEnd) {
			// current period is still filling
			continue
		}
		bucket.Pair = pair
		bucket.Timeframe = target.timeframe
		bucket.CloseTime = periodEnd
		if err := a.store.UpsertCandle(ctx, bucket); err != nil {
			return err
		}
	}
	return nil
}

// bucketCandles groups chronological candles by aligned period start and
// folds each group into a single candle (open=first, close=last,
// high=max, low=min, volume=sum).
func bucketCandles(source []*database.Candle, period time.Duration) []*database.Candle {
	periodSecs := int64(period / time.Second)
	var out []*database.Candle
	byStart := make(map[int64]*database.Candle)

	for _, c := range source {
		start := (c.OpenTime.Unix() / periodSecs) * periodSecs
		agg, ok := byStart[start]
		if !ok {
			agg = &database.Candle{
				OpenTime: time.Unix(start, 0).UTC(),
				Open:     c.Open,
				High:     c.High,
				Low:      c.Low,
				Close:    c.Close,
				Volume:   c.Volume,
			}
			byStart[start] = agg
			out = append(out, agg)
			continue
		}
		if c.High > agg.High {
			agg.High = c.High
		}
		if c.Low < agg.Low {
			agg.Low = c.Low
		}
		agg.Close = c.Close
		agg.Volume += c.Volume
	}
	return out
}
