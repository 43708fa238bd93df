package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aether-trading-bot/internal/database"
)

// Freshness bounds for the price lookup chain
const (
	cacheFreshness  = 5 * time.Second
	candleFreshness = 10 * time.Minute
)

// ErrStalePrice means no source in the fallback chain had a usable price
var ErrStalePrice = errors.New("no usable price: cache stale, candles stale, no trade record")

type cachedPrice struct {
	price float64
	at    time.Time
}

// PriceCache is the sub-second price map written by the event loop and
// read by the position monitor and execution paths.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]cachedPrice
}

// NewPriceCache creates an empty cache
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]cachedPrice)}
}

// Set records the latest price for a pair
func (c *PriceCache) Set(pair string, price float64, at time.Time) {
	c.mu.Lock()
	c.prices[pair] = cachedPrice{price: price, at: at}
	c.mu.Unlock()
}

// Get returns the cached price when strictly fresher than 5 seconds.
// A price exactly 5 seconds old is stale.
func (c *PriceCache) Get(pair string) (float64, bool) {
	c.mu.RLock()
	entry, ok := c.prices[pair]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if !(time.Since(entry.at) < cacheFreshness) {
		return 0, false
	}
	return entry.price, true
}

// Snapshot returns a copy of all cached prices
func (c *PriceCache) Snapshot() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.prices))
	for pair, entry := range c.prices {
		out[pair] = entry.price
	}
	return out
}

// priceFallbackStore is the persistence surface of the staleness chain
type priceFallbackStore interface {
	GetLatestCandle(ctx context.Context, pair, timeframe string) (*database.Candle, error)
	GetLastOrderFill(ctx context.Context, pair string) (float64, time.Time, error)
}

// PriceLookup resolves a pair's current price through the staleness
// chain: cache under 5s, then a 1m or 5m candle closed within 10
// minutes, then the most recent trade record.
func PriceLookup(cache *PriceCache, store priceFallbackStore) func(ctx context.Context, pair string) (float64, error) {
	return func(ctx context.Context, pair string) (float64, error) {
		if price, ok := cache.Get(pair); ok {
			return price, nil
		}

		for _, timeframe := range []string{database.Timeframe1m, database.Timeframe5m} {
			candle, err := store.GetLatestCandle(ctx, pair, timeframe)
			if err != nil {
				continue
			}
			if time.Since(candle.CloseTime) <= candleFreshness {
				return candle.Close, nil
			}
		}

		if price, _, err := store.GetLastOrderFill(ctx, pair); err == nil && price > 0 {
			return price, nil
		}

		return 0, fmt.Errorf("%w (pair %s)", ErrStalePrice, pair)
	}
}
