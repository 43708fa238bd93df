// Package cache provides Redis-backed snapshots of engine state for the
// HTTP API fast path. When Redis is unavailable the engine keeps running;
// readers fall back to querying the engine directly.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"aether-trading-bot/config"
)

// Cache keys and TTLs
const (
	keyEngineStatus = "aether:engine:status"
	keyPrices       = "aether:prices"

	statusTTL = 2 * time.Minute
	priceTTL  = 30 * time.Second
)

// StatusCache writes engine status and price snapshots to Redis
type StatusCache struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewStatusCache connects to Redis. A failed initial ping is logged, not
// fatal; the cache degrades to a no-op until Redis recovers.
func NewStatusCache(cfg config.RedisConfig, logger zerolog.Logger) (*StatusCache, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	sc := &StatusCache{
		client: client,
		logger: logger.With().Str("component", "status_cache").Logger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		sc.logger.Warn().Err(err).Str("address", cfg.Address).Msg("redis unreachable, cache degraded")
	} else {
		sc.logger.Info().Str("address", cfg.Address).Msg("redis connected")
	}

	return sc, nil
}

// Close releases the Redis connection
func (sc *StatusCache) Close() error {
	return sc.client.Close()
}

// WriteStatus stores the latest engine status snapshot
func (sc *StatusCache) WriteStatus(ctx context.Context, status any) {
	sc.setJSON(ctx, keyEngineStatus, status, statusTTL)
}

// WritePrices stores the latest price snapshot
func (sc *StatusCache) WritePrices(ctx context.Context, prices map[string]float64) {
	sc.setJSON(ctx, keyPrices, prices, priceTTL)
}

// ReadStatus loads the cached engine status into dest. Returns false
// when the key is missing or Redis is down.
func (sc *StatusCache) ReadStatus(ctx context.Context, dest any) bool {
	return sc.getJSON(ctx, keyEngineStatus, dest)
}

// ReadPrices loads the cached price snapshot
func (sc *StatusCache) ReadPrices(ctx context.Context) (map[string]float64, bool) {
	var prices map[string]float64
	if !sc.getJSON(ctx, keyPrices, &prices) {
		return nil, false
	}
	return prices, true
}

func (sc *StatusCache) setJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		sc.logger.Warn().Err(err).Str("key", key).Msg("cache marshal failed")
		return
	}
	if err := sc.client.Set(ctx, key, data, ttl).Err(); err != nil {
		sc.logger.Debug().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (sc *StatusCache) getJSON(ctx context.Context, key string, dest any) bool {
	data, err := sc.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}
