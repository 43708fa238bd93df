package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Repository provides typed data access over the connection pool
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database liveness check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// ============================================================================
// CANDLES
// ============================================================================

// InsertCandle inserts a candle, ignoring (pair, timeframe, open_time)
// collisions. Returns true when a row was actually written.
func (r *Repository) InsertCandle(ctx context.Context, c *Candle) (bool, error) {
	query := `
		INSERT INTO market_ohlc (pair, timeframe, open_time, close_time, open_price, high_price, low_price, close_price, volume, num_trades)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (pair, timeframe, open_time) DO NOTHING
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		c.Pair, c.Timeframe, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.NumTrades,
	)
	if err != nil {
		return false, fmt.Errorf("insert candle: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertCandle writes an aggregated candle, replacing any prior row for the
// same (pair, timeframe, open_time). Used by the aggregator, which may
// rewrite a period when late 1m candles arrive.
func (r *Repository) UpsertCandle(ctx context.Context, c *Candle) error {
	query := `
		INSERT INTO market_ohlc (pair, timeframe, open_time, close_time, open_price, high_price, low_price, close_price, volume, num_trades)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (pair, timeframe, open_time) DO UPDATE SET
			close_time = EXCLUDED.close_time,
			open_price = EXCLUDED.open_price,
			high_price = EXCLUDED.high_price,
			low_price = EXCLUDED.low_price,
			close_price = EXCLUDED.close_price,
			volume = EXCLUDED.volume,
			num_trades = EXCLUDED.num_trades
	`
	_, err := r.db.Pool.Exec(ctx, query,
		c.Pair, c.Timeframe, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.NumTrades,
	)
	if err != nil {
		return fmt.Errorf("upsert candle: %w", err)
	}
	return nil
}

// GetCandle fetches a specific candle by its unique key
func (r *Repository) GetCandle(ctx context.Context, pair, timeframe string, openTime time.Time) (*Candle, error) {
	query := `
		SELECT id, pair, timeframe, open_time, close_time, open_price, high_price, low_price, close_price, volume, num_trades
		FROM market_ohlc
		WHERE pair = $1 AND timeframe = $2 AND open_time = $3
	`
	c := &Candle{}
	err := r.db.Pool.QueryRow(ctx, query, pair, timeframe, openTime).Scan(
		&c.ID, &c.Pair, &c.Timeframe, &c.OpenTime, &c.CloseTime,
		&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.NumTrades,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetRecentCandles returns the most recent candles in chronological order
func (r *Repository) GetRecentCandles(ctx context.Context, pair, timeframe string, limit int) ([]*Candle, error) {
	query := `
		SELECT id, pair, timeframe, open_time, close_time, open_price, high_price, low_price, close_price, volume, num_trades
		FROM market_ohlc
		WHERE pair = $1 AND timeframe = $2
		ORDER BY open_time DESC
		LIMIT $3
	`
	rows, err := r.db.Pool.Query(ctx, query, pair, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent candles: %w", err)
	}
	defer rows.Close()

	var candles []*Candle
	for rows.Next() {
		c := &Candle{}
		if err := rows.Scan(&c.ID, &c.Pair, &c.Timeframe, &c.OpenTime, &c.CloseTime,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.NumTrades); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// GetCandlesSince returns candles with open_time >= since, chronological
func (r *Repository) GetCandlesSince(ctx context.Context, pair, timeframe string, since time.Time) ([]*Candle, error) {
	query := `
		SELECT id, pair, timeframe, open_time, close_time, open_price, high_price, low_price, close_price, volume, num_trades
		FROM market_ohlc
		WHERE pair = $1 AND timeframe = $2 AND open_time >= $3
		ORDER BY open_time ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, pair, timeframe, since)
	if err != nil {
		return nil, fmt.Errorf("query candles since: %w", err)
	}
	defer rows.Close()

	var candles []*Candle
	for rows.Next() {
		c := &Candle{}
		if err := rows.Scan(&c.ID, &c.Pair, &c.Timeframe, &c.OpenTime, &c.CloseTime,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.NumTrades); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// GetLatestCandle returns the most recent candle for a pair and timeframe
func (r *Repository) GetLatestCandle(ctx context.Context, pair, timeframe string) (*Candle, error) {
	query := `
		SELECT id, pair, timeframe, open_time, close_time, open_price, high_price, low_price, close_price, volume, num_trades
		FROM market_ohlc
		WHERE pair = $1 AND timeframe = $2
		ORDER BY open_time DESC
		LIMIT 1
	`
	c := &Candle{}
	err := r.db.Pool.QueryRow(ctx, query, pair, timeframe).Scan(
		&c.ID, &c.Pair, &c.Timeframe, &c.OpenTime, &c.CloseTime,
		&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.NumTrades,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetDailyCloses returns up to limit daily close prices, chronological
func (r *Repository) GetDailyCloses(ctx context.Context, pair string, limit int) ([]float64, error) {
	query := `
		SELECT close_price FROM (
			SELECT close_price, open_time
			FROM market_ohlc
			WHERE pair = $1 AND timeframe = '1d'
			ORDER BY open_time DESC
			LIMIT $2
		) recent
		ORDER BY open_time ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, pair, limit)
	if err != nil {
		return nil, fmt.Errorf("query daily closes: %w", err)
	}
	defer rows.Close()

	var closes []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		closes = append(closes, c)
	}
	return closes, rows.Err()
}

// ============================================================================
// FEATURES & PREDICTIONS
// ============================================================================

// InsertFeatureVector stores a feature vector blob keyed by (pair, computed_at)
func (r *Repository) InsertFeatureVector(ctx context.Context, fv *FeatureVector) error {
	blob, err := json.Marshal(fv)
	if err != nil {
		return fmt.Errorf("marshal feature vector: %w", err)
	}
	query := `
		INSERT INTO engineered_features (pair, features_vector, computed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (pair, computed_at) DO NOTHING
	`
	if _, err := r.db.Pool.Exec(ctx, query, fv.Pair, blob, fv.ComputedAt); err != nil {
		return fmt.Errorf("insert feature vector: %w", err)
	}
	return nil
}

// GetLatestFeatureVector returns the most recent feature vector for a pair
func (r *Repository) GetLatestFeatureVector(ctx context.Context, pair string) (*FeatureVector, error) {
	query := `
		SELECT features_vector
		FROM engineered_features
		WHERE pair = $1
		ORDER BY computed_at DESC
		LIMIT 1
	`
	var blob []byte
	if err := r.db.Pool.QueryRow(ctx, query, pair).Scan(&blob); err != nil {
		return nil, err
	}
	fv := &FeatureVector{}
	if err := json.Unmarshal(blob, fv); err != nil {
		return nil, fmt.Errorf("unmarshal feature vector: %w", err)
	}
	return fv, nil
}

// InsertPrediction stores one classifier output
func (r *Repository) InsertPrediction(ctx context.Context, p *Prediction) error {
	query := `
		INSERT INTO ml_predictions (pair, model_version, class, prob_buy, prob_sell, prob_hold, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	return r.db.Pool.QueryRow(ctx, query,
		p.Pair, p.ModelVersion, p.Class, p.ProbBuy, p.ProbSell, p.ProbHold, p.Confidence, p.CreatedAt,
	).Scan(&p.ID)
}

// GetRecentPredictions returns the latest predictions for a pair, newest first
func (r *Repository) GetRecentPredictions(ctx context.Context, pair string, limit int) ([]*Prediction, error) {
	query := `
		SELECT id, pair, model_version, class, prob_buy, prob_sell, prob_hold, confidence, created_at
		FROM ml_predictions
		WHERE pair = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, pair, limit)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	var preds []*Prediction
	for rows.Next() {
		p := &Prediction{}
		if err := rows.Scan(&p.ID, &p.Pair, &p.ModelVersion, &p.Class,
			&p.ProbBuy, &p.ProbSell, &p.ProbHold, &p.Confidence, &p.CreatedAt); err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, rows.Err()
}

// ============================================================================
// SIMULATED ORDER AUDIT
// ============================================================================

// InsertSimulatedOrder persists a paper-client fill
func (r *Repository) InsertSimulatedOrder(ctx context.Context, o *SimulatedOrder) error {
	query := `
		INSERT INTO simulated_orders (id, pair, side, quantity, fill_price, market_price, slippage_pct, fees, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		o.ID, o.Pair, o.Side, o.Quantity, o.FillPrice, o.MarketPrice, o.SlippagePct, o.Fees, o.LatencyMs, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert simulated order: %w", err)
	}
	return nil
}

// GetLastOrderFill returns the fill price and time of the most recent
// simulated order for a pair. Used as the last-resort price fallback.
func (r *Repository) GetLastOrderFill(ctx context.Context, pair string) (float64, time.Time, error) {
	query := `
		SELECT fill_price, created_at
		FROM simulated_orders
		WHERE pair = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	var price float64
	var at time.Time
	if err := r.db.Pool.QueryRow(ctx, query, pair).Scan(&price, &at); err != nil {
		return 0, time.Time{}, err
	}
	return price, at, nil
}
