package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection pool
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "database").Logger()
	log.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")

	return &DB{Pool: pool, logger: log}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// HealthCheck performs a trivial liveness query
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	return db.Pool.QueryRow(ctx, "SELECT 1").Scan(&one)
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS market_ohlc (
			id BIGSERIAL PRIMARY KEY,
			pair VARCHAR(20) NOT NULL,
			timeframe VARCHAR(10) NOT NULL,
			open_time TIMESTAMP NOT NULL,
			close_time TIMESTAMP NOT NULL,
			open_price DECIMAL(20, 8) NOT NULL,
			high_price DECIMAL(20, 8) NOT NULL,
			low_price DECIMAL(20, 8) NOT NULL,
			close_price DECIMAL(20, 8) NOT NULL,
			volume DECIMAL(30, 8) NOT NULL DEFAULT 0,
			num_trades INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_market_ohlc_pair_tf_open
			ON market_ohlc(pair, timeframe, open_time)`,
		`CREATE INDEX IF NOT EXISTS idx_market_ohlc_open_time ON market_ohlc(open_time)`,

		`CREATE TABLE IF NOT EXISTS engineered_features (
			id BIGSERIAL PRIMARY KEY,
			pair VARCHAR(20) NOT NULL,
			features_vector JSONB NOT NULL,
			computed_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_engineered_features_pair_at
			ON engineered_features(pair, computed_at)`,

		`CREATE TABLE IF NOT EXISTS ml_predictions (
			id BIGSERIAL PRIMARY KEY,
			pair VARCHAR(20) NOT NULL,
			model_version VARCHAR(50) NOT NULL,
			class VARCHAR(4) NOT NULL,
			prob_buy DECIMAL(10, 8) NOT NULL,
			prob_sell DECIMAL(10, 8) NOT NULL,
			prob_hold DECIMAL(10, 8) NOT NULL,
			confidence DECIMAL(10, 8) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ml_predictions_pair ON ml_predictions(pair, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS aether_risk_decisions (
			id BIGSERIAL PRIMARY KEY,
			pair VARCHAR(20) NOT NULL,
			signal VARCHAR(4) NOT NULL,
			ml_confidence DECIMAL(10, 8) NOT NULL,
			position_size_zar DECIMAL(20, 8) NOT NULL,
			leverage DECIMAL(10, 4) NOT NULL DEFAULT 1,
			stop_loss_pct DECIMAL(10, 4) NOT NULL,
			take_profit_pct DECIMAL(10, 4) NOT NULL,
			max_loss_zar DECIMAL(20, 8) NOT NULL DEFAULT 0,
			expected_gain_zar DECIMAL(20, 8) NOT NULL DEFAULT 0,
			executed BOOLEAN NOT NULL DEFAULT FALSE,
			execution_id BIGINT,
			rejected_by VARCHAR(50),
			rejection_reason TEXT,
			llm_rejection_reasoning TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_decisions_pending
			ON aether_risk_decisions(created_at) WHERE executed = FALSE AND rejected_by IS NULL`,

		`CREATE TABLE IF NOT EXISTS positions (
			id BIGSERIAL PRIMARY KEY,
			pair VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			entry_time TIMESTAMP NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			position_value_zar DECIMAL(20, 8) NOT NULL,
			leverage DECIMAL(10, 4) NOT NULL DEFAULT 1,
			stop_loss_price DECIMAL(20, 8) NOT NULL,
			take_profit_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8),
			exit_time TIMESTAMP,
			pnl_pct DECIMAL(10, 4),
			pnl_zar DECIMAL(20, 8),
			status VARCHAR(20) NOT NULL DEFAULT 'OPEN',
			close_reason VARCHAR(20),
			strategic_reasoning TEXT,
			order_id VARCHAR(64),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_pair ON positions(pair)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_entry_time ON positions(entry_time)`,

		`CREATE TABLE IF NOT EXISTS portfolio_state (
			id INTEGER PRIMARY KEY,
			total_value_zar DECIMAL(20, 8) NOT NULL,
			peak_value_zar DECIMAL(20, 8) NOT NULL,
			current_drawdown_pct DECIMAL(10, 4) NOT NULL DEFAULT 0,
			max_drawdown_pct DECIMAL(10, 4) NOT NULL DEFAULT 0,
			last_updated TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS portfolio_value_history (
			id BIGSERIAL PRIMARY KEY,
			total_value_zar DECIMAL(20, 8) NOT NULL,
			recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_portfolio_history_at ON portfolio_value_history(recorded_at)`,

		`CREATE TABLE IF NOT EXISTS trading_mode_state (
			id INTEGER PRIMARY KEY,
			current_mode VARCHAR(10) NOT NULL,
			last_changed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			changed_by VARCHAR(100),
			reason TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS trading_mode_history (
			id BIGSERIAL PRIMARY KEY,
			from_mode VARCHAR(10) NOT NULL,
			to_mode VARCHAR(10) NOT NULL,
			changed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			changed_by VARCHAR(100),
			reason TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS simulated_orders (
			id VARCHAR(64) PRIMARY KEY,
			pair VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			fill_price DECIMAL(20, 8) NOT NULL,
			market_price DECIMAL(20, 8) NOT NULL,
			slippage_pct DECIMAL(10, 6) NOT NULL,
			fees DECIMAL(20, 8) NOT NULL,
			latency_ms INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_simulated_orders_pair ON simulated_orders(pair, created_at DESC)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("database migrations completed")
	return nil
}
