package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	ExchangeConfig     ExchangeConfig     `json:"exchange"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	TradingConfig      TradingConfig      `json:"trading"`
	RiskConfig         RiskConfig         `json:"risk"`
	SafetyConfig       SafetyConfig       `json:"safety"`
	AIConfig           AIConfig           `json:"ai"`
	PaperConfig        PaperConfig        `json:"paper"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	ServerConfig       ServerConfig       `json:"server"`
	AuthConfig         AuthConfig         `json:"auth"`
	RedisConfig        RedisConfig        `json:"redis"`
	VaultConfig        VaultConfig        `json:"vault"`
	NotificationConfig NotificationConfig `json:"notification"`
}

// ExchangeConfig holds exchange API configuration
type ExchangeConfig struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	BaseURL   string `json:"base_url"`
	WSURL     string `json:"ws_url"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// TradingConfig holds pipeline and engine configuration
type TradingConfig struct {
	Pairs                []string `json:"pairs"` // e.g. ["BTCZAR", "ETHZAR"]
	AutoTradingEnabled   bool     `json:"auto_trading_enabled"`
	PollIntervalSecs     int      `json:"poll_interval_secs"`    // candle poller cadence
	MonitorIntervalSecs  int      `json:"monitor_interval_secs"` // position monitor cadence
	HealthIntervalSecs   int      `json:"health_interval_secs"`
	EventQueueSize       int      `json:"event_queue_size"`
	MaxConsecutiveErrors int      `json:"max_consecutive_errors"` // event loop errors before emergency stop
}

type RiskConfig struct {
	MinConfidence        float64 `json:"min_confidence"`          // Tier 3 gate, strict >
	KellyFraction        float64 `json:"kelly_fraction"`          // fraction of full Kelly
	MaxPositionFraction  float64 `json:"max_position_fraction"`   // of portfolio, per position
	MaxDrawdownPct       float64 `json:"max_drawdown_pct"`        // emergency threshold
	DailyLossLimitPct    float64 `json:"daily_loss_limit_pct"`
	MaxSinglePositionPct float64 `json:"max_single_position_pct"` // 20
	MaxSectorExposurePct float64 `json:"max_sector_exposure_pct"` // 60
	MaxCorrelation       float64 `json:"max_correlation"`         // 0.90, strict <
	MaxTotalLeverage     float64 `json:"max_total_leverage"`      // 3.0
	MinPositionPct       float64 `json:"min_position_pct"`        // 5% floor
	PositionTimeoutHours int     `json:"position_timeout_hours"`
}

// SafetyConfig holds live-mode order safety limits
type SafetyConfig struct {
	MinOrderValueZAR       float64 `json:"min_order_value_zar"`
	MaxOrderSizeZAR        float64 `json:"max_order_size_zar"`
	MaxDailyTrades         int     `json:"max_daily_trades"`
	BalanceBufferPct       float64 `json:"balance_buffer_pct"`
	MaxPositionExposurePct float64 `json:"max_position_exposure_pct"`
	FeePct                 float64 `json:"fee_pct"`
}

// AIConfig holds LLM strategic gate configuration
type AIConfig struct {
	LLMEnabled   bool    `json:"llm_enabled"`
	Provider     string  `json:"provider"` // "claude" or "openai"
	APIKey       string  `json:"api_key"`
	Model        string  `json:"model"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
	TimeoutSecs  int     `json:"timeout_secs"`
	ModelVersion string  `json:"model_version"` // predictor model tag
}

// PaperConfig holds paper execution simulator parameters
type PaperConfig struct {
	BaseSlippageBps    float64 `json:"base_slippage_bps"`
	TakerFeePct        float64 `json:"taker_fee_pct"`
	MinLatencyMs       int     `json:"min_latency_ms"`
	MaxLatencyMs       int     `json:"max_latency_ms"`
	StartingBalanceZAR float64 `json:"starting_balance_zar"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // console writer when false
}

type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	AllowedOrigins string `json:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret       string `json:"jwt_secret"`
	AdminUser       string `json:"admin_user"`
	AdminPassHash   string `json:"admin_pass_hash"` // bcrypt hash
	TokenExpiryMins int    `json:"token_expiry_mins"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type VaultConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
	Token   string `json:"token"`
	Mount   string `json:"mount"`
	Path    string `json:"path"`
}

type NotificationConfig struct {
	TelegramEnabled bool   `json:"telegram_enabled"`
	TelegramToken   string `json:"telegram_token"`
	TelegramChatID  int64  `json:"telegram_chat_id"`
}

// Load reads config.json if present, then applies environment overrides.
// A .env file in the working directory is loaded first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func loadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", filename, err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Exchange
	cfg.ExchangeConfig.APIKey = getEnvOrDefault("EXCHANGE_API_KEY", cfg.ExchangeConfig.APIKey)
	cfg.ExchangeConfig.SecretKey = getEnvOrDefault("EXCHANGE_SECRET_KEY", cfg.ExchangeConfig.SecretKey)
	cfg.ExchangeConfig.BaseURL = getEnvOrDefault("EXCHANGE_BASE_URL", cfg.ExchangeConfig.BaseURL)
	cfg.ExchangeConfig.WSURL = getEnvOrDefault("EXCHANGE_WS_URL", cfg.ExchangeConfig.WSURL)

	// Database
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Trading
	if pairs := os.Getenv("TRADING_PAIRS"); pairs != "" {
		cfg.TradingConfig.Pairs = splitAndTrim(pairs)
	}
	cfg.TradingConfig.AutoTradingEnabled = getEnvOrDefault("AUTO_TRADING_ENABLED", boolStr(cfg.TradingConfig.AutoTradingEnabled)) == "true"

	// Risk
	cfg.RiskConfig.MinConfidence = getEnvFloatOrDefault("RISK_MIN_CONFIDENCE", cfg.RiskConfig.MinConfidence)
	cfg.RiskConfig.MaxDrawdownPct = getEnvFloatOrDefault("RISK_MAX_DRAWDOWN_PCT", cfg.RiskConfig.MaxDrawdownPct)
	cfg.RiskConfig.DailyLossLimitPct = getEnvFloatOrDefault("RISK_DAILY_LOSS_LIMIT_PCT", cfg.RiskConfig.DailyLossLimitPct)

	// Safety
	cfg.SafetyConfig.MinOrderValueZAR = getEnvFloatOrDefault("SAFETY_MIN_ORDER_VALUE_ZAR", cfg.SafetyConfig.MinOrderValueZAR)
	cfg.SafetyConfig.MaxOrderSizeZAR = getEnvFloatOrDefault("SAFETY_MAX_ORDER_SIZE_ZAR", cfg.SafetyConfig.MaxOrderSizeZAR)
	cfg.SafetyConfig.MaxDailyTrades = getEnvIntOrDefault("SAFETY_MAX_DAILY_TRADES", cfg.SafetyConfig.MaxDailyTrades)

	// AI
	cfg.AIConfig.LLMEnabled = getEnvOrDefault("AI_LLM_ENABLED", boolStr(cfg.AIConfig.LLMEnabled)) == "true"
	cfg.AIConfig.Provider = getEnvOrDefault("AI_LLM_PROVIDER", cfg.AIConfig.Provider)
	cfg.AIConfig.APIKey = getEnvOrDefault("AI_LLM_API_KEY", cfg.AIConfig.APIKey)
	cfg.AIConfig.Model = getEnvOrDefault("AI_LLM_MODEL", cfg.AIConfig.Model)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolStr(cfg.LoggingConfig.JSONFormat)) == "true"

	// Server
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	// Auth
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AdminUser = getEnvOrDefault("AUTH_ADMIN_USER", cfg.AuthConfig.AdminUser)
	cfg.AuthConfig.AdminPassHash = getEnvOrDefault("AUTH_ADMIN_PASS_HASH", cfg.AuthConfig.AdminPassHash)

	// Redis
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolStr(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)

	// Vault
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", boolStr(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)

	// Notifications
	cfg.NotificationConfig.TelegramEnabled = getEnvOrDefault("TELEGRAM_ENABLED", boolStr(cfg.NotificationConfig.TelegramEnabled)) == "true"
	cfg.NotificationConfig.TelegramToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.TelegramToken)
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.NotificationConfig.TelegramChatID = id
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ExchangeConfig.BaseURL == "" {
		cfg.ExchangeConfig.BaseURL = "https://api.valr.com/v1"
	}
	if cfg.ExchangeConfig.WSURL == "" {
		cfg.ExchangeConfig.WSURL = "wss://api.valr.com"
	}
	if cfg.DatabaseConfig.Host == "" {
		cfg.DatabaseConfig.Host = "localhost"
	}
	if cfg.DatabaseConfig.Port == 0 {
		cfg.DatabaseConfig.Port = 5432
	}
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}
	if len(cfg.TradingConfig.Pairs) == 0 {
		cfg.TradingConfig.Pairs = []string{"BTCZAR", "ETHZAR"}
	}
	if cfg.TradingConfig.PollIntervalSecs == 0 {
		cfg.TradingConfig.PollIntervalSecs = 60
	}
	if cfg.TradingConfig.MonitorIntervalSecs == 0 {
		cfg.TradingConfig.MonitorIntervalSecs = 5
	}
	if cfg.TradingConfig.HealthIntervalSecs == 0 {
		cfg.TradingConfig.HealthIntervalSecs = 30
	}
	if cfg.TradingConfig.EventQueueSize == 0 {
		cfg.TradingConfig.EventQueueSize = 1000
	}
	if cfg.TradingConfig.MaxConsecutiveErrors == 0 {
		cfg.TradingConfig.MaxConsecutiveErrors = 10
	}
	if cfg.RiskConfig.MinConfidence == 0 {
		cfg.RiskConfig.MinConfidence = 0.40
	}
	if cfg.RiskConfig.KellyFraction == 0 {
		cfg.RiskConfig.KellyFraction = 0.25
	}
	if cfg.RiskConfig.MaxPositionFraction == 0 {
		cfg.RiskConfig.MaxPositionFraction = 0.10
	}
	if cfg.RiskConfig.MaxDrawdownPct == 0 {
		cfg.RiskConfig.MaxDrawdownPct = 15.0
	}
	if cfg.RiskConfig.DailyLossLimitPct == 0 {
		cfg.RiskConfig.DailyLossLimitPct = 5.0
	}
	if cfg.RiskConfig.MaxSinglePositionPct == 0 {
		cfg.RiskConfig.MaxSinglePositionPct = 20.0
	}
	if cfg.RiskConfig.MaxSectorExposurePct == 0 {
		cfg.RiskConfig.MaxSectorExposurePct = 60.0
	}
	if cfg.RiskConfig.MaxCorrelation == 0 {
		cfg.RiskConfig.MaxCorrelation = 0.90
	}
	if cfg.RiskConfig.MaxTotalLeverage == 0 {
		cfg.RiskConfig.MaxTotalLeverage = 3.0
	}
	if cfg.RiskConfig.MinPositionPct == 0 {
		cfg.RiskConfig.MinPositionPct = 5.0
	}
	if cfg.RiskConfig.PositionTimeoutHours == 0 {
		cfg.RiskConfig.PositionTimeoutHours = 24
	}
	if cfg.SafetyConfig.MinOrderValueZAR == 0 {
		cfg.SafetyConfig.MinOrderValueZAR = 100.0
	}
	if cfg.SafetyConfig.MaxOrderSizeZAR == 0 {
		cfg.SafetyConfig.MaxOrderSizeZAR = 10000.0
	}
	if cfg.SafetyConfig.MaxDailyTrades == 0 {
		cfg.SafetyConfig.MaxDailyTrades = 20
	}
	if cfg.SafetyConfig.BalanceBufferPct == 0 {
		cfg.SafetyConfig.BalanceBufferPct = 0.5
	}
	if cfg.SafetyConfig.MaxPositionExposurePct == 0 {
		cfg.SafetyConfig.MaxPositionExposurePct = 25.0
	}
	if cfg.SafetyConfig.FeePct == 0 {
		cfg.SafetyConfig.FeePct = 0.1
	}
	if cfg.AIConfig.Provider == "" {
		cfg.AIConfig.Provider = "claude"
	}
	if cfg.AIConfig.Model == "" {
		cfg.AIConfig.Model = "claude-3-haiku-20240307"
	}
	if cfg.AIConfig.MaxTokens == 0 {
		cfg.AIConfig.MaxTokens = 1024
	}
	if cfg.AIConfig.TimeoutSecs == 0 {
		cfg.AIConfig.TimeoutSecs = 30
	}
	if cfg.AIConfig.ModelVersion == "" {
		cfg.AIConfig.ModelVersion = "aether-v1"
	}
	if cfg.PaperConfig.BaseSlippageBps == 0 {
		cfg.PaperConfig.BaseSlippageBps = 3.0
	}
	if cfg.PaperConfig.TakerFeePct == 0 {
		cfg.PaperConfig.TakerFeePct = 0.1
	}
	if cfg.PaperConfig.MinLatencyMs == 0 {
		cfg.PaperConfig.MinLatencyMs = 50
	}
	if cfg.PaperConfig.MaxLatencyMs == 0 {
		cfg.PaperConfig.MaxLatencyMs = 200
	}
	if cfg.PaperConfig.StartingBalanceZAR == 0 {
		cfg.PaperConfig.StartingBalanceZAR = 100000.0
	}
	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "info"
	}
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.ServerConfig.AllowedOrigins == "" {
		cfg.ServerConfig.AllowedOrigins = "*"
	}
	if cfg.AuthConfig.TokenExpiryMins == 0 {
		cfg.AuthConfig.TokenExpiryMins = 60
	}
	if cfg.RedisConfig.Address == "" {
		cfg.RedisConfig.Address = "localhost:6379"
	}
	if cfg.VaultConfig.Mount == "" {
		cfg.VaultConfig.Mount = "secret"
	}
	if cfg.VaultConfig.Path == "" {
		cfg.VaultConfig.Path = "aether/exchange"
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
