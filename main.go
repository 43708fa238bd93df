package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"aether-trading-bot/config"
	"aether-trading-bot/internal/ai/llm"
	"aether-trading-bot/internal/ai/ml"
	"aether-trading-bot/internal/api"
	"aether-trading-bot/internal/auth"
	"aether-trading-bot/internal/cache"
	"aether-trading-bot/internal/database"
	"aether-trading-bot/internal/engine"
	"aether-trading-bot/internal/events"
	"aether-trading-bot/internal/exchange/valr"
	"aether-trading-bot/internal/execution"
	"aether-trading-bot/internal/features"
	"aether-trading-bot/internal/market"
	"aether-trading-bot/internal/mode"
	"aether-trading-bot/internal/notification"
	"aether-trading-bot/internal/position"
	"aether-trading-bot/internal/risk"
	"aether-trading-bot/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize structured logging
	logger := newLogger(cfg.LoggingConfig)
	logger.Info().Strs("pairs", cfg.TradingConfig.Pairs).Msg("aether starting")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.RunMigrations(rootCtx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}
	repo := database.NewRepository(db)

	// Exchange credentials: Vault when enabled, environment otherwise
	apiKey := cfg.ExchangeConfig.APIKey
	secretKey := cfg.ExchangeConfig.SecretKey
	if vaultClient, err := vault.NewClient(cfg.VaultConfig); err != nil {
		logger.Fatal().Err(err).Msg("vault client init failed")
	} else if vaultClient != nil {
		creds, err := vaultClient.FetchCredentials(rootCtx)
		if err != nil {
			logger.Fatal().Err(err).Msg("vault credential fetch failed")
		}
		apiKey = creds.APIKey
		secretKey = creds.SecretKey
		logger.Info().Msg("exchange credentials loaded from vault")
	}

	exchangeClient := valr.NewClient(apiKey, secretKey, cfg.ExchangeConfig.BaseURL)
	if !exchangeClient.HasCredentials() {
		logger.Warn().Msg("no exchange credentials, LIVE mode will be refused at execution")
	}

	// Event queue and market data
	queue := events.NewQueue(cfg.TradingConfig.EventQueueSize)
	priceStream := valr.NewPriceStream(cfg.ExchangeConfig.WSURL, cfg.TradingConfig.Pairs, logger)
	streamConsumer := market.NewStreamConsumer(priceStream, queue, logger)
	poller := market.NewPoller(exchangeClient, repo, queue, cfg.TradingConfig.Pairs,
		time.Duration(cfg.TradingConfig.PollIntervalSecs)*time.Second, logger)
	aggregator := market.NewAggregator(repo, cfg.TradingConfig.Pairs, time.Minute, logger)

	// Price cache fed by the event loop, with candle and fill fallback
	priceCache := engine.NewPriceCache()
	var priceLookup execution.PriceGetter = engine.PriceLookup(priceCache, repo)

	// Analytical tiers
	engineer := features.NewEngineer(repo, repo, logger)
	predictor := ml.NewPredictor(repo, repo, logger)

	var gate *llm.Gate
	if cfg.AIConfig.LLMEnabled {
		llmClient := llm.NewClient(&llm.ClientConfig{
			Provider:    llm.Provider(cfg.AIConfig.Provider),
			APIKey:      cfg.AIConfig.APIKey,
			Model:       cfg.AIConfig.Model,
			MaxTokens:   cfg.AIConfig.MaxTokens,
			Temperature: cfg.AIConfig.Temperature,
			Timeout:     time.Duration(cfg.AIConfig.TimeoutSecs) * time.Second,
		})
		gate = llm.NewGate(llmClient, repo, cfg.TradingConfig.Pairs, logger)
		logger.Info().Str("provider", cfg.AIConfig.Provider).Str("model", cfg.AIConfig.Model).Msg("LLM strategic gate enabled")
	} else {
		logger.Warn().Msg("LLM strategic gate disabled, signals pass tier 4 unreviewed")
	}

	sizer := risk.NewSizer(repo, cfg.RiskConfig, logger)
	portfolio := risk.NewPortfolioManager(repo, cfg.RiskConfig, logger)

	// Execution: paper simulator, live client, safety gates, mode router
	paperClient := execution.NewPaperClient(priceLookup, repo, cfg.PaperConfig, logger)

	var accountStream *valr.AccountStream
	var orderSocket execution.OrderSocket
	if exchangeClient.HasCredentials() {
		accountStream = valr.NewAccountStream(cfg.ExchangeConfig.WSURL, apiKey, secretKey, logger)
		if err := accountStream.Connect(); err != nil {
			logger.Warn().Err(err).Msg("account stream connect failed, live orders fall back to REST")
		} else {
			orderSocket = accountStream
		}
	}
	liveClient := execution.NewLiveClient(exchangeClient, orderSocket, logger)
	safetyGates := execution.NewSafetyGates(repo, cfg.SafetyConfig, logger)

	modeOrch := mode.NewOrchestrator(repo, logger)
	router := execution.NewRouter(modeOrch, paperClient, liveClient, safetyGates, priceLookup, logger)

	positions := position.NewManager(repo, router,
		time.Duration(cfg.RiskConfig.PositionTimeoutHours)*time.Hour, logger)

	// Optional collaborators
	deps := engine.Deps{
		Queue:      queue,
		Repo:       repo,
		PriceCache: priceCache,
		Poller:     poller,
		Aggregator: aggregator,
		Stream:     streamConsumer,
		Engineer:   engineer,
		Predictor:  predictor,
		Gate:       gate,
		Sizer:      sizer,
		Portfolio:  portfolio,
		Positions:  positions,
		Router:     router,
		Prices:     priceLookup,
		Modes:      modeOrch,
	}

	notifier, err := notification.NewTelegramNotifier(cfg.NotificationConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("telegram notifier init failed")
	}
	if notifier != nil {
		deps.Notifier = notifier
	}

	var statusCache *cache.StatusCache
	if cfg.RedisConfig.Enabled {
		statusCache, err = cache.NewStatusCache(cfg.RedisConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis cache init failed")
		}
		defer statusCache.Close()
		deps.Statuses = statusCache
	}

	eng := engine.New(cfg.TradingConfig, cfg.RiskConfig, deps, logger)
	if err := eng.Start(rootCtx); err != nil {
		logger.Fatal().Err(err).Msg("engine start failed")
	}

	// HTTP control surface
	authService := auth.NewService(cfg.AuthConfig)
	server := api.NewServer(rootCtx, eng, modeOrch, repo, statusCache, authService,
		cfg.ServerConfig, cfg.PaperConfig.StartingBalanceZAR, logger)
	go func() {
		if err := server.Run(); err != nil {
			logger.Error().Err(err).Msg("API server failed")
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API server shutdown failed")
	}
	eng.Stop()
	if accountStream != nil {
		accountStream.Close()
	}
	logger.Info().Msg("aether stopped")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.JSONFormat {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
