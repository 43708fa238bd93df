package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"aether-trading-bot/config"
	"aether-trading-bot/internal/auth"
	"aether-trading-bot/internal/cache"
	"aether-trading-bot/internal/database"
	"aether-trading-bot/internal/engine"
	"aether-trading-bot/internal/mode"
)

// EngineControl is the engine surface the API drives
type EngineControl interface {
	Start(ctx context.Context) error
	Stop()
	Status(ctx context.Context) *engine.Status
	SetAutoTrading(enabled bool)
	EmergencyStop(ctx context.Context, reason string)
	ClearEmergencyStop()
}

// HistoryStore serves the read-only history endpoints
type HistoryStore interface {
	GetClosedPositions(ctx context.Context, limit int) ([]*database.Position, error)
	GetRecentDecisions(ctx context.Context, limit int) ([]*database.RiskDecision, error)
	GetOpenPositions(ctx context.Context) ([]*database.Position, error)
	GetPortfolioState(ctx context.Context, startingValueZAR float64) (*database.PortfolioState, error)
}

// Server is the HTTP control surface
type Server struct {
	engine   EngineControl
	modes    *mode.Orchestrator
	store    HistoryStore
	statuses *cache.StatusCache // may be nil
	auth     *auth.Service
	cfg      config.ServerConfig

	// engineCtx outlives individual requests; the engine started from a
	// handler must not die with that handler's request context
	engineCtx        context.Context
	startingValueZAR float64

	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer builds the router and wires all endpoints. engineCtx is the
// process-lifetime context handed to engine.Start.
func NewServer(engineCtx context.Context, eng EngineControl, modes *mode.Orchestrator, store HistoryStore, statuses *cache.StatusCache, authService *auth.Service, cfg config.ServerConfig, startingValueZAR float64, logger zerolog.Logger) *Server {
	s := &Server{
		engine:           eng,
		modes:            modes,
		store:            store,
		statuses:         statuses,
		auth:             authService,
		cfg:              cfg,
		engineCtx:        engineCtx,
		startingValueZAR: startingValueZAR,
		logger:           logger.With().Str("component", "api").Logger(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "*" || cfg.AllowedOrigins == "" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	router.GET("/health", s.handleHealth)
	router.POST("/auth/login", s.handleLogin)

	protected := router.Group("/", auth.Middleware(authService))
	{
		protected.POST("/engine/start", s.handleEngineStart)
		protected.POST("/engine/stop", s.handleEngineStop)
		protected.GET("/engine/status", s.handleEngineStatus)
		protected.POST("/engine/auto-trading/:action", s.handleAutoTrading)
		protected.POST("/engine/emergency-stop", s.handleEmergencyStop)
		protected.POST("/engine/emergency-stop/clear", s.handleEmergencyClear)

		protected.GET("/mode/current", s.handleModeCurrent)
		protected.POST("/mode/set", s.handleModeSet)
		protected.GET("/mode/history", s.handleModeHistory)

		protected.GET("/trades/recent", s.handleRecentTrades)
		protected.GET("/trades/open", s.handleOpenTrades)
		protected.GET("/decisions/recent", s.handleRecentDecisions)
		protected.GET("/portfolio", s.handlePortfolio)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the listener fails or Shutdown is called
func (s *Server) Run() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
