package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"aether-trading-bot/internal/auth"
	"aether-trading-bot/internal/database"
	"aether-trading-bot/internal/engine"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type startRequest struct {
	TradingMode        string `json:"trading_mode"`
	AutoTradingEnabled *bool  `json:"auto_trading_enabled"`
}

type modeSetRequest struct {
	Mode      string `json:"mode" binding:"required"`
	Confirmed bool   `json:"confirmed"`
	Reason    string `json:"reason"`
}

type emergencyStopRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	token, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		s.logger.Warn().Str("username", req.Username).Msg("failed login attempt")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// handleEngineStart launches the engine loops. LIVE mode cannot be set
// here; it requires the explicit confirmation flow on /mode/set.
func (s *Server) handleEngineStart(c *gin.Context) {
	var req startRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	if strings.EqualFold(req.TradingMode, database.ModeLive) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "LIVE mode cannot be enabled on engine start, use POST /mode/set with confirmed=true",
		})
		return
	}

	if err := s.engine.Start(s.engineCtx); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if req.AutoTradingEnabled != nil {
		s.engine.SetAutoTrading(*req.AutoTradingEnabled)
	}

	s.logger.Info().Str("by", c.GetString(auth.ContextKeyUsername)).Msg("engine started via API")
	c.JSON(http.StatusOK, s.engine.Status(c.Request.Context()))
}

func (s *Server) handleEngineStop(c *gin.Context) {
	s.engine.Stop()
	s.logger.Warn().Str("by", c.GetString(auth.ContextKeyUsername)).Msg("engine stopped via API")
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// handleEngineStatus serves the cached snapshot when Redis has a fresh
// one and falls through to the live engine otherwise
func (s *Server) handleEngineStatus(c *gin.Context) {
	if s.statuses != nil {
		var cached engine.Status
		if s.statuses.ReadStatus(c.Request.Context(), &cached) {
			c.JSON(http.StatusOK, &cached)
			return
		}
	}
	c.JSON(http.StatusOK, s.engine.Status(c.Request.Context()))
}

func (s *Server) handleAutoTrading(c *gin.Context) {
	switch c.Param("action") {
	case "enable":
		s.engine.SetAutoTrading(true)
	case "disable":
		s.engine.SetAutoTrading(false)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be enable or disable"})
		return
	}
	c.JSON(http.StatusOK, s.engine.Status(c.Request.Context()))
}

func (s *Server) handleEmergencyStop(c *gin.Context) {
	var req emergencyStopRequest
	if c.Request.ContentLength > 0 {
		_ = c.ShouldBindJSON(&req)
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual trigger via API"
	}
	reason += " (by " + c.GetString(auth.ContextKeyUsername) + ")"

	s.engine.EmergencyStop(c.Request.Context(), reason)
	c.JSON(http.StatusOK, s.engine.Status(c.Request.Context()))
}

func (s *Server) handleEmergencyClear(c *gin.Context) {
	s.engine.ClearEmergencyStop()
	s.logger.Warn().Str("by", c.GetString(auth.ContextKeyUsername)).Msg("emergency stop cleared via API")
	c.JSON(http.StatusOK, s.engine.Status(c.Request.Context()))
}

func (s *Server) handleModeCurrent(c *gin.Context) {
	state, err := s.modes.GetState(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read trading mode"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleModeSet(c *gin.Context) {
	var req modeSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode is required"})
		return
	}

	changedBy := c.GetString(auth.ContextKeyUsername)
	state, err := s.modes.SetMode(c.Request.Context(), strings.ToUpper(req.Mode), req.Confirmed, changedBy, req.Reason)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleModeHistory(c *gin.Context) {
	history, err := s.modes.GetHistory(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read mode history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (s *Server) handleRecentTrades(c *gin.Context) {
	positions, err := s.store.GetClosedPositions(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": positions})
}

func (s *Server) handleOpenTrades(c *gin.Context) {
	positions, err := s.store.GetOpenPositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load open positions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) handleRecentDecisions(c *gin.Context) {
	decisions, err := s.store.GetRecentDecisions(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load decisions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

func (s *Server) handlePortfolio(c *gin.Context) {
	state, err := s.store.GetPortfolioState(c.Request.Context(), s.startingValueZAR)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load portfolio"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func queryLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		return fallback
	}
	return n
}
