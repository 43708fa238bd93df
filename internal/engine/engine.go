package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"aether-trading-bot/config"
	"aether-trading-bot/internal/ai/llm"
	"aether-trading-bot/internal/ai/ml"
	"aether-trading-bot/internal/database"
	"aether-trading-bot/internal/events"
	"aether-trading-bot/internal/execution"
	"aether-trading-bot/internal/features"
	"aether-trading-bot/internal/market"
	"aether-trading-bot/internal/position"
	"aether-trading-bot/internal/risk"
)

// Engine statuses
const (
	StatusStopped       = "STOPPED"
	StatusRunning       = "RUNNING"
	StatusEmergencyStop = "EMERGENCY_STOP"
)

// Pipeline stages tracked for observability
const (
	StageDataIngestion  = "data_ingestion"
	StagePrediction     = "neural_prediction"
	StagePositionSizing = "position_sizing"
	StageLLMDecision    = "llm_decision"
	StageRiskValidation = "risk_validation"
	StageTradeExecution = "trade_execution"
)

// Notifier delivers critical operational alerts. May be nil.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// StatusSink receives periodic engine status snapshots. May be nil.
type StatusSink interface {
	WriteStatus(ctx context.Context, status any)
	WritePrices(ctx context.Context, prices map[string]float64)
}

// ModeReader resolves the current trading mode for status reporting
type ModeReader interface {
	GetCurrentMode(ctx context.Context) (string, error)
}

// Status is the observable engine state
type Status struct {
	Status              string     `json:"status"`
	TradingMode         string     `json:"trading_mode"`
	Pairs               []string   `json:"pairs"`
	CycleCount          int64      `json:"cycle_count"`
	CurrentStage        string     `json:"current_stage"`
	LastCycleAt         *time.Time `json:"last_cycle_at,omitempty"`
	ConsecutiveErrors   int        `json:"consecutive_errors"`
	AutoTradingEnabled  bool       `json:"auto_trading_enabled"`
	EmergencyStopActive bool       `json:"emergency_stop_active"`
	QueueDepth          int        `json:"queue_depth"`
	LastHeartbeat       *time.Time `json:"last_heartbeat,omitempty"`
}

// Engine owns the event queue, the price cache and the three loops. All
// tiers are held by value and exposed pure operations; nothing below the
// engine references it back.
type Engine struct {
	cfg  config.TradingConfig
	risk config.RiskConfig

	queue      *events.Queue
	repo       *database.Repository
	priceCache *PriceCache

	poller     *market.Poller
	aggregator *market.Aggregator
	stream     *market.StreamConsumer

	engineer     *features.Engineer
	predictor    *ml.Predictor
	gate         *llm.Gate // nil when the strategic tier is disabled
	sizer        *risk.Sizer
	portfolio    *risk.PortfolioManager
	positions    *position.Manager
	router       *execution.Router
	prices       execution.PriceGetter
	modes        ModeReader
	tierRecovery *TierRecovery

	notifier Notifier
	statuses StatusSink

	mu                  sync.RWMutex
	status              string
	autoTradingEnabled  bool
	emergencyStopActive bool
	cycleCount          int64
	currentStage        string
	lastCycleAt         *time.Time
	lastHeartbeat       *time.Time
	consecutiveErrors   int

	cancel context.CancelFunc
	done   chan struct{}

	logger zerolog.Logger
}

// Deps collects the engine's collaborators
type Deps struct {
	Queue      *events.Queue
	Repo       *database.Repository
	PriceCache *PriceCache
	Poller     *market.Poller
	Aggregator *market.Aggregator
	Stream     *market.StreamConsumer
	Engineer   *features.Engineer
	Predictor  *ml.Predictor
	Gate       *llm.Gate
	Sizer      *risk.Sizer
	Portfolio  *risk.PortfolioManager
	Positions  *position.Manager
	Router     *execution.Router
	Prices     execution.PriceGetter
	Modes      ModeReader
	Notifier   Notifier
	Statuses   StatusSink
}

// New creates the engine
func New(cfg config.TradingConfig, riskCfg config.RiskConfig, deps Deps, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:                cfg,
		risk:               riskCfg,
		queue:              deps.Queue,
		repo:               deps.Repo,
		priceCache:         deps.PriceCache,
		poller:             deps.Poller,
		aggregator:         deps.Aggregator,
		stream:             deps.Stream,
		engineer:           deps.Engineer,
		predictor:          deps.Predictor,
		gate:               deps.Gate,
		sizer:              deps.Sizer,
		portfolio:          deps.Portfolio,
		positions:          deps.Positions,
		router:             deps.Router,
		prices:             deps.Prices,
		modes:              deps.Modes,
		notifier:           deps.Notifier,
		statuses:           deps.Statuses,
		tierRecovery:       NewTierRecovery(logger),
		status:             StatusStopped,
		autoTradingEnabled: cfg.AutoTradingEnabled,
		logger:             logger.With().Str("component", "engine").Logger(),
	}
}

// Start launches the loops. Returns once everything is running; Stop
// shuts down cooperatively.
func (e *Engine) Start(parent context.Context) error {
	e.mu.Lock()
	if e.status == StatusRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	ctx, cancel := context.WithCancel(parent)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.status = StatusRunning
	e.mu.Unlock()

	if err := e.stream.Connect(); err != nil {
		// the health monitor retries; a cold start without ticks still
		// has the candle poller
		e.logger.Warn().Err(err).Msg("price stream connect failed at startup")
	}
	e.stream.SetDisconnectHandler(func(err error) {
		e.logger.Warn().Err(err).Msg("price stream dropped; health monitor will reconnect")
	})

	e.poller.SetCriticalHandler(func(pair string, consecutive int, err error) {
		e.alert(ctx, fmt.Sprintf("candle poller failing for %s: %d consecutive errors, last: %v", pair, consecutive, err))
	})

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return e.eventLoop(ctx) })
	group.Go(func() error { return e.positionMonitorLoop(ctx) })
	group.Go(func() error { return e.healthMonitorLoop(ctx) })
	group.Go(func() error { return e.poller.Run(ctx) })
	group.Go(func() error { return e.aggregator.Run(ctx) })

	go func() {
		defer close(e.done)
		if err := group.Wait(); err != nil && err != context.Canceled {
			e.logger.Error().Err(err).Msg("engine loop exited with error")
		}
		e.stream.Close()
		e.mu.Lock()
		if e.status == StatusRunning {
			e.status = StatusStopped
		}
		e.mu.Unlock()
		e.logger.Info().Msg("engine stopped")
	}()

	e.logger.Info().Strs("pairs", e.cfg.Pairs).Msg("engine started")
	return nil
}

// Stop requests cooperative shutdown and waits for the loops to finish.
// In-flight order I/O completes before the loops observe cancellation.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// eventLoop consumes the queue one event at a time. A cycle error
// increments the consecutive error count; reaching the limit triggers
// emergency stop.
func (e *Engine) eventLoop(ctx context.Context) error {
	e.logger.Info().Msg("event loop started")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		event, ok := e.queue.Recv(time.Second)
		if !ok {
			continue
		}

		if err := e.handleEvent(ctx, event); err != nil {
			e.mu.Lock()
			e.consecutiveErrors++
			n := e.consecutiveErrors
			e.mu.Unlock()

			e.logger.Error().Err(err).
				Str("event", string(event.Type)).
				Str("pair", event.Pair).
				Int("consecutive_errors", n).
				Msg("event handling failed")

			if n >= e.cfg.MaxConsecutiveErrors {
				e.EmergencyStop(ctx, fmt.Sprintf("%d consecutive event loop errors", n))
			}
			continue
		}

		e.mu.Lock()
		e.consecutiveErrors = 0
		e.mu.Unlock()
	}
}

func (e *Engine) handleEvent(ctx context.Context, event events.Event) error {
	switch event.Type {
	case events.EventNewCandle:
		return e.runCycle(ctx, event)
	case events.EventPriceUpdate:
		e.priceCache.Set(event.Pair, event.Price, event.Timestamp)
		return nil
	case events.EventOrderbookUpdate:
		// reserved
		return nil
	case events.EventAlert:
		e.logger.Warn().Str("pair", event.Pair).Msg(event.Message)
		return nil
	default:
		e.logger.Debug().Str("type", string(event.Type)).Msg("unknown event type")
		return nil
	}
}

// EmergencyStop halts trading and force-closes every open position.
// The flag stays set until an operator clears it.
func (e *Engine) EmergencyStop(ctx context.Context, reason string) {
	e.mu.Lock()
	if e.emergencyStopActive {
		e.mu.Unlock()
		return
	}
	e.emergencyStopActive = true
	e.autoTradingEnabled = false
	e.status = StatusEmergencyStop
	e.mu.Unlock()

	e.logger.Error().Str("reason", reason).Msg("EMERGENCY STOP")
	e.alert(ctx, "EMERGENCY STOP: "+reason)

	closed := e.positions.CloseAll(ctx, database.PositionEmergencyClose)
	e.logger.Error().Int("positions_closed", closed).Msg("emergency close sweep complete")
}

// ClearEmergencyStop re-arms the engine after operator review. Auto
// trading stays off until explicitly re-enabled.
func (e *Engine) ClearEmergencyStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.emergencyStopActive {
		return
	}
	e.emergencyStopActive = false
	if e.status == StatusEmergencyStop {
		e.status = StatusRunning
	}
	e.logger.Warn().Msg("emergency stop cleared by operator")
}

// SetAutoTrading toggles the trading gate. Feature computation continues
// either way.
func (e *Engine) SetAutoTrading(enabled bool) {
	e.mu.Lock()
	e.autoTradingEnabled = enabled
	e.mu.Unlock()
	e.logger.Warn().Bool("enabled", enabled).Msg("auto trading toggled")
}

// Status reports the observable engine state. Trading mode is read from
// the database on every call.
func (e *Engine) Status(ctx context.Context) *Status {
	mode, err := e.modes.GetCurrentMode(ctx)
	if err != nil {
		mode = "UNKNOWN"
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return &Status{
		Status:              e.status,
		TradingMode:         mode,
		Pairs:               e.cfg.Pairs,
		CycleCount:          e.cycleCount,
		CurrentStage:        e.currentStage,
		LastCycleAt:         e.lastCycleAt,
		ConsecutiveErrors:   e.consecutiveErrors,
		AutoTradingEnabled:  e.autoTradingEnabled,
		EmergencyStopActive: e.emergencyStopActive,
		QueueDepth:          e.queue.Len(),
		LastHeartbeat:       e.lastHeartbeat,
	}
}

func (e *Engine) tradingAllowed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.autoTradingEnabled && !e.emergencyStopActive
}

func (e *Engine) setStage(stage string) {
	e.mu.Lock()
	e.currentStage = stage
	e.mu.Unlock()
}

func (e *Engine) alert(ctx context.Context, message string) {
	if e.notifier != nil {
		e.notifier.Notify(ctx, message)
	}
}
