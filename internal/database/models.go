package database

import "time"

// Timeframe identifiers stored in market_ohlc
const (
	Timeframe1m  = "1m"
	Timeframe5m  = "5m"
	Timeframe15m = "15m"
	Timeframe1h  = "1h"
	Timeframe4h  = "4h"
	Timeframe1d  = "1d"
)

// Signal classes
const (
	SignalBuy  = "BUY"
	SignalSell = "SELL"
	SignalHold = "HOLD"
)

// Position statuses; a closed position's status equals its close reason
const (
	PositionOpen           = "OPEN"
	PositionStopLoss       = "STOP_LOSS"
	PositionTakeProfit     = "TAKE_PROFIT"
	PositionTimeout        = "TIMEOUT"
	PositionEmergencyClose = "EMERGENCY_CLOSE"
	PositionClosed         = "CLOSED"
)

// Rejection tier tags recorded on risk decisions
const (
	RejectedByRiskSizer            = "TIER3_RISK_SIZER"
	RejectedByLLM                  = "TIER4_LLM"
	RejectedByPortfolioRisk        = "TIER5_PORTFOLIO_RISK"
	RejectedByPortfolioRiskRecheck = "TIER5_PORTFOLIO_RISK_RECHECK"
	RejectedByExecutionFailed      = "TIER5_EXECUTION_FAILED"
)

// Candle is one OHLC row, unique on (pair, timeframe, open_time)
type Candle struct {
	ID        int64     `json:"id"`
	Pair      string    `json:"pair"`
	Timeframe string    `json:"timeframe"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	NumTrades int       `json:"num_trades"`
}

// FeatureVector is the opaque blob consumed by the predictor: ordered
// values plus a parallel name sequence, keyed by (pair, computed_at).
type FeatureVector struct {
	Pair       string    `json:"pair"`
	Names      []string  `json:"names"`
	Values     []float64 `json:"values"`
	ComputedAt time.Time `json:"computed_at"`
}

// Prediction is one classifier output row
type Prediction struct {
	ID           int64     `json:"id"`
	Pair         string    `json:"pair"`
	ModelVersion string    `json:"model_version"`
	Class        string    `json:"class"`
	ProbBuy      float64   `json:"prob_buy"`
	ProbSell     float64   `json:"prob_sell"`
	ProbHold     float64   `json:"prob_hold"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
}

// RiskDecision is the per-candidate-trade audit row. It is inserted before
// execution and updated in place as the trade moves through the tiers.
type RiskDecision struct {
	ID                    int64      `json:"id"`
	Pair                  string     `json:"pair"`
	Signal                string     `json:"signal"`
	MLConfidence          float64    `json:"ml_confidence"`
	PositionSizeZAR       float64    `json:"position_size_zar"`
	Leverage              float64    `json:"leverage"`
	StopLossPct           float64    `json:"stop_loss_pct"`
	TakeProfitPct         float64    `json:"take_profit_pct"`
	MaxLossZAR            float64    `json:"max_loss_zar"`
	ExpectedGainZAR       float64    `json:"expected_gain_zar"`
	Executed              bool       `json:"executed"`
	ExecutionID           *int64     `json:"execution_id,omitempty"`
	RejectedBy            *string    `json:"rejected_by,omitempty"`
	RejectionReason       *string    `json:"rejection_reason,omitempty"`
	LLMRejectionReasoning *string    `json:"llm_rejection_reasoning,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// Position is one trade lifecycle row
type Position struct {
	ID                 int64      `json:"id"`
	Pair               string     `json:"pair"`
	Side               string     `json:"side"`
	EntryPrice         float64    `json:"entry_price"`
	EntryTime          time.Time  `json:"entry_time"`
	Quantity           float64    `json:"quantity"`
	PositionValueZAR   float64    `json:"position_value_zar"`
	Leverage           float64    `json:"leverage"`
	StopLossPrice      float64    `json:"stop_loss_price"`
	TakeProfitPrice    float64    `json:"take_profit_price"`
	ExitPrice          *float64   `json:"exit_price,omitempty"`
	ExitTime           *time.Time `json:"exit_time,omitempty"`
	PnLPct             *float64   `json:"pnl_pct,omitempty"`
	PnLZAR             *float64   `json:"pnl_zar,omitempty"`
	Status             string     `json:"status"`
	CloseReason        *string    `json:"close_reason,omitempty"`
	StrategicReasoning string     `json:"strategic_reasoning"`
	OrderID            string     `json:"order_id"`
}

// PortfolioState is the singleton accounting row
type PortfolioState struct {
	TotalValueZAR      float64   `json:"total_value_zar"`
	PeakValueZAR       float64   `json:"peak_value_zar"`
	CurrentDrawdownPct float64   `json:"current_drawdown_pct"`
	MaxDrawdownPct     float64   `json:"max_drawdown_pct"`
	LastUpdated        time.Time `json:"last_updated"`
}

// ModeState is the trading mode singleton
type ModeState struct {
	CurrentMode   string    `json:"current_mode"`
	LastChangedAt time.Time `json:"last_changed_at"`
	ChangedBy     string    `json:"changed_by"`
	Reason        string    `json:"reason"`
}

// ModeChange is one append-only history row
type ModeChange struct {
	ID        int64     `json:"id"`
	FromMode  string    `json:"from_mode"`
	ToMode    string    `json:"to_mode"`
	ChangedAt time.Time `json:"changed_at"`
	ChangedBy string    `json:"changed_by"`
	Reason    string    `json:"reason"`
}

// SimulatedOrder is a paper-client fill persisted for audit
type SimulatedOrder struct {
	ID          string    `json:"id"`
	Pair        string    `json:"pair"`
	Side        string    `json:"side"`
	Quantity    float64   `json:"quantity"`
	FillPrice   float64   `json:"fill_price"`
	MarketPrice float64   `json:"market_price"`
	SlippagePct float64   `json:"slippage_pct"`
	Fees        float64   `json:"fees"`
	LatencyMs   int       `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at"`
}
