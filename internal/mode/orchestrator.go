package mode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"aether-trading-bot/internal/database"
)

// Store is the persistence surface over the mode singleton
type Store interface {
	GetModeState(ctx context.Context) (*database.ModeState, error)
	SetModeState(ctx context.Context, fromMode, toMode, changedBy, reason string) error
	GetModeHistory(ctx context.Context, limit int) ([]*database.ModeChange, error)
}

// Orchestrator owns trading mode transitions. The mode lives in the
// database, not the process, so every reader sees the same truth and
// restarts change nothing.
type Orchestrator struct {
	store  Store
	logger zerolog.Logger
}

// NewOrchestrator creates the mode orchestrator
func NewOrchestrator(store Store, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:  store,
		logger: logger.With().Str("component", "mode_orchestrator").Logger(),
	}
}

// GetCurrentMode reads the active mode, seeding PAPER when the singleton
// is missing
func (o *Orchestrator) GetCurrentMode(ctx context.Context) (string, error) {
	state, err := o.store.GetModeState(ctx)
	if err != nil {
		return "", err
	}
	return state.CurrentMode, nil
}

// GetState reads the full mode singleton
func (o *Orchestrator) GetState(ctx context.Context) (*database.ModeState, error) {
	return o.store.GetModeState(ctx)
}

// SetMode transitions the trading mode. LIVE requires an explicit
// confirmation flag. Setting the mode it already holds is a no-op and
// writes no history row.
func (o *Orchestrator) SetMode(ctx context.Context, newMode string, confirmed bool, changedBy, reason string) (*database.ModeState, error) {
	if newMode != database.ModePaper && newMode != database.ModeLive {
		return nil, fmt.Errorf("invalid trading mode %q", newMode)
	}
	if newMode == database.ModeLive && !confirmed {
		return nil, fmt.Errorf("switching to LIVE requires explicit confirmation")
	}

	state, err := o.store.GetModeState(ctx)
	if err != nil {
		return nil, err
	}

	if state.CurrentMode == newMode {
		o.logger.Warn().
			Str("mode", newMode).
			Str("changed_by", changedBy).
			Msg("mode unchanged, no transition recorded")
		return state, nil
	}

	if err := o.store.SetModeState(ctx, state.CurrentMode, newMode, changedBy, reason); err != nil {
		return nil, err
	}

	o.logger.Warn().
		Str("from", state.CurrentMode).
		Str("to", newMode).
		Str("changed_by", changedBy).
		Str("reason", reason).
		Msg("trading mode changed")

	return o.store.GetModeState(ctx)
}

// GetHistory returns recent mode transitions, newest first
func (o *Orchestrator) GetHistory(ctx context.Context, limit int) ([]*database.ModeChange, error) {
	return o.store.GetModeHistory(ctx, limit)
}
