package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// WebSocket reconnect policy
const (
	wsBackoffMax        = 60 * time.Second
	wsMaxAttempts       = 10
	dbRetryAttempts     = 5
	dbRetryInterval     = 5 * time.Second
	tierFailureCritical = 3
)

// Reconnectable is a stream the recovery manager can re-establish
type Reconnectable interface {
	Connect() error
	IsConnected() bool
}

// WSRecovery reconnects a dropped stream with exponential backoff,
// 2^(n-1) seconds capped at 60s for up to wsMaxAttempts tries. Final
// failure escalates to the emergency-stop callback.
type WSRecovery struct {
	stream      Reconnectable
	name        string
	onRecovered func()
	onExhausted func()
	logger      zerolog.Logger
}

// NewWSRecovery creates a recovery manager for one stream
func NewWSRecovery(stream Reconnectable, name string, onRecovered, onExhausted func(), logger zerolog.Logger) *WSRecovery {
	return &WSRecovery{
		stream:      stream,
		name:        name,
		onRecovered: onRecovered,
		onExhausted: onExhausted,
		logger:      logger.With().Str("component", "ws_recovery").Str("stream", name).Logger(),
	}
}

// Recover attempts reconnection until success, exhaustion, or context
// cancellation. Safe to call from the health monitor or a disconnect
// callback; returns true on success.
func (r *WSRecovery) Recover(ctx context.Context) bool {
	for attempt := 1; attempt <= wsMaxAttempts; attempt++ {
		if err := r.stream.Connect(); err == nil {
			r.logger.Info().Int("attempt", attempt).Msg("stream reconnected")
			if r.onRecovered != nil {
				r.onRecovered()
			}
			return true
		} else {
			r.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
		}

		delay := time.Duration(1<<(attempt-1)) * time.Second
		if delay > wsBackoffMax {
			delay = wsBackoffMax
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}

	r.logger.Error().Int("attempts", wsMaxAttempts).Msg("reconnect attempts exhausted")
	if r.onExhausted != nil {
		r.onExhausted()
	}
	return false
}

// RetryDB runs a database operation up to 5 times at 5-second intervals
func RetryDB(ctx context.Context, logger zerolog.Logger, op func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= dbRetryAttempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("database operation failed")

		if attempt == dbRetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dbRetryInterval):
		}
	}
	return err
}

// TierRecovery tracks per-component health. Components register a
// reinitializer; repeated failures log critically for operator
// attention.
type TierRecovery struct {
	failures map[string]int
	reinit   map[string]func() error
	logger   zerolog.Logger
}

// NewTierRecovery creates the tier recovery tracker
func NewTierRecovery(logger zerolog.Logger) *TierRecovery {
	return &TierRecovery{
		failures: make(map[string]int),
		reinit:   make(map[string]func() error),
		logger:   logger.With().Str("component", "tier_recovery").Logger(),
	}
}

// Register adds a component and its reinitializer
func (t *TierRecovery) Register(name string, reinit func() error) {
	t.reinit[name] = reinit
}

// RecordFailure notes a component failure and attempts reinitialization.
// At 3 or more consecutive failures it logs critically.
func (t *TierRecovery) RecordFailure(name string, cause error) {
	t.failures[name]++
	n := t.failures[name]

	logEvent := t.logger.Warn()
	if n >= tierFailureCritical {
		logEvent = t.logger.Error()
	}
	logEvent.Err(cause).Str("tier", name).Int("consecutive_failures", n).Msg("tier failure")

	if reinit, ok := t.reinit[name]; ok {
		if err := reinit(); err != nil {
			t.logger.Error().Err(err).Str("tier", name).Msg("reinitialize failed")
			return
		}
		t.logger.Info().Str("tier", name).Msg("tier reinitialized")
	}
}

// RecordSuccess clears a component's failure count
func (t *TierRecovery) RecordSuccess(name string) {
	t.failures[name] = 0
}

// Failures reports the consecutive failure count for a component
func (t *TierRecovery) Failures(name string) int {
	return t.failures[name]
}
