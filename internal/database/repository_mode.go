package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Trading modes
const (
	ModePaper = "PAPER"
	ModeLive  = "LIVE"
)

// GetModeState reads the trading mode singleton, creating it at PAPER when
// missing. The mode must be re-read on every trade decision, never cached.
func (r *Repository) GetModeState(ctx context.Context) (*ModeState, error) {
	query := `
		SELECT current_mode, last_changed_at, COALESCE(changed_by, ''), COALESCE(reason, '')
		FROM trading_mode_state WHERE id = 1
	`
	ms := &ModeState{}
	err := r.db.Pool.QueryRow(ctx, query).Scan(&ms.CurrentMode, &ms.LastChangedAt, &ms.ChangedBy, &ms.Reason)
	if errors.Is(err, pgx.ErrNoRows) {
		insert := `
			INSERT INTO trading_mode_state (id, current_mode, last_changed_at, changed_by, reason)
			VALUES (1, $1, $2, 'system', 'initialized')
			ON CONFLICT (id) DO NOTHING
		`
		if _, err := r.db.Pool.Exec(ctx, insert, ModePaper, time.Now().UTC()); err != nil {
			return nil, fmt.Errorf("seed trading mode: %w", err)
		}
		return r.GetModeState(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("get trading mode: %w", err)
	}
	return ms, nil
}

// SetModeState updates the singleton and appends a history row
func (r *Repository) SetModeState(ctx context.Context, fromMode, toMode, changedBy, reason string) error {
	now := time.Now().UTC()

	update := `
		UPDATE trading_mode_state
		SET current_mode = $1, last_changed_at = $2, changed_by = $3, reason = $4
		WHERE id = 1
	`
	if _, err := r.db.Pool.Exec(ctx, update, toMode, now, changedBy, reason); err != nil {
		return fmt.Errorf("update trading mode: %w", err)
	}

	history := `
		INSERT INTO trading_mode_history (from_mode, to_mode, changed_at, changed_by, reason)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.Pool.Exec(ctx, history, fromMode, toMode, now, changedBy, reason); err != nil {
		return fmt.Errorf("append mode history: %w", err)
	}
	return nil
}

// GetModeHistory returns the most recent mode changes, newest first
func (r *Repository) GetModeHistory(ctx context.Context, limit int) ([]*ModeChange, error) {
	query := `
		SELECT id, from_mode, to_mode, changed_at, COALESCE(changed_by, ''), COALESCE(reason, '')
		FROM trading_mode_history
		ORDER BY changed_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query mode history: %w", err)
	}
	defer rows.Close()

	var changes []*ModeChange
	for rows.Next() {
		mc := &ModeChange{}
		if err := rows.Scan(&mc.ID, &mc.FromMode, &mc.ToMode, &mc.ChangedAt, &mc.ChangedBy, &mc.Reason); err != nil {
			return nil, err
		}
		changes = append(changes, mc)
	}
	return changes, rows.Err()
}
