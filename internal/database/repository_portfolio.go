package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// GetPortfolioState reads the singleton portfolio row, creating it with the
// given starting value when missing.
func (r *Repository) GetPortfolioState(ctx context.Context, startingValueZAR float64) (*PortfolioState, error) {
	query := `
		SELECT total_value_zar, peak_value_zar, current_drawdown_pct, max_drawdown_pct, last_updated
		FROM portfolio_state WHERE id = 1
	`
	ps := &PortfolioState{}
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&ps.TotalValueZAR, &ps.PeakValueZAR, &ps.CurrentDrawdownPct, &ps.MaxDrawdownPct, &ps.LastUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		insert := `
			INSERT INTO portfolio_state (id, total_value_zar, peak_value_zar, current_drawdown_pct, max_drawdown_pct, last_updated)
			VALUES (1, $1, $1, 0, 0, $2)
			ON CONFLICT (id) DO NOTHING
		`
		now := time.Now().UTC()
		if _, err := r.db.Pool.Exec(ctx, insert, startingValueZAR, now); err != nil {
			return nil, fmt.Errorf("seed portfolio state: %w", err)
		}
		return r.GetPortfolioState(ctx, startingValueZAR)
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio state: %w", err)
	}
	return ps, nil
}

// ApplyRealizedPnL adjusts the portfolio singleton by a realized P&L amount
// in one atomic UPDATE. Peak and max drawdown are monotone, so concurrent
// closes compose safely. Returns the post-update state.
func (r *Repository) ApplyRealizedPnL(ctx context.Context, pnlZAR float64) (*PortfolioState, error) {
	query := `
		UPDATE portfolio_state
		SET total_value_zar = total_value_zar + $1,
		    peak_value_zar = GREATEST(peak_value_zar, total_value_zar + $1),
		    current_drawdown_pct = CASE
		        WHEN GREATEST(peak_value_zar, total_value_zar + $1) <= 0 THEN 0
		        ELSE (GREATEST(peak_value_zar, total_value_zar + $1) - (total_value_zar + $1))
		             / GREATEST(peak_value_zar, total_value_zar + $1) * 100
		    END,
		    max_drawdown_pct = GREATEST(max_drawdown_pct, CASE
		        WHEN GREATEST(peak_value_zar, total_value_zar + $1) <= 0 THEN 0
		        ELSE (GREATEST(peak_value_zar, total_value_zar + $1) - (total_value_zar + $1))
		             / GREATEST(peak_value_zar, total_value_zar + $1) * 100
		    END),
		    last_updated = $2
		WHERE id = 1
		RETURNING total_value_zar, peak_value_zar, current_drawdown_pct, max_drawdown_pct, last_updated
	`
	ps := &PortfolioState{}
	err := r.db.Pool.QueryRow(ctx, query, pnlZAR, time.Now().UTC()).Scan(
		&ps.TotalValueZAR, &ps.PeakValueZAR, &ps.CurrentDrawdownPct, &ps.MaxDrawdownPct, &ps.LastUpdated,
	)
	if err != nil {
		return nil, fmt.Errorf("apply realized pnl: %w", err)
	}

	// Snapshot for the volatility-scaled risk capacity calculation.
	if _, err := r.db.Pool.Exec(ctx,
		`INSERT INTO portfolio_value_history (total_value_zar, recorded_at) VALUES ($1, $2)`,
		ps.TotalValueZAR, ps.LastUpdated); err != nil {
		return nil, fmt.Errorf("record portfolio snapshot: %w", err)
	}

	return ps, nil
}

// GetPortfolioValueHistory returns value snapshots recorded within the last
// given number of days, chronological.
func (r *Repository) GetPortfolioValueHistory(ctx context.Context, days int) ([]float64, error) {
	query := `
		SELECT total_value_zar
		FROM portfolio_value_history
		WHERE recorded_at >= $1
		ORDER BY recorded_at ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, time.Now().UTC().AddDate(0, 0, -days))
	if err != nil {
		return nil, fmt.Errorf("query portfolio history: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
