package database

import (
	"context"
	"fmt"
	"time"
)

// InsertPosition writes a new OPEN position and fills in its ID
func (r *Repository) InsertPosition(ctx context.Context, p *Position) error {
	query := `
		INSERT INTO positions
			(pair, side, entry_price, entry_time, quantity, position_value_zar, leverage,
			 stop_loss_price, take_profit_price, status, strategic_reasoning, order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`
	return r.db.Pool.QueryRow(ctx, query,
		p.Pair, p.Side, p.EntryPrice, p.EntryTime, p.Quantity, p.PositionValueZAR, p.Leverage,
		p.StopLossPrice, p.TakeProfitPrice, p.Status, p.StrategicReasoning, p.OrderID,
	).Scan(&p.ID)
}

// ClosePosition records the exit of a position. The status is set to the
// close reason so the lifecycle terminal state reads directly off the row.
func (r *Repository) ClosePosition(ctx context.Context, id int64, exitPrice float64, exitTime time.Time, pnlPct, pnlZAR float64, closeReason string) error {
	query := `
		UPDATE positions
		SET exit_price = $2, exit_time = $3, pnl_pct = $4, pnl_zar = $5,
		    status = $6, close_reason = $6
		WHERE id = $1 AND status = 'OPEN'
	`
	tag, err := r.db.Pool.Exec(ctx, query, id, exitPrice, exitTime, pnlPct, pnlZAR, closeReason)
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %d is not open", id)
	}
	return nil
}

// GetPosition fetches a position by id
func (r *Repository) GetPosition(ctx context.Context, id int64) (*Position, error) {
	query := positionSelect + ` WHERE id = $1`
	row := r.db.Pool.QueryRow(ctx, query, id)
	return scanPosition(row)
}

// GetOpenPositions returns all OPEN positions, oldest entry first
func (r *Repository) GetOpenPositions(ctx context.Context) ([]*Position, error) {
	query := positionSelect + ` WHERE status = 'OPEN' ORDER BY entry_time ASC`
	return r.queryPositions(ctx, query)
}

// GetClosedPositions returns closed positions, most recent exit first
func (r *Repository) GetClosedPositions(ctx context.Context, limit int) ([]*Position, error) {
	query := positionSelect + ` WHERE status <> 'OPEN' ORDER BY exit_time DESC LIMIT $1`
	return r.queryPositions(ctx, query, limit)
}

// CountPositionsOpenedSince counts positions whose entry_time is at or
// after the cutoff. Used by the daily-trade-count safety gate.
func (r *Repository) CountPositionsOpenedSince(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE entry_time >= $1`, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count positions: %w", err)
	}
	return count, nil
}

// GetOpenExposureForPair sums the open position value for one pair
func (r *Repository) GetOpenExposureForPair(ctx context.Context, pair string) (float64, error) {
	var exposure float64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(position_value_zar), 0) FROM positions WHERE status = 'OPEN' AND pair = $1`,
		pair).Scan(&exposure)
	if err != nil {
		return 0, fmt.Errorf("sum pair exposure: %w", err)
	}
	return exposure, nil
}

// SumRealizedPnLSince totals realized P&L of positions closed at or after
// the cutoff. Used by the daily-loss portfolio check.
func (r *Repository) SumRealizedPnLSince(ctx context.Context, cutoff time.Time) (float64, error) {
	var pnl float64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(pnl_zar), 0) FROM positions WHERE exit_time >= $1`, cutoff).Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("sum realized pnl: %w", err)
	}
	return pnl, nil
}

const positionSelect = `
	SELECT id, pair, side, entry_price, entry_time, quantity, position_value_zar, leverage,
	       stop_loss_price, take_profit_price, exit_price, exit_time, pnl_pct, pnl_zar,
	       status, close_reason, strategic_reasoning, order_id
	FROM positions`

type positionRow interface {
	Scan(dest ...any) error
}

func scanPosition(row positionRow) (*Position, error) {
	p := &Position{}
	err := row.Scan(&p.ID, &p.Pair, &p.Side, &p.EntryPrice, &p.EntryTime,
		&p.Quantity, &p.PositionValueZAR, &p.Leverage, &p.StopLossPrice, &p.TakeProfitPrice,
		&p.ExitPrice, &p.ExitTime, &p.PnLPct, &p.PnLZAR,
		&p.Status, &p.CloseReason, &p.StrategicReasoning, &p.OrderID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Repository) queryPositions(ctx context.Context, query string, args ...any) ([]*Position, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
