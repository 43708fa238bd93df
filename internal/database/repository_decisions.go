package database

import (
	"context"
	"fmt"
	"time"
)

// InsertDecision writes a new risk decision row and fills in its ID and
// CreatedAt. Every candidate trade gets exactly one row before execution.
func (r *Repository) InsertDecision(ctx context.Context, d *RiskDecision) error {
	query := `
		INSERT INTO aether_risk_decisions
			(pair, signal, ml_confidence, position_size_zar, leverage, stop_loss_pct, take_profit_pct,
			 max_loss_zar, expected_gain_zar, executed, rejected_by, rejection_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		d.Pair, d.Signal, d.MLConfidence, d.PositionSizeZAR, d.Leverage,
		d.StopLossPct, d.TakeProfitPct, d.MaxLossZAR, d.ExpectedGainZAR,
		d.Executed, d.RejectedBy, d.RejectionReason,
	).Scan(&d.ID, &d.CreatedAt)
}

// UpdateDecisionParams rewrites the trade parameters on a pending decision.
// Used when the strategic gate modifies sizing.
func (r *Repository) UpdateDecisionParams(ctx context.Context, id int64, sizeZAR, leverage, slPct, tpPct, maxLossZAR, expectedGainZAR float64) error {
	query := `
		UPDATE aether_risk_decisions
		SET position_size_zar = $2, leverage = $3, stop_loss_pct = $4, take_profit_pct = $5,
		    max_loss_zar = $6, expected_gain_zar = $7
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, id, sizeZAR, leverage, slPct, tpPct, maxLossZAR, expectedGainZAR)
	if err != nil {
		return fmt.Errorf("update decision params: %w", err)
	}
	return nil
}

// MarkDecisionRejected records a terminal rejection on a decision row.
// llmReasoning may be empty for non-LLM tiers.
func (r *Repository) MarkDecisionRejected(ctx context.Context, id int64, rejectedBy, reason, llmReasoning string) error {
	query := `
		UPDATE aether_risk_decisions
		SET rejected_by = $2, rejection_reason = $3,
		    llm_rejection_reasoning = NULLIF($4, '')
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, id, rejectedBy, reason, llmReasoning)
	if err != nil {
		return fmt.Errorf("mark decision rejected: %w", err)
	}
	return nil
}

// MarkDecisionExecuted records successful execution, linking the position
func (r *Repository) MarkDecisionExecuted(ctx context.Context, id, positionID int64) error {
	query := `
		UPDATE aether_risk_decisions
		SET executed = TRUE, execution_id = $2
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, id, positionID)
	if err != nil {
		return fmt.Errorf("mark decision executed: %w", err)
	}
	return nil
}

// GetPendingDecisions returns decisions that are neither executed nor
// rejected, created within the window ending now. Oldest first.
func (r *Repository) GetPendingDecisions(ctx context.Context, window time.Duration, limit int) ([]*RiskDecision, error) {
	query := `
		SELECT id, pair, signal, ml_confidence, position_size_zar, leverage, stop_loss_pct, take_profit_pct,
		       max_loss_zar, expected_gain_zar, executed, execution_id, rejected_by, rejection_reason,
		       llm_rejection_reasoning, created_at
		FROM aether_risk_decisions
		WHERE executed = FALSE AND rejected_by IS NULL AND created_at > $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, time.Now().UTC().Add(-window), limit)
	if err != nil {
		return nil, fmt.Errorf("query pending decisions: %w", err)
	}
	defer rows.Close()

	return scanDecisions(rows)
}

// GetRecentDecisions returns the latest decision rows, newest first
func (r *Repository) GetRecentDecisions(ctx context.Context, limit int) ([]*RiskDecision, error) {
	query := `
		SELECT id, pair, signal, ml_confidence, position_size_zar, leverage, stop_loss_pct, take_profit_pct,
		       max_loss_zar, expected_gain_zar, executed, execution_id, rejected_by, rejection_reason,
		       llm_rejection_reasoning, created_at
		FROM aether_risk_decisions
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent decisions: %w", err)
	}
	defer rows.Close()

	return scanDecisions(rows)
}

type decisionRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanDecisions(rows decisionRows) ([]*RiskDecision, error) {
	var decisions []*RiskDecision
	for rows.Next() {
		d := &RiskDecision{}
		if err := rows.Scan(&d.ID, &d.Pair, &d.Signal, &d.MLConfidence,
			&d.PositionSizeZAR, &d.Leverage, &d.StopLossPct, &d.TakeProfitPct,
			&d.MaxLossZAR, &d.ExpectedGainZAR, &d.Executed, &d.ExecutionID,
			&d.RejectedBy, &d.RejectionReason, &d.LLMRejectionReasoning, &d.CreatedAt); err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}
