// ABOUTME: SQLite persistence for per-task provider usage
// ABOUTME: Stores token counts and cost so totals survive restarts

package store

import (
	"context"
	"fmt"
	"time"
)

// SaveUsage stores one task's provider consumption.
func (s *SQLiteStore) SaveUsage(ctx context.Context, usage *UsageRecord) error {
	query := `
		INSERT INTO task_usage (id, task_id, model, input_tokens, output_tokens, cost_usd, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		usage.ID,
		usage.TaskID,
		nullString(usage.Model),
		usage.InputTokens,
		usage.OutputTokens,
		usage.CostUSD,
		usage.DurationSeconds,
		usage.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("saved task usage",
		"task_id", usage.TaskID,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"cost_usd", usage.CostUSD,
	)
	return nil
}

// UsageTotals aggregates all stored usage records.
func (s *SQLiteStore) UsageTotals(ctx context.Context) (*UsageTotals, error) {
	query := `
		SELECT
			COUNT(*) as task_count,
			COALESCE(SUM(input_tokens), 0) as total_input,
			COALESCE(SUM(output_tokens), 0) as total_output,
			COALESCE(SUM(cost_usd), 0) as total_cost,
			COALESCE(SUM(duration_seconds), 0) as total_duration
		FROM task_usage
	`

	var totals UsageTotals
	err := s.db.QueryRowContext(ctx, query).Scan(
		&totals.TaskCount,
		&totals.TotalInputTokens,
		&totals.TotalOutputTokens,
		&totals.TotalCostUSD,
		&totals.TotalDurationSeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage totals: %w", err)
	}

	return &totals, nil
}
