package store

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/promptforge/internal/clock"
)

// RecoveryMetricsRepo implements recovery.MetricsRepo: a per-task counter of
// recovery attempts and successes (spec §4.3 "recovery metrics").
type RecoveryMetricsRepo struct {
	c *Client
}

func NewRecoveryMetricsRepo(c *Client) *RecoveryMetricsRepo { return &RecoveryMetricsRepo{c: c} }

// RecordAttempt increments a task's recovery attempt counter, inserting the
// row on first use.
func (r *RecoveryMetricsRepo) RecordAttempt(ctx context.Context, taskID string) error {
	_, err := r.c.db.ExecContext(ctx, `
		INSERT INTO recovery_metrics (task_id, attempt_count, success_count, last_attempt_at)
		VALUES ($1, 1, 0, $2)
		ON CONFLICT (task_id) DO UPDATE SET
			attempt_count = recovery_metrics.attempt_count + 1,
			last_attempt_at = $2`,
		taskID, clock.NowMillis())
	if err != nil {
		return fmt.Errorf("store: record recovery attempt: %w", err)
	}
	return nil
}

// RecordSuccess increments a task's recovery success counter. RecordAttempt
// is expected to have already inserted the row.
func (r *RecoveryMetricsRepo) RecordSuccess(ctx context.Context, taskID string) error {
	_, err := r.c.db.ExecContext(ctx, `
		INSERT INTO recovery_metrics (task_id, attempt_count, success_count, last_attempt_at)
		VALUES ($1, 0, 1, $2)
		ON CONFLICT (task_id) DO UPDATE SET
			success_count = recovery_metrics.success_count + 1`,
		taskID, clock.NowMillis())
	if err != nil {
		return fmt.Errorf("store: record recovery success: %w", err)
	}
	return nil
}
