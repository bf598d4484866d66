package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	batchdomain "github.com/lotefact/lotefact/internal/batch/domain"
	workerdomain "github.com/lotefact/lotefact/internal/worker/domain"
)

// recoveryLoop sweeps for batches stuck in processing whose task is no
// longer active, returning them to pending so a fresh run picks them up.
// Their invoices keep whatever pending/error state they reached.
func (r *Runner) recoveryLoop(ctx context.Context) {
	interval := r.cfg.RecoveryThreshold
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := r.recoverStuckBatches(ctx); err != nil {
			r.log.Warn("stuck batch sweep failed", zap.Error(err))
		} else if n > 0 {
			r.log.Info("stuck batches recovered", zap.Int64("count", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) recoverStuckBatches(ctx context.Context) (int64, error) {
	cutoff := r.clock.Now().Add(-r.cfg.RecoveryThreshold)
	res := r.db.WithContext(ctx).Model(&batchdomain.Batch{}).
		Where("status = ? AND updated_at < ?", batchdomain.StatusProcessing, cutoff).
		Where(`NOT EXISTS (
			SELECT 1 FROM tasks
			WHERE tasks.kind = ? AND tasks.status IN (?, ?)
			  AND tasks.payload LIKE `+payloadBatchPattern(r.db.Dialector.Name())+`
		)`,
			workerdomain.TaskBatchAuthorize, workerdomain.TaskQueued, workerdomain.TaskRunning).
		Update("status", batchdomain.StatusPending)
	return res.RowsAffected, res.Error
}

// payloadBatchPattern builds the LIKE pattern matching a task payload that
// references batches.id. Snowflake IDs marshal as quoted strings. MySQL
// treats || as logical OR unless PIPES_AS_CONCAT is set, so it gets CONCAT.
func payloadBatchPattern(dialect string) string {
	if dialect == "mysql" {
		return `CONCAT('%"batch_id":"', batches.id, '"%')`
	}
	return `'%"batch_id":"' || batches.id || '"%'`
}
