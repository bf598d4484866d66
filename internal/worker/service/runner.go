package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	batchdomain "github.com/lotefact/lotefact/internal/batch/domain"
	"github.com/lotefact/lotefact/internal/clock"
	"github.com/lotefact/lotefact/internal/config"
	"github.com/lotefact/lotefact/internal/providers/email"
	workerdomain "github.com/lotefact/lotefact/internal/worker/domain"
)

type RunnerParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Config     config.Config
	Authorizer batchdomain.Authorizer
	Mailer     *email.ReceiptMailer
}

// Runner claims queued tasks and executes them. Claims use a skip-locked
// select so several workers can poll the same table without double
// execution.
type Runner struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	cfg        config.WorkerConfig
	authorizer batchdomain.Authorizer
	mailer     *email.ReceiptMailer
}

func NewRunner(p RunnerParam) *Runner {
	return &Runner{
		db:         p.DB,
		log:        p.Log.Named("worker.runner"),
		clock:      p.Clock,
		cfg:        p.Config.Worker,
		authorizer: p.Authorizer,
		mailer:     p.Mailer,
	}
}

// RunForever polls for work until ctx is done. Each concurrency slot
// drains the queue independently.
func (r *Runner) RunForever(ctx context.Context) {
	workers := r.cfg.Concurrency
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(ctx)
		}()
	}

	r.recoveryLoop(ctx)
	wg.Wait()
}

func (r *Runner) loop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything claimable before sleeping again.
		for {
			task, err := r.claim(ctx)
			if err != nil {
				r.log.Warn("task claim failed", zap.Error(err))
				break
			}
			if task == nil {
				break
			}
			r.execute(ctx, task)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// claim atomically takes one queued task. Returns nil when the queue is
// empty.
func (r *Runner) claim(ctx context.Context) (*workerdomain.Task, error) {
	var claimed *workerdomain.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sql := `SELECT * FROM tasks WHERE status = ? ORDER BY id LIMIT 1`
		if tx.Dialector.Name() != "sqlite" {
			sql += ` FOR UPDATE SKIP LOCKED`
		}
		var tasks []workerdomain.Task
		if err := tx.Raw(sql, workerdomain.TaskQueued).Scan(&tasks).Error; err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		task := tasks[0]

		now := r.clock.Now()
		if err := tx.Model(&workerdomain.Task{}).Where("id = ?", task.ID).
			Updates(map[string]any{
				"status":     workerdomain.TaskRunning,
				"attempts":   gorm.Expr("attempts + 1"),
				"started_at": now,
			}).Error; err != nil {
			return err
		}
		task.Status = workerdomain.TaskRunning
		task.StartedAt = &now
		claimed = &task
		return nil
	})
	return claimed, err
}

func (r *Runner) execute(ctx context.Context, task *workerdomain.Task) {
	log := r.log.With(zap.Int64("task_id", int64(task.ID)), zap.String("kind", string(task.Kind)))
	log.Info("task started")

	var result any
	var err error
	switch task.Kind {
	case workerdomain.TaskBatchAuthorize:
		result, err = r.runBatchAuthorize(ctx, task)
	case workerdomain.TaskInvoiceEmail:
		err = r.runInvoiceEmail(ctx, task)
	default:
		err = fmt.Errorf("unknown task kind %q", task.Kind)
	}

	if err != nil {
		log.Error("task failed", zap.Error(err))
		r.finish(ctx, task, workerdomain.TaskFailed, nil, err.Error())
		return
	}
	log.Info("task succeeded")
	r.finish(ctx, task, workerdomain.TaskSucceeded, result, "")
}

func (r *Runner) runBatchAuthorize(ctx context.Context, task *workerdomain.Task) (any, error) {
	var payload workerdomain.BatchAuthorizePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	report := func(p batchdomain.Progress) {
		if err := r.db.WithContext(ctx).Model(&workerdomain.Task{}).
			Where("id = ?", task.ID).
			Updates(map[string]any{
				"progress_current": p.Current,
				"progress_total":   p.Total,
			}).Error; err != nil {
			r.log.Warn("task progress update failed", zap.Int64("task_id", int64(task.ID)), zap.Error(err))
		}
	}
	return r.authorizer.Run(ctx, payload.BatchID, report)
}

func (r *Runner) runInvoiceEmail(ctx context.Context, task *workerdomain.Task) error {
	var payload workerdomain.InvoiceEmailPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return r.mailer.SendReceipt(ctx, payload.InvoiceID)
}

func (r *Runner) finish(ctx context.Context, task *workerdomain.Task, status workerdomain.TaskStatus, result any, errMsg string) {
	updates := map[string]any{
		"status":      status,
		"finished_at": r.clock.Now(),
		"error":       errMsg,
	}
	if result != nil {
		if raw, err := json.Marshal(result); err == nil {
			updates["result"] = datatypes.JSON(raw)
		}
	}
	if err := r.db.WithContext(ctx).Model(&workerdomain.Task{}).
		Where("id = ?", task.ID).Updates(updates).Error; err != nil {
		r.log.Error("task finish update failed", zap.Int64("task_id", int64(task.ID)), zap.Error(err))
	}
}
