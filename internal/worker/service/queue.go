package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	workerdomain "github.com/lotefact/lotefact/internal/worker/domain"
)

var ErrTaskNotFound = errors.New("task_not_found")

type QueueParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

// Queue is the durable task queue backed by the tasks table.
type Queue struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewQueue(p QueueParam) workerdomain.Queue {
	return &Queue{
		db:    p.DB,
		log:   p.Log.Named("worker.queue"),
		genID: p.GenID,
	}
}

func (q *Queue) Enqueue(ctx context.Context, kind workerdomain.TaskKind, payload any) (workerdomain.Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return workerdomain.Task{}, fmt.Errorf("queue: encode payload: %w", err)
	}
	task := workerdomain.Task{
		ID:      q.genID.Generate(),
		Kind:    kind,
		Payload: datatypes.JSON(raw),
		Status:  workerdomain.TaskQueued,
	}
	if err := q.db.WithContext(ctx).Create(&task).Error; err != nil {
		return workerdomain.Task{}, err
	}
	q.log.Info("task enqueued", zap.String("kind", string(kind)), zap.Int64("task_id", int64(task.ID)))
	return task, nil
}

func (q *Queue) Get(ctx context.Context, id snowflake.ID) (workerdomain.Task, error) {
	var task workerdomain.Task
	err := q.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return workerdomain.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return workerdomain.Task{}, err
	}
	return task, nil
}
