// Package domain contains the durable task queue models.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TaskKind names the work a task carries.
type TaskKind string

const (
	TaskBatchAuthorize TaskKind = "batch.authorize"
	TaskInvoiceEmail   TaskKind = "invoice.email"
)

// TaskStatus represents queue lifecycle states.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// Task is one unit of queued work. Workers claim queued rows with a
// skip-locked select so concurrent workers never double-claim.
type Task struct {
	ID   snowflake.ID `gorm:"primaryKey"`
	Kind TaskKind     `gorm:"type:text;not null;index:idx_tasks_claim"`

	Payload datatypes.JSON `gorm:""`
	Status  TaskStatus     `gorm:"type:text;not null;default:'queued';index:idx_tasks_claim"`

	ProgressCurrent int `gorm:"not null;default:0"`
	ProgressTotal   int `gorm:"not null;default:0"`

	Result datatypes.JSON `gorm:""`
	Error  string         `gorm:"type:text"`

	Attempts   int        `gorm:"not null;default:0"`
	StartedAt  *time.Time `gorm:""`
	FinishedAt *time.Time `gorm:""`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Task) TableName() string { return "tasks" }

// BatchAuthorizePayload is the payload of a batch.authorize task.
type BatchAuthorizePayload struct {
	BatchID snowflake.ID `json:"batch_id"`
}

// InvoiceEmailPayload is the payload of an invoice.email task.
type InvoiceEmailPayload struct {
	InvoiceID snowflake.ID `json:"invoice_id"`
}

// Queue enqueues tasks and exposes them to status polling.
type Queue interface {
	Enqueue(ctx context.Context, kind TaskKind, payload any) (Task, error)
	Get(ctx context.Context, id snowflake.ID) (Task, error)
}
