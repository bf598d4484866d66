// Package domain contains persistence models for authorization batches.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status represents batch lifecycle states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Batch is a named group of invoices authorized in one run. All member
// invoices share one issuer; the authorizer enforces this before
// submission.
type Batch struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	Name     string       `gorm:"type:text;not null"`
	IssuerID snowflake.ID `gorm:"not null;index"`

	Status Status `gorm:"type:text;not null;default:'pending';index"`

	TotalCount     int `gorm:"not null;default:0"`
	OkCount        int `gorm:"not null;default:0"`
	ErrorCount     int `gorm:"not null;default:0"`
	ProcessedCount int `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Batch) TableName() string { return "batches" }

// PosSequence is the row the authorizer locks to serialize numbering per
// (issuer, point of sale, document type). Its only payload is the lock.
type PosSequence struct {
	IssuerID    snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	PointOfSale int          `gorm:"primaryKey;autoIncrement:false"`
	DocType     int          `gorm:"primaryKey;autoIncrement:false"`

	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PosSequence) TableName() string { return "pos_sequences" }

// Progress is the live counter an external poller observes.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Percent returns completion as 0-100. A zero total reads as not
// started rather than done.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// Summary is the final tally of one batch run.
type Summary struct {
	Total  int `json:"total"`
	OK     int `json:"ok"`
	Errors int `json:"errors"`
}

// Authorizer runs the sequence-safe authorization of one batch.
type Authorizer interface {
	// Run processes every pending invoice in the batch and reports live
	// progress through report (which may be nil). It returns an error only
	// for unexpected failures; per-invoice rejections become invoice
	// state.
	Run(ctx context.Context, batchID snowflake.ID, report func(Progress)) (Summary, error)
}

// Service exposes batch records to the API surface.
type Service interface {
	Get(ctx context.Context, id snowflake.ID) (Batch, error)
	List(ctx context.Context, status *Status, limit int) ([]Batch, error)
}
