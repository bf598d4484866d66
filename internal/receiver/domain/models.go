// Package domain contains persistence models for invoice receivers.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"

	arcadomain "github.com/lotefact/lotefact/internal/arca/domain"
)

// Receiver is the party an invoice is issued to.
type Receiver struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	DocType   int          `gorm:"not null;uniqueIndex:ux_receiver_doc"`
	DocNumber int64        `gorm:"not null;uniqueIndex:ux_receiver_doc"`

	Name            string `gorm:"type:text"`
	Address         string `gorm:"type:text"`
	FiscalCondition int    `gorm:"not null;default:0"`
	Email           string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Receiver) TableName() string { return "receivers" }

// Service exposes receiver reads and the registry-backed autofill.
type Service interface {
	Get(ctx context.Context, id snowflake.ID) (Receiver, error)
	// Autofill completes missing receiver data from the fiscal registry,
	// best effort: lookup failures are logged and the receiver is
	// returned as is.
	Autofill(ctx context.Context, creds arcadomain.Credentials, id snowflake.ID) (Receiver, error)
}
