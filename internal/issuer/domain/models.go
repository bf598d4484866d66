// Package domain contains persistence models for invoice issuers.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	arcadomain "github.com/lotefact/lotefact/internal/arca/domain"
)

// Issuer is a business entity authorized to invoice. Certificate material
// is stored encrypted; Credentials decrypts it on demand. The pipeline
// only reads issuers.
type Issuer struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	TaxID       string       `gorm:"type:text;not null;uniqueIndex"`
	Name        string       `gorm:"type:text;not null"`
	Environment string       `gorm:"type:text;not null;default:'testing'"`

	CertCipher []byte `gorm:"not null" json:"-"`
	KeyCipher  []byte `gorm:"not null" json:"-"`

	PointsOfSale datatypes.JSONSlice[int] `gorm:"not null"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Issuer) TableName() string { return "issuers" }

// Service exposes issuer reads to the pipeline.
type Service interface {
	Get(ctx context.Context, id snowflake.ID) (Issuer, error)
	// Credentials returns the issuer's decrypted credential identity.
	Credentials(ctx context.Context, id snowflake.ID) (arcadomain.Credentials, error)
}
