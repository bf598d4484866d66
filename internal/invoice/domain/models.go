// Package domain contains persistence models for invoices.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Status represents invoice lifecycle states.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusError      Status = "error"
)

// Invoice is one receipt awaiting (or holding) authorization. Amounts are
// the invoice's own reported figures; the authorizer recomputes the VAT
// breakdown from items when present.
type Invoice struct {
	ID         snowflake.ID  `gorm:"primaryKey"`
	BatchID    snowflake.ID  `gorm:"not null;index"`
	IssuerID   snowflake.ID  `gorm:"not null;index"`
	ReceiverID *snowflake.ID `gorm:"index"`

	PointOfSale int    `gorm:"not null"`
	DocType     int    `gorm:"not null"`
	Concept     int    `gorm:"not null"`
	Number      *int64 `gorm:""`

	EmissionDate datatypes.Date  `gorm:"not null"`
	ServiceFrom  *datatypes.Date `gorm:""`
	ServiceTo    *datatypes.Date `gorm:""`
	PaymentDue   *datatypes.Date `gorm:""`

	Net        decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	Tax        decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	Total      decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	Exempt     decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0"`
	NonTaxable decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0"`
	OtherTaxes decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0"`

	Currency     string          `gorm:"type:text;not null;default:'PES'"`
	CurrencyRate decimal.Decimal `gorm:"type:numeric(15,6);not null;default:1"`

	AssocDocType     *int   `gorm:""`
	AssocPointOfSale *int   `gorm:""`
	AssocNumber      *int64 `gorm:""`

	Status       Status `gorm:"type:text;not null;default:'pending';index"`
	ErrorCode    string `gorm:"type:text"`
	ErrorMessage string `gorm:"type:text"`

	CAE        string          `gorm:"type:text"`
	CAEDueDate *datatypes.Date `gorm:""`

	ArcaRequest  datatypes.JSON `gorm:""`
	ArcaResponse datatypes.JSON `gorm:""`

	Items []InvoiceItem `gorm:"foreignKey:InvoiceID"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem is one line on an invoice.
type InvoiceItem struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	InvoiceID snowflake.ID `gorm:"not null;index"`

	Description string          `gorm:"type:text"`
	Quantity    decimal.Decimal `gorm:"type:numeric(15,2);not null;default:1"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	VATRateID   int             `gorm:"not null"`
	Subtotal    decimal.Decimal `gorm:"type:numeric(15,2);not null"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }
