package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CAEResult is a successful authorization: the granted code and its due
// date, plus any advisory observations the authority attached.
type CAEResult struct {
	CAE          string
	CAEDueDate   time.Time
	Observations []Observation
}

// Observation is a non-fatal remark attached to an approved invoice.
type Observation struct {
	Code    int
	Message string
}

// LastInvoice is the authority's view of the most recently authorized
// invoice for a (point of sale, document type) pair.
type LastInvoice struct {
	Number       int64
	EmissionDate time.Time
}

// InvoiceSnapshot is the authority-side record of an already authorized
// invoice, used to reconcile local state after ambiguous failures.
type InvoiceSnapshot struct {
	Number       int64
	CAE          string
	CAEDueDate   time.Time
	EmissionDate time.Time
	Total        decimal.Decimal
}

// InvoicingClient talks to the electronic invoicing service. Implementations
// obtain tickets through a TicketSource and surface rejections as
// ServiceError and transport trouble as ConnectionError.
type InvoicingClient interface {
	// LastAuthorized returns the last invoice number the authority granted
	// for the point of sale and document type.
	LastAuthorized(ctx context.Context, creds Credentials, pointOfSale, docType int) (LastInvoice, error)
	// Authorize submits a single-invoice request and returns the CAE grant.
	Authorize(ctx context.Context, creds Credentials, req *AuthorizationRequest) (CAEResult, error)
	// QueryInvoice fetches the authority-side record of an invoice.
	QueryInvoice(ctx context.Context, creds Credentials, pointOfSale, docType int, number int64) (InvoiceSnapshot, error)
}

// RegistryEntry is the taxpayer registry record used to autofill receiver
// data before building a request.
type RegistryEntry struct {
	TaxID           string
	Name            string
	Address         string
	FiscalCondition int
}

// RegistryClient looks up taxpayers in the public registry. Lookups are
// best effort; callers tolerate failures.
type RegistryClient interface {
	Lookup(ctx context.Context, creds Credentials, taxID string) (RegistryEntry, error)
}
