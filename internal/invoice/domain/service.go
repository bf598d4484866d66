package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// ListRequest filters invoice listings.
type ListRequest struct {
	BatchID  *snowflake.ID
	IssuerID *snowflake.ID
	Status   *Status
	Limit    int
}

// Service exposes invoice records to the API surface.
type Service interface {
	List(ctx context.Context, req ListRequest) ([]Invoice, error)
	Get(ctx context.Context, id snowflake.ID) (Invoice, error)
	// Reset returns an errored invoice to pending so the next batch run
	// picks it up. Authorized invoices are immutable.
	Reset(ctx context.Context, id snowflake.ID) (Invoice, error)
}
