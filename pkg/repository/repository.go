package repository

import (
	"context"

	"github.com/lotefact/lotefact/pkg/db/option"
)

// Repository is the generic persistence surface shared by domain services.
// Writes that need transactional scope go through gorm directly.
type Repository[T any] interface {
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Update(ctx context.Context, resourceID string, resource any) error
}
