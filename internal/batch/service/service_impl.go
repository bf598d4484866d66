package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	batchdomain "github.com/lotefact/lotefact/internal/batch/domain"
	"github.com/lotefact/lotefact/pkg/db/option"
	"github.com/lotefact/lotefact/pkg/repository"
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	log  *zap.Logger
	repo repository.Repository[batchdomain.Batch]
}

func NewService(p ServiceParam) batchdomain.Service {
	return &Service{
		log:  p.Log.Named("batch.service"),
		repo: repository.ProvideStore[batchdomain.Batch](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (batchdomain.Batch, error) {
	found, err := s.repo.FindOne(ctx, &batchdomain.Batch{ID: id})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return batchdomain.Batch{}, ErrBatchNotFound
		}
		return batchdomain.Batch{}, err
	}
	if found == nil {
		return batchdomain.Batch{}, ErrBatchNotFound
	}
	return *found, nil
}

func (s *Service) List(ctx context.Context, status *batchdomain.Status, limit int) ([]batchdomain.Batch, error) {
	filter := &batchdomain.Batch{}
	if status != nil {
		filter.Status = *status
	}
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
	}
	if limit > 0 {
		opts = append(opts, option.WithLimit(limit))
	}
	rows, err := s.repo.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]batchdomain.Batch, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	return out, nil
}
