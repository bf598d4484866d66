package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	invoicedomain "github.com/lotefact/lotefact/internal/invoice/domain"
	"github.com/lotefact/lotefact/pkg/db/option"
	"github.com/lotefact/lotefact/pkg/repository"
)

var (
	ErrInvoiceNotFound  = errors.New("invoice_not_found")
	ErrInvoiceImmutable = errors.New("invoice_immutable")
	ErrInvoiceNotError  = errors.New("invoice_not_in_error")
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo repository.Repository[invoicedomain.Invoice]
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("invoice.service"),
		repo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
	}
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListRequest) ([]invoicedomain.Invoice, error) {
	filter := &invoicedomain.Invoice{}
	if req.BatchID != nil {
		filter.BatchID = *req.BatchID
	}
	if req.IssuerID != nil {
		filter.IssuerID = *req.IssuerID
	}
	if req.Status != nil {
		filter.Status = *req.Status
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
	}
	if req.Limit > 0 {
		opts = append(opts, option.WithLimit(req.Limit))
	}

	rows, err := s.repo.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]invoicedomain.Invoice, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	var inv invoicedomain.Invoice
	err := s.db.WithContext(ctx).Preload("Items").First(&inv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return invoicedomain.Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	return inv, nil
}

func (s *Service) Reset(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	switch inv.Status {
	case invoicedomain.StatusAuthorized:
		return invoicedomain.Invoice{}, ErrInvoiceImmutable
	case invoicedomain.StatusError:
	default:
		return invoicedomain.Invoice{}, ErrInvoiceNotError
	}

	updates := map[string]any{
		"status":        invoicedomain.StatusPending,
		"error_code":    "",
		"error_message": "",
	}
	if err := s.db.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("id = ?", id).Updates(updates).Error; err != nil {
		return invoicedomain.Invoice{}, err
	}
	s.log.Info("invoice reset to pending", zap.Int64("invoice_id", int64(id)))
	return s.Get(ctx, id)
}
