package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	arcadomain "github.com/lotefact/lotefact/internal/arca/domain"
	receiverdomain "github.com/lotefact/lotefact/internal/receiver/domain"
	"github.com/lotefact/lotefact/pkg/repository"
)

var ErrReceiverNotFound = errors.New("receiver_not_found")

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Registry arcadomain.RegistryClient
}

type Service struct {
	log      *zap.Logger
	registry arcadomain.RegistryClient
	repo     repository.Repository[receiverdomain.Receiver]
}

func NewService(p ServiceParam) receiverdomain.Service {
	return &Service{
		log:      p.Log.Named("receiver.service"),
		registry: p.Registry,
		repo:     repository.ProvideStore[receiverdomain.Receiver](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (receiverdomain.Receiver, error) {
	found, err := s.repo.FindOne(ctx, &receiverdomain.Receiver{ID: id})
	if err != nil {
		return receiverdomain.Receiver{}, err
	}
	if found == nil {
		return receiverdomain.Receiver{}, ErrReceiverNotFound
	}
	return *found, nil
}

// Autofill completes the receiver from the registry when the fiscal
// condition or name is missing. Only the registry's defined failure kinds
// are tolerated; they are logged and the record returned unchanged.
func (s *Service) Autofill(ctx context.Context, creds arcadomain.Credentials, id snowflake.ID) (receiverdomain.Receiver, error) {
	rcv, err := s.Get(ctx, id)
	if err != nil {
		return receiverdomain.Receiver{}, err
	}
	if rcv.FiscalCondition != 0 && rcv.Name != "" {
		return rcv, nil
	}

	// Only tax-ID style documents are resolvable in the registry.
	if rcv.DocType != arcadomain.ReceiverDocCUIT && rcv.DocType != arcadomain.ReceiverDocCUIL {
		if rcv.FiscalCondition == 0 && rcv.DocType == arcadomain.ReceiverDocFinal {
			rcv.FiscalCondition = arcadomain.FiscalConsumidorFinal
		}
		return rcv, nil
	}

	entry, err := s.registry.Lookup(ctx, creds, strconv.FormatInt(rcv.DocNumber, 10))
	if err != nil {
		var ce *arcadomain.ConnectionError
		var se *arcadomain.ServiceError
		if errors.As(err, &ce) || errors.As(err, &se) ||
			errors.Is(err, arcadomain.ErrAuthFailed) || errors.Is(err, arcadomain.ErrRegistryNotFound) {
			s.log.Warn("registry lookup failed, keeping receiver as is",
				zap.Int64("doc_number", rcv.DocNumber), zap.Error(err))
			return rcv, nil
		}
		return receiverdomain.Receiver{}, err
	}

	changed := false
	if rcv.Name == "" && entry.Name != "" {
		rcv.Name = entry.Name
		changed = true
	}
	if rcv.Address == "" && entry.Address != "" {
		rcv.Address = entry.Address
		changed = true
	}
	if rcv.FiscalCondition == 0 && entry.FiscalCondition != 0 {
		rcv.FiscalCondition = entry.FiscalCondition
		changed = true
	}
	if changed {
		if err := s.repo.Update(ctx, rcv.ID.String(), &rcv); err != nil {
			s.log.Warn("receiver autofill persist failed", zap.Error(err))
		}
	}
	return rcv, nil
}
