package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	arcadomain "github.com/lotefact/lotefact/internal/arca/domain"
	issuerdomain "github.com/lotefact/lotefact/internal/issuer/domain"
	"github.com/lotefact/lotefact/internal/secrets"
	"github.com/lotefact/lotefact/pkg/repository"
)

var ErrIssuerNotFound = errors.New("issuer_not_found")

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Cipher *secrets.Cipher
}

type Service struct {
	log    *zap.Logger
	cipher *secrets.Cipher
	repo   repository.Repository[issuerdomain.Issuer]
}

func NewService(p ServiceParam) issuerdomain.Service {
	return &Service{
		log:    p.Log.Named("issuer.service"),
		cipher: p.Cipher,
		repo:   repository.ProvideStore[issuerdomain.Issuer](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (issuerdomain.Issuer, error) {
	found, err := s.repo.FindOne(ctx, &issuerdomain.Issuer{ID: id})
	if err != nil {
		return issuerdomain.Issuer{}, err
	}
	if found == nil {
		return issuerdomain.Issuer{}, ErrIssuerNotFound
	}
	return *found, nil
}

func (s *Service) Credentials(ctx context.Context, id snowflake.ID) (arcadomain.Credentials, error) {
	iss, err := s.Get(ctx, id)
	if err != nil {
		return arcadomain.Credentials{}, err
	}

	cert, err := s.cipher.Open(iss.CertCipher)
	if err != nil {
		return arcadomain.Credentials{}, fmt.Errorf("issuer %s: decrypt cert: %w", iss.TaxID, err)
	}
	key, err := s.cipher.Open(iss.KeyCipher)
	if err != nil {
		return arcadomain.Credentials{}, fmt.Errorf("issuer %s: decrypt key: %w", iss.TaxID, err)
	}

	return arcadomain.NewCredentials(iss.TaxID, cert, key, arcadomain.Environment(iss.Environment)), nil
}
