package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	arcadomain "github.com/lotefact/lotefact/internal/arca/domain"
	receiverdomain "github.com/lotefact/lotefact/internal/receiver/domain"
	"github.com/lotefact/lotefact/pkg/repository"
)

type fakeRegistry struct {
	entry   arcadomain.RegistryEntry
	err     error
	lookups []string
}

func (f *fakeRegistry) Lookup(ctx context.Context, creds arcadomain.Credentials, taxID string) (arcadomain.RegistryEntry, error) {
	f.lookups = append(f.lookups, taxID)
	if f.err != nil {
		return arcadomain.RegistryEntry{}, f.err
	}
	return f.entry, nil
}

func newTestService(t *testing.T, registry arcadomain.RegistryClient) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&receiverdomain.Receiver{}))

	return &Service{
		log:      zap.NewNop(),
		registry: registry,
		repo:     repository.ProvideStore[receiverdomain.Receiver](db),
	}, db
}

func testCreds() arcadomain.Credentials {
	return arcadomain.NewCredentials("20111222333", []byte("cert"), []byte("key"), arcadomain.EnvironmentTesting)
}

func TestAutofillFillsMissingFieldsFromRegistry(t *testing.T) {
	registry := &fakeRegistry{entry: arcadomain.RegistryEntry{
		Name:            "ACME SRL",
		Address:         "Av Siempre Viva 742",
		FiscalCondition: arcadomain.FiscalResponsableInscripto,
	}}
	svc, db := newTestService(t, registry)

	rcv := receiverdomain.Receiver{ID: 1, DocType: arcadomain.ReceiverDocCUIT, DocNumber: 30111222333}
	require.NoError(t, db.Create(&rcv).Error)

	got, err := svc.Autofill(context.Background(), testCreds(), rcv.ID)
	require.NoError(t, err)
	assert.Equal(t, "ACME SRL", got.Name)
	assert.Equal(t, "Av Siempre Viva 742", got.Address)
	assert.Equal(t, arcadomain.FiscalResponsableInscripto, got.FiscalCondition)
	assert.Equal(t, []string{"30111222333"}, registry.lookups)

	var stored receiverdomain.Receiver
	require.NoError(t, db.First(&stored, "id = ?", rcv.ID).Error)
	assert.Equal(t, "ACME SRL", stored.Name)
}

func TestAutofillSkipsCompleteReceiver(t *testing.T) {
	registry := &fakeRegistry{}
	svc, db := newTestService(t, registry)

	rcv := receiverdomain.Receiver{
		ID: 1, DocType: arcadomain.ReceiverDocCUIT, DocNumber: 30111222333,
		Name: "ACME SRL", FiscalCondition: arcadomain.FiscalResponsableInscripto,
	}
	require.NoError(t, db.Create(&rcv).Error)

	got, err := svc.Autofill(context.Background(), testCreds(), rcv.ID)
	require.NoError(t, err)
	assert.Equal(t, "ACME SRL", got.Name)
	assert.Empty(t, registry.lookups)
}

func TestAutofillFinalConsumerDefaultsWithoutLookup(t *testing.T) {
	registry := &fakeRegistry{}
	svc, db := newTestService(t, registry)

	rcv := receiverdomain.Receiver{ID: 1, DocType: arcadomain.ReceiverDocFinal, DocNumber: 0}
	require.NoError(t, db.Create(&rcv).Error)

	got, err := svc.Autofill(context.Background(), testCreds(), rcv.ID)
	require.NoError(t, err)
	assert.Equal(t, arcadomain.FiscalConsumidorFinal, got.FiscalCondition)
	assert.Empty(t, registry.lookups)
}

func TestAutofillToleratesRegistryFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"connection", &arcadomain.ConnectionError{Err: errors.New("timeout")}},
		{"service", arcadomain.NewServiceError(500, "internal")},
		{"auth", arcadomain.ErrAuthFailed},
		{"not found", arcadomain.ErrRegistryNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			registry := &fakeRegistry{err: tc.err}
			svc, db := newTestService(t, registry)

			rcv := receiverdomain.Receiver{ID: 1, DocType: arcadomain.ReceiverDocCUIT, DocNumber: 30111222333}
			require.NoError(t, db.Create(&rcv).Error)

			got, err := svc.Autofill(context.Background(), testCreds(), rcv.ID)
			require.NoError(t, err)
			assert.Empty(t, got.Name)
			assert.Zero(t, got.FiscalCondition)
		})
	}
}

func TestAutofillPropagatesUnexpectedErrors(t *testing.T) {
	registry := &fakeRegistry{err: errors.New("boom")}
	svc, db := newTestService(t, registry)

	rcv := receiverdomain.Receiver{ID: 1, DocType: arcadomain.ReceiverDocCUIT, DocNumber: 30111222333}
	require.NoError(t, db.Create(&rcv).Error)

	_, err := svc.Autofill(context.Background(), testCreds(), rcv.ID)
	require.Error(t, err)
}

func TestGetUnknownReceiver(t *testing.T) {
	svc, _ := newTestService(t, &fakeRegistry{})

	_, err := svc.Get(context.Background(), 99)
	assert.ErrorIs(t, err, ErrReceiverNotFound)
}
