package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTicketRace(t *testing.T) {
	assert.True(t, IsTicketRace(errors.New("El CEE ya posee un TA valido para el acceso al WSN solicitado")))
	assert.True(t, IsTicketRace(errors.New("ya posee un TA válido")))
	assert.False(t, IsTicketRace(errors.New("certificado expirado")))
	assert.False(t, IsTicketRace(nil))
}

func TestIsSequenceDrift(t *testing.T) {
	assert.True(t, IsSequenceDrift(NewValidationError(10016, "campo CbteDesde")))
	assert.True(t, IsSequenceDrift(errors.New("el numero no se corresponde con el proximo a autorizar")))
	assert.True(t, IsSequenceDrift(errors.New("consulte el metodo FECompUltimoAutorizado")))
	assert.False(t, IsSequenceDrift(NewValidationError(10048, "importe invalido")))
	assert.False(t, IsSequenceDrift(nil))
}

func TestCategorize(t *testing.T) {
	assert.Equal(t, FailureValidation, Categorize(NewValidationError(10016, "x")))
	assert.Equal(t, FailureService, Categorize(NewServiceError(500, "x")))
	assert.Equal(t, FailureConnection, Categorize(&ConnectionError{Err: errors.New("timeout")}))
	assert.Equal(t, FailureProcessing, Categorize(errors.New("boom")))
}

func TestCategorizeAuthFailure(t *testing.T) {
	assert.Equal(t, FailureConnection, Categorize(ErrAuthFailed))
	// Login failures stay connectivity even when the authority answered
	// with a structured rejection underneath.
	wrapped := fmt.Errorf("%w: %w", ErrAuthFailed, &ConnectionError{Err: errors.New("dial tcp: i/o timeout")})
	assert.Equal(t, FailureConnection, Categorize(wrapped))
	assert.Equal(t, FailureConnection, Categorize(fmt.Errorf("%w: %w", ErrAuthFailed, NewServiceError(500, "cms invalido"))))
}

func TestExpiryValid(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, Expiry{Kind: ExpiryUnknown}.Valid(now))
	assert.True(t, ExpiresAt(now.Add(time.Hour)).Valid(now))
	assert.False(t, ExpiresAt(now.Add(-time.Hour)).Valid(now))
	assert.True(t, ExpiredFlag(false).Valid(now))
	assert.False(t, ExpiredFlag(true).Valid(now))
}

func TestNewCredentials(t *testing.T) {
	c := NewCredentials("20-12345678-9", []byte("cert"), []byte("key"), "")
	assert.Equal(t, "20123456789", c.TaxID)
	assert.Equal(t, EnvironmentTesting, c.Environment)
}
