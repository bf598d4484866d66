package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Failure categories propagated through the pipeline and persisted on
// invoices. They separate retryable connectivity trouble from business
// validation rejections and everything in between.
const (
	FailureValidation = "arca_validacion"
	FailureConnection = "arca_conexion"
	FailureService    = "arca_error"
	FailureProcessing = "procesamiento_error"
)

var (
	ErrAuthFailed       = errors.New("auth_failed")
	ErrNoLastInvoice    = errors.New("no_last_invoice")
	ErrRegistryNotFound = errors.New("registry_not_found")
)

// ServiceError is a structured rejection returned by the authority while
// the transport itself worked.
type ServiceError struct {
	Code     int
	Message  string
	Category string
}

func (e *ServiceError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("arca: [%d] %s", e.Code, e.Message)
	}
	return "arca: " + e.Message
}

// NewValidationError builds a ServiceError in the validation category.
func NewValidationError(code int, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message, Category: FailureValidation}
}

// NewServiceError builds a ServiceError in the generic service category.
func NewServiceError(code int, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message, Category: FailureService}
}

// ConnectionError wraps transport failures (timeouts, refused connections)
// so callers can classify them as retryable.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "arca: connection: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

// Categorize maps any pipeline error to its failure category.
func Categorize(err error) string {
	// Login failures count as connectivity regardless of what the auth
	// service wrapped underneath: the pipeline never reached invoicing.
	if errors.Is(err, ErrAuthFailed) {
		return FailureConnection
	}
	var se *ServiceError
	if errors.As(err, &se) && se.Category != "" {
		return se.Category
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return FailureConnection
	}
	if errors.As(err, &se) {
		return FailureService
	}
	return FailureProcessing
}

// IsTicketRace reports whether a login failure indicates another process
// already holds a valid ticket for the same scope. The authority phrases
// this as "ya posee un TA valido" with inconsistent casing and accents.
func IsTicketRace(err error) bool {
	if err == nil {
		return false
	}
	msg := normalize(err.Error())
	return strings.Contains(msg, "ya posee un ta valido")
}

// Sequence drift manifests either as rejection code 10016 or as one of a
// few known message fragments telling the caller the next authorizable
// number moved underneath it.
var driftFragments = []string{
	"no se corresponde",
	"proximo a autorizar",
	"fecompultimoautorizado",
}

// IsSequenceDrift reports whether an authorization rejection means the
// locally computed next invoice number no longer matches the authority's
// counter.
func IsSequenceDrift(err error) bool {
	if err == nil {
		return false
	}
	var se *ServiceError
	if errors.As(err, &se) && se.Code == 10016 {
		return true
	}
	msg := normalize(err.Error())
	for _, f := range driftFragments {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}

// normalize lowercases and strips the Spanish diacritics that the
// authority uses inconsistently across environments.
func normalize(s string) string {
	s = strings.ToLower(s)
	r := strings.NewReplacer(
		"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
	)
	return r.Replace(s)
}
