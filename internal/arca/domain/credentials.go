// Package domain defines the contracts and wire types for the tax
// authority's authentication, invoicing and registry services.
package domain

import "strings"

// Environment selects the authority endpoints a credential talks to.
type Environment string

const (
	EnvironmentTesting    Environment = "testing"
	EnvironmentProduction Environment = "production"
)

// Service names as the authority knows them. Tickets and locks are scoped
// per service.
const (
	ServiceInvoicing = "wsfe"
	ServiceRegistry  = "ws_sr_constancia_inscripcion"
)

// Credentials is the immutable identity an issuer presents to the
// authority. Clients are constructed from a Credentials value; there is no
// shared mutable configuration between them.
type Credentials struct {
	TaxID       string
	Cert        []byte
	Key         []byte
	Environment Environment
}

// NewCredentials normalizes the tax ID (digits only) and defaults the
// environment to testing.
func NewCredentials(taxID string, cert, key []byte, env Environment) Credentials {
	if env != EnvironmentProduction {
		env = EnvironmentTesting
	}
	return Credentials{
		TaxID:       strings.ReplaceAll(strings.TrimSpace(taxID), "-", ""),
		Cert:        cert,
		Key:         key,
		Environment: env,
	}
}
