package domain

import (
	"context"
	"time"
)

// ExpiryKind tags the expiry information a login implementation was able
// to surface for a ticket.
type ExpiryKind int

const (
	// ExpiryUnknown means the client exposed no usable expiry; the cache
	// trusts the client to self-validate.
	ExpiryUnknown ExpiryKind = iota
	// ExpiryAt carries an absolute expiry instant.
	ExpiryAt
	// ExpiryFlag carries a precomputed expired/valid verdict.
	ExpiryFlag
)

// Expiry is the tagged expiry of an access ticket.
type Expiry struct {
	Kind    ExpiryKind `json:"kind"`
	At      time.Time  `json:"at,omitempty"`
	Expired bool       `json:"expired,omitempty"`
}

func ExpiresAt(t time.Time) Expiry    { return Expiry{Kind: ExpiryAt, At: t} }
func ExpiredFlag(expired bool) Expiry { return Expiry{Kind: ExpiryFlag, Expired: expired} }

// Valid reports whether a ticket with this expiry is still usable at now.
func (e Expiry) Valid(now time.Time) bool {
	switch e.Kind {
	case ExpiryAt:
		return now.Before(e.At)
	case ExpiryFlag:
		return !e.Expired
	default:
		// Unknown expiry is treated optimistically.
		return true
	}
}

// AccessTicket is the short-lived credential the authentication service
// grants per (credential, environment, service) scope.
type AccessTicket struct {
	Token      string    `json:"token"`
	Sign       string    `json:"sign"`
	Expiry     Expiry    `json:"expiry"`
	ObtainedAt time.Time `json:"obtained_at"`
}

// LoginClient performs the authority's login handshake. The cryptographic
// signing of the login request is this collaborator's concern; the cache
// only consumes the resulting ticket and the failure-message contract.
type LoginClient interface {
	Login(ctx context.Context, creds Credentials, service string) (AccessTicket, error)
}

// TicketSource is what the invoicing and registry clients consume.
type TicketSource interface {
	Obtain(ctx context.Context, creds Credentials, service string) (AccessTicket, error)
}
