// Package padron looks taxpayers up in the fiscal registry. Lookups are
// best effort: callers log failures and continue.
package padron

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/lotefact/lotefact/internal/arca/domain"
)

const (
	endpointTesting    = "https://awshomo.afip.gov.ar/sr-padron/webservices/personaServiceA5"
	endpointProduction = "https://aws.afip.gov.ar/sr-padron/webservices/personaServiceA5"
)

// ErrNotFound is returned when the registry has no record for the tax ID.
var ErrNotFound = domain.ErrRegistryNotFound

type Client struct {
	http    *http.Client
	tickets domain.TicketSource
	log     *zap.Logger
}

func NewClient(httpClient *http.Client, tickets domain.TicketSource, log *zap.Logger) *Client {
	return &Client{
		http:    httpClient,
		tickets: tickets,
		log:     log.Named("arca.padron"),
	}
}

func endpoint(env domain.Environment) string {
	if env == domain.EnvironmentProduction {
		return endpointProduction
	}
	return endpointTesting
}

type getPersonaCall struct {
	XMLName          xml.Name `xml:"a5:getPersona"`
	Token            string   `xml:"token"`
	Sign             string   `xml:"sign"`
	CuitRepresentada string   `xml:"cuitRepresentada"`
	IDPersona        string   `xml:"idPersona"`
}

type getPersonaEnvelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	NS      string   `xml:"xmlns:soapenv,attr"`
	A5      string   `xml:"xmlns:a5,attr"`
	Body    struct {
		Call getPersonaCall
	} `xml:"soapenv:Body"`
}

type taxRegistration struct {
	ID int `xml:"idImpuesto"`
}

type persona struct {
	General struct {
		RazonSocial string `xml:"razonSocial"`
		Nombre      string `xml:"nombre"`
		Apellido    string `xml:"apellido"`
		Domicilio   struct {
			Direccion string `xml:"direccion"`
		} `xml:"domicilioFiscal"`
	} `xml:"datosGenerales"`
	RegimenGeneral struct {
		Impuesto []taxRegistration `xml:"impuesto"`
	} `xml:"datosRegimenGeneral"`
	Monotributo struct {
		Impuesto []taxRegistration `xml:"impuesto"`
	} `xml:"datosMonotributo"`
}

type personaResponse struct {
	Body struct {
		Fault struct {
			String string `xml:"faultstring"`
		} `xml:"Fault"`
		Persona persona `xml:"getPersonaResponse>personaReturn"`
	} `xml:"Body"`
}

// Lookup fetches name, fiscal address and fiscal condition for a tax ID.
func (c *Client) Lookup(ctx context.Context, creds domain.Credentials, taxID string) (domain.RegistryEntry, error) {
	ticket, err := c.tickets.Obtain(ctx, creds, domain.ServiceRegistry)
	if err != nil {
		return domain.RegistryEntry{}, err
	}

	normalized := strings.ReplaceAll(strings.TrimSpace(taxID), "-", "")

	var env getPersonaEnvelope
	env.NS = "http://schemas.xmlsoap.org/soap/envelope/"
	env.A5 = "http://a5.soap.ws.server.puc.sr/"
	env.Body.Call = getPersonaCall{
		Token:            ticket.Token,
		Sign:             ticket.Sign,
		CuitRepresentada: creds.TaxID,
		IDPersona:        normalized,
	}

	payload, err := xml.Marshal(env)
	if err != nil {
		return domain.RegistryEntry{}, fmt.Errorf("padron: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(creds.Environment), bytes.NewReader(payload))
	if err != nil {
		return domain.RegistryEntry{}, fmt.Errorf("padron: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.RegistryEntry{}, &domain.ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.RegistryEntry{}, &domain.ConnectionError{Err: err}
	}

	var out personaResponse
	if err := xml.Unmarshal(raw, &out); err != nil {
		return domain.RegistryEntry{}, fmt.Errorf("padron: decode response: %w", err)
	}
	if fault := out.Body.Fault.String; fault != "" {
		if strings.Contains(strings.ToLower(fault), "no existe") {
			return domain.RegistryEntry{}, ErrNotFound
		}
		return domain.RegistryEntry{}, domain.NewServiceError(0, fault)
	}

	p := out.Body.Persona
	name := p.General.RazonSocial
	if name == "" {
		name = strings.TrimSpace(p.General.Nombre + " " + p.General.Apellido)
	}

	return domain.RegistryEntry{
		TaxID:           normalized,
		Name:            name,
		Address:         p.General.Domicilio.Direccion,
		FiscalCondition: fiscalCondition(p),
	}, nil
}

// fiscalCondition derives the receiver's VAT condition from the registry's
// tax registrations: a general-regime registration means responsable
// inscripto, a monotributo registration means monotributista, anything
// else defaults to final consumer.
func fiscalCondition(p persona) int {
	if len(p.RegimenGeneral.Impuesto) > 0 {
		return domain.FiscalResponsableInscripto
	}
	if len(p.Monotributo.Impuesto) > 0 {
		return domain.FiscalMonotributo
	}
	return domain.FiscalConsumidorFinal
}
