// Package auth talks to the authority's authentication service. The
// cryptographic signing of the login request is delegated to a Signer;
// this client handles transport and the ticket envelope.
package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lotefact/lotefact/internal/arca/domain"
	"github.com/lotefact/lotefact/internal/clock"
)

const (
	endpointTesting    = "https://wsaahomo.afip.gov.ar/ws/services/LoginCms"
	endpointProduction = "https://wsaa.afip.gov.ar/ws/services/LoginCms"
)

// Signer produces the signed CMS login request for a credential. The PKCS#7
// details live behind this boundary.
type Signer interface {
	SignLoginRequest(creds domain.Credentials, service string, now time.Time) ([]byte, error)
}

type Client struct {
	http   *http.Client
	signer Signer
	clock  clock.Clock
	log    *zap.Logger
}

func NewClient(httpClient *http.Client, signer Signer, clk clock.Clock, log *zap.Logger) *Client {
	return &Client{
		http:   httpClient,
		signer: signer,
		clock:  clk,
		log:    log.Named("arca.auth"),
	}
}

func endpoint(env domain.Environment) string {
	if env == domain.EnvironmentProduction {
		return endpointProduction
	}
	return endpointTesting
}

type loginEnvelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	NS      string   `xml:"xmlns:soapenv,attr"`
	WSAA    string   `xml:"xmlns:wsaa,attr"`
	Body    struct {
		LoginCms struct {
			In0 string `xml:"wsaa:in0"`
		} `xml:"wsaa:loginCms"`
	} `xml:"soapenv:Body"`
}

type loginResponse struct {
	Body struct {
		Return string `xml:"loginCmsResponse>loginCmsReturn"`
		Fault  struct {
			String string `xml:"faultstring"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

type ticketResponse struct {
	Header struct {
		ExpirationTime string `xml:"expirationTime"`
	} `xml:"header"`
	Credentials struct {
		Token string `xml:"token"`
		Sign  string `xml:"sign"`
	} `xml:"credentials"`
}

// Login signs and submits a ticket request. Authority rejections come back
// as plain errors carrying the fault message, so callers can match the
// "already holds a valid ticket" contract.
func (c *Client) Login(ctx context.Context, creds domain.Credentials, service string) (domain.AccessTicket, error) {
	now := c.clock.Now()
	cms, err := c.signer.SignLoginRequest(creds, service, now)
	if err != nil {
		return domain.AccessTicket{}, fmt.Errorf("auth: sign login request: %w", err)
	}

	var env loginEnvelope
	env.NS = "http://schemas.xmlsoap.org/soap/envelope/"
	env.WSAA = "http://wsaa.view.sua.dvadac.desein.afip.gov"
	env.Body.LoginCms.In0 = base64.StdEncoding.EncodeToString(cms)

	payload, err := xml.Marshal(env)
	if err != nil {
		return domain.AccessTicket{}, fmt.Errorf("auth: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(creds.Environment), bytes.NewReader(payload))
	if err != nil {
		return domain.AccessTicket{}, fmt.Errorf("auth: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.AccessTicket{}, &domain.ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.AccessTicket{}, &domain.ConnectionError{Err: err}
	}

	var out loginResponse
	if err := xml.Unmarshal(raw, &out); err != nil {
		return domain.AccessTicket{}, fmt.Errorf("auth: decode response: %w", err)
	}
	if out.Body.Fault.String != "" {
		return domain.AccessTicket{}, fmt.Errorf("auth: %s", out.Body.Fault.String)
	}
	if out.Body.Return == "" {
		return domain.AccessTicket{}, fmt.Errorf("auth: unexpected response (status %d)", resp.StatusCode)
	}

	var ta ticketResponse
	if err := xml.Unmarshal([]byte(out.Body.Return), &ta); err != nil {
		return domain.AccessTicket{}, fmt.Errorf("auth: decode ticket: %w", err)
	}

	ticket := domain.AccessTicket{
		Token:      ta.Credentials.Token,
		Sign:       ta.Credentials.Sign,
		ObtainedAt: now,
	}
	if exp, err := time.Parse(time.RFC3339, ta.Header.ExpirationTime); err == nil {
		ticket.Expiry = domain.ExpiresAt(exp.UTC())
	} else {
		c.log.Warn("ticket without parseable expiry", zap.String("expiration_time", ta.Header.ExpirationTime))
	}
	return ticket, nil
}
