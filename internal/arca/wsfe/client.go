// Package wsfe implements the electronic invoicing service client: last
// authorized number, CAE solicitation and invoice lookup.
package wsfe

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lotefact/lotefact/internal/arca/domain"
)

const (
	endpointTesting    = "https://wswhomo.afip.gov.ar/wsfev1/service.asmx"
	endpointProduction = "https://servicios1.afip.gov.ar/wsfev1/service.asmx"

	actionNamespace = "http://ar.gov.afip.dif.FEV1/"
)

type Client struct {
	http    *http.Client
	tickets domain.TicketSource
	log     *zap.Logger
}

func NewClient(httpClient *http.Client, tickets domain.TicketSource, log *zap.Logger) *Client {
	return &Client{
		http:    httpClient,
		tickets: tickets,
		log:     log.Named("arca.wsfe"),
	}
}

func endpoint(env domain.Environment) string {
	if env == domain.EnvironmentProduction {
		return endpointProduction
	}
	return endpointTesting
}

type authHeader struct {
	Token string `xml:"ar:Token"`
	Sign  string `xml:"ar:Sign"`
	Cuit  string `xml:"ar:Cuit"`
}

type lastAuthorizedCall struct {
	XMLName  xml.Name   `xml:"ar:FECompUltimoAutorizado"`
	Auth     authHeader `xml:"ar:Auth"`
	PtoVta   int        `xml:"ar:PtoVta"`
	CbteTipo int        `xml:"ar:CbteTipo"`
}

type alicIVA struct {
	ID      int             `xml:"ar:Id"`
	BaseImp decimal.Decimal `xml:"ar:BaseImp"`
	Importe decimal.Decimal `xml:"ar:Importe"`
}

type cbteAsoc struct {
	Tipo   int   `xml:"ar:Tipo"`
	PtoVta int   `xml:"ar:PtoVta"`
	Nro    int64 `xml:"ar:Nro"`
}

type caeDetail struct {
	Concepto   int             `xml:"ar:Concepto"`
	DocTipo    int             `xml:"ar:DocTipo"`
	DocNro     int64           `xml:"ar:DocNro"`
	CbteDesde  int64           `xml:"ar:CbteDesde"`
	CbteHasta  int64           `xml:"ar:CbteHasta"`
	CbteFch    string          `xml:"ar:CbteFch"`
	ImpTotal   decimal.Decimal `xml:"ar:ImpTotal"`
	ImpTotConc decimal.Decimal `xml:"ar:ImpTotConc"`
	ImpNeto    decimal.Decimal `xml:"ar:ImpNeto"`
	ImpOpEx    decimal.Decimal `xml:"ar:ImpOpEx"`
	ImpTrib    decimal.Decimal `xml:"ar:ImpTrib"`
	ImpIVA     decimal.Decimal `xml:"ar:ImpIVA"`

	FchServDesde string `xml:"ar:FchServDesde,omitempty"`
	FchServHasta string `xml:"ar:FchServHasta,omitempty"`
	FchVtoPago   string `xml:"ar:FchVtoPago,omitempty"`

	MonID    string          `xml:"ar:MonId"`
	MonCotiz decimal.Decimal `xml:"ar:MonCotiz"`

	CbtesAsoc []cbteAsoc `xml:"ar:CbtesAsoc>ar:CbteAsoc,omitempty"`
	IVA       []alicIVA  `xml:"ar:Iva>ar:AlicIva,omitempty"`

	CondicionIVAReceptorID int `xml:"ar:CondicionIVAReceptorId"`
}

type caeSolicitarCall struct {
	XMLName xml.Name   `xml:"ar:FECAESolicitar"`
	Auth    authHeader `xml:"ar:Auth"`
	Req     struct {
		Cab struct {
			CantReg  int `xml:"ar:CantReg"`
			PtoVta   int `xml:"ar:PtoVta"`
			CbteTipo int `xml:"ar:CbteTipo"`
		} `xml:"ar:FeCabReq"`
		Det struct {
			Detail caeDetail `xml:"ar:FECAEDetRequest"`
		} `xml:"ar:FeDetReq"`
	} `xml:"ar:FeCAEReq"`
}

type compConsultarCall struct {
	XMLName xml.Name   `xml:"ar:FECompConsultar"`
	Auth    authHeader `xml:"ar:Auth"`
	Req     struct {
		CbteTipo int   `xml:"ar:CbteTipo"`
		CbteNro  int64 `xml:"ar:CbteNro"`
		PtoVta   int   `xml:"ar:PtoVta"`
	} `xml:"ar:FeCompConsultaReq"`
}

type envelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	NS      string   `xml:"xmlns:soapenv,attr"`
	AR      string   `xml:"xmlns:ar,attr"`
	Body    struct {
		Call any
	} `xml:"soapenv:Body"`
}

type wireError struct {
	Code int    `xml:"Code"`
	Msg  string `xml:"Msg"`
}

type wireEvent struct {
	Code int    `xml:"Code"`
	Msg  string `xml:"Msg"`
}

type lastAuthorizedResponse struct {
	Result struct {
		PtoVta   int         `xml:"PtoVta"`
		CbteTipo int         `xml:"CbteTipo"`
		CbteNro  int64       `xml:"CbteNro"`
		Errors   []wireError `xml:"Errors>Err"`
	} `xml:"Body>FECompUltimoAutorizadoResponse>FECompUltimoAutorizadoResult"`
}

type caeSolicitarResponse struct {
	Result struct {
		Cab struct {
			Resultado string `xml:"Resultado"`
		} `xml:"FeCabResp"`
		Det struct {
			Detail struct {
				Resultado     string      `xml:"Resultado"`
				CAE           string      `xml:"CAE"`
				CAEFchVto     string      `xml:"CAEFchVto"`
				Observaciones []wireEvent `xml:"Observaciones>Obs"`
			} `xml:"FECAEDetResponse"`
		} `xml:"FeDetResp"`
		Errors []wireError `xml:"Errors>Err"`
	} `xml:"Body>FECAESolicitarResponse>FECAESolicitarResult"`
}

type compConsultarResponse struct {
	Result struct {
		Get struct {
			CbteDesde       int64           `xml:"CbteDesde"`
			CbteFch         string          `xml:"CbteFch"`
			ImpTotal        decimal.Decimal `xml:"ImpTotal"`
			CodAutorizacion string          `xml:"CodAutorizacion"`
			FchVto          string          `xml:"FchVto"`
		} `xml:"ResultGet"`
		Errors []wireError `xml:"Errors>Err"`
	} `xml:"Body>FECompConsultarResponse>FECompConsultarResult"`
}

func (c *Client) call(ctx context.Context, creds domain.Credentials, action string, body any, out any) error {
	env := envelope{
		NS: "http://schemas.xmlsoap.org/soap/envelope/",
		AR: actionNamespace,
	}
	env.Body.Call = body

	payload, err := xml.Marshal(env)
	if err != nil {
		return fmt.Errorf("wsfe: encode %s: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(creds.Environment), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("wsfe: build %s: %w", action, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", actionNamespace+action)

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.ConnectionError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return domain.NewServiceError(resp.StatusCode, fmt.Sprintf("%s: http status %d", action, resp.StatusCode))
	}
	if err := xml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("wsfe: decode %s: %w", action, err)
	}
	return nil
}

func (c *Client) auth(ctx context.Context, creds domain.Credentials) (authHeader, error) {
	t, err := c.tickets.Obtain(ctx, creds, domain.ServiceInvoicing)
	if err != nil {
		return authHeader{}, err
	}
	return authHeader{Token: t.Token, Sign: t.Sign, Cuit: creds.TaxID}, nil
}

func serviceErr(errs []wireError, category string) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Msg)
	}
	return &domain.ServiceError{
		Code:     errs[0].Code,
		Message:  strings.Join(msgs, "; "),
		Category: category,
	}
}

func parseWireDate(s string) time.Time {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// LastAuthorized queries the last invoice number the authority granted for
// the point of sale and document type.
func (c *Client) LastAuthorized(ctx context.Context, creds domain.Credentials, pointOfSale, docType int) (domain.LastInvoice, error) {
	auth, err := c.auth(ctx, creds)
	if err != nil {
		return domain.LastInvoice{}, err
	}

	call := lastAuthorizedCall{Auth: auth, PtoVta: pointOfSale, CbteTipo: docType}
	var out lastAuthorizedResponse
	if err := c.call(ctx, creds, "FECompUltimoAutorizado", call, &out); err != nil {
		return domain.LastInvoice{}, err
	}
	if err := serviceErr(out.Result.Errors, domain.FailureService); err != nil {
		return domain.LastInvoice{}, err
	}
	return domain.LastInvoice{Number: out.Result.CbteNro}, nil
}

// Authorize submits a single-invoice CAE request.
func (c *Client) Authorize(ctx context.Context, creds domain.Credentials, r *domain.AuthorizationRequest) (domain.CAEResult, error) {
	auth, err := c.auth(ctx, creds)
	if err != nil {
		return domain.CAEResult{}, err
	}

	call := caeSolicitarCall{Auth: auth}
	call.Req.Cab.CantReg = 1
	call.Req.Cab.PtoVta = r.PointOfSale
	call.Req.Cab.CbteTipo = r.DocType
	call.Req.Det.Detail = caeDetail{
		Concepto:   r.Concept,
		DocTipo:    r.ReceiverDocType,
		DocNro:     r.ReceiverDocNro,
		CbteDesde:  r.Number,
		CbteHasta:  r.Number,
		CbteFch:    domain.WireDate(r.EmissionDate),
		ImpTotal:   r.Total,
		ImpTotConc: r.NonTaxable,
		ImpNeto:    r.Net,
		ImpOpEx:    r.Exempt,
		ImpTrib:    r.OtherTaxes,
		ImpIVA:     r.VATTotal,

		FchServDesde: domain.WireDate(r.ServiceFrom),
		FchServHasta: domain.WireDate(r.ServiceTo),
		FchVtoPago:   domain.WireDate(r.PaymentDue),

		MonID:    r.Currency,
		MonCotiz: r.CurrencyRate,

		CondicionIVAReceptorID: r.FiscalCondition,
	}
	for _, l := range r.VAT {
		call.Req.Det.Detail.IVA = append(call.Req.Det.Detail.IVA, alicIVA{
			ID: l.RateID, BaseImp: l.Base, Importe: l.Amount,
		})
	}
	for _, a := range r.AssociatedDocs {
		call.Req.Det.Detail.CbtesAsoc = append(call.Req.Det.Detail.CbtesAsoc, cbteAsoc{
			Tipo: a.DocType, PtoVta: a.PointOfSale, Nro: a.Number,
		})
	}

	var out caeSolicitarResponse
	if err := c.call(ctx, creds, "FECAESolicitar", call, &out); err != nil {
		return domain.CAEResult{}, err
	}
	if err := serviceErr(out.Result.Errors, domain.FailureValidation); err != nil {
		return domain.CAEResult{}, err
	}

	det := out.Result.Det.Detail
	if det.CAE == "" {
		msg := "request rejected without CAE"
		code := 0
		if len(det.Observaciones) > 0 {
			code = det.Observaciones[0].Code
			msgs := make([]string, 0, len(det.Observaciones))
			for _, o := range det.Observaciones {
				msgs = append(msgs, o.Msg)
			}
			msg = strings.Join(msgs, "; ")
		}
		return domain.CAEResult{}, domain.NewServiceError(code, msg)
	}

	result := domain.CAEResult{CAE: det.CAE, CAEDueDate: parseWireDate(det.CAEFchVto)}
	for _, o := range det.Observaciones {
		result.Observations = append(result.Observations, domain.Observation{Code: o.Code, Message: o.Msg})
	}
	return result, nil
}

// QueryInvoice fetches the authority-side record of an authorized invoice.
func (c *Client) QueryInvoice(ctx context.Context, creds domain.Credentials, pointOfSale, docType int, number int64) (domain.InvoiceSnapshot, error) {
	auth, err := c.auth(ctx, creds)
	if err != nil {
		return domain.InvoiceSnapshot{}, err
	}

	call := compConsultarCall{Auth: auth}
	call.Req.CbteTipo = docType
	call.Req.CbteNro = number
	call.Req.PtoVta = pointOfSale

	var out compConsultarResponse
	if err := c.call(ctx, creds, "FECompConsultar", call, &out); err != nil {
		return domain.InvoiceSnapshot{}, err
	}
	if err := serviceErr(out.Result.Errors, domain.FailureService); err != nil {
		// Code 602: no invoice on record for those parameters.
		var se *domain.ServiceError
		if errors.As(err, &se) && se.Code == 602 {
			return domain.InvoiceSnapshot{}, fmt.Errorf("%w: %s", domain.ErrNoLastInvoice, se.Message)
		}
		return domain.InvoiceSnapshot{}, err
	}

	get := out.Result.Get
	return domain.InvoiceSnapshot{
		Number:       get.CbteDesde,
		CAE:          get.CodAutorizacion,
		CAEDueDate:   parseWireDate(get.FchVto),
		EmissionDate: parseWireDate(get.CbteFch),
		Total:        get.ImpTotal,
	}, nil
}
