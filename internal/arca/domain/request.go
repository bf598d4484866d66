package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VATLine is one per-rate VAT subtotal inside an authorization request.
type VATLine struct {
	RateID int             `json:"Id"`
	Base   decimal.Decimal `json:"BaseImp"`
	Amount decimal.Decimal `json:"Importe"`
}

// AssociatedDoc references the invoice a credit or debit note amends.
type AssociatedDoc struct {
	DocType     int   `json:"Tipo"`
	PointOfSale int   `json:"PtoVta"`
	Number      int64 `json:"Nro"`
}

// AuthorizationRequest is the single-invoice payload submitted to the
// invoicing service. Field tags follow the authority's wire names.
type AuthorizationRequest struct {
	PointOfSale int `json:"PtoVta"`
	DocType     int `json:"CbteTipo"`

	Concept         int             `json:"Concepto"`
	ReceiverDocType int             `json:"DocTipo"`
	ReceiverDocNro  int64           `json:"DocNro"`
	Number          int64           `json:"CbteDesde"`
	EmissionDate    time.Time       `json:"-"`
	Total           decimal.Decimal `json:"ImpTotal"`
	NonTaxable      decimal.Decimal `json:"ImpTotConc"`
	Net             decimal.Decimal `json:"ImpNeto"`
	Exempt          decimal.Decimal `json:"ImpOpEx"`
	OtherTaxes      decimal.Decimal `json:"ImpTrib"`
	VATTotal        decimal.Decimal `json:"ImpIVA"`
	Currency        string          `json:"MonId"`
	CurrencyRate    decimal.Decimal `json:"MonCotiz"`

	ServiceFrom time.Time `json:"-"`
	ServiceTo   time.Time `json:"-"`
	PaymentDue  time.Time `json:"-"`

	VAT             []VATLine       `json:"Iva,omitempty"`
	AssociatedDocs  []AssociatedDoc `json:"CbtesAsoc,omitempty"`
	FiscalCondition int             `json:"CondicionIVAReceptorId"`
}

// WireDate renders a date in the authority's compact format.
func WireDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("20060102")
}
