// Package request assembles authorization payloads from normalized
// invoice fields, enforcing the authority's structural preconditions.
package request

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotefact/lotefact/internal/arca/domain"
	"github.com/lotefact/lotefact/internal/tax"
)

// ValidationError names the first precondition an invoice violated.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string { return "invalid_invoice: " + e.Field }

func invalid(field string) error { return &ValidationError{Field: field} }

// Invoice is the normalized input to Build. Amounts are the invoice's own
// reported figures; Items, when present, drive the per-rate VAT breakdown.
type Invoice struct {
	DocType     int
	PointOfSale int
	Number      int64
	Concept     int

	EmissionDate time.Time

	ReceiverDocType   int
	ReceiverDocNumber int64
	FiscalCondition   int

	Net        decimal.Decimal
	Tax        decimal.Decimal
	Total      decimal.Decimal
	Exempt     decimal.Decimal
	NonTaxable decimal.Decimal
	OtherTaxes decimal.Decimal

	Currency     string
	CurrencyRate decimal.Decimal

	ServiceFrom time.Time
	ServiceTo   time.Time
	PaymentDue  time.Time

	Items      []tax.Item
	Associated *domain.AssociatedDoc
}

// Build validates inv and produces the single-invoice authorization
// payload. Exempt document types are normalized to zero tax before the
// VAT breakdown is computed.
func Build(inv Invoice) (*domain.AuthorizationRequest, error) {
	switch {
	case inv.DocType == 0:
		return nil, invalid("doc_type")
	case inv.PointOfSale == 0:
		return nil, invalid("point_of_sale")
	case inv.Number == 0:
		return nil, invalid("number")
	case inv.Concept == 0:
		return nil, invalid("concept")
	case inv.EmissionDate.IsZero():
		return nil, invalid("emission_date")
	case inv.ReceiverDocType == 0:
		return nil, invalid("receiver_doc_type")
	case inv.ReceiverDocNumber == 0 && inv.ReceiverDocType != domain.ReceiverDocFinal:
		return nil, invalid("receiver_doc_number")
	case inv.Total.IsZero():
		return nil, invalid("total")
	case inv.Net.IsZero() && inv.Exempt.IsZero() && inv.NonTaxable.IsZero():
		return nil, invalid("net")
	case inv.FiscalCondition == 0:
		return nil, invalid("fiscal_condition")
	}

	if domain.ConceptRequiresPeriod(inv.Concept) {
		switch {
		case inv.ServiceFrom.IsZero():
			return nil, invalid("service_from")
		case inv.ServiceTo.IsZero():
			return nil, invalid("service_to")
		case inv.PaymentDue.IsZero():
			return nil, invalid("payment_due")
		}
	}

	if domain.IsNote(inv.DocType) && inv.Associated == nil {
		return nil, invalid("associated_doc")
	}

	amounts := tax.NormalizeExempt(inv.DocType, tax.Amounts{
		Net:   inv.Net,
		Tax:   inv.Tax,
		Total: inv.Total,
	})

	// The authority rejects zero-amount alícuota entries, so an invoice
	// that reports no VAT sends no breakdown at all.
	var lines []domain.VATLine
	if !domain.IsExempt(inv.DocType) && amounts.Tax.Round(2).IsPositive() {
		lines = tax.Reconcile(inv.Items, amounts.Net, amounts.Tax)
	}

	currency := inv.Currency
	if currency == "" {
		currency = domain.CurrencyPeso
	}
	rate := inv.CurrencyRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}

	req := &domain.AuthorizationRequest{
		PointOfSale:     inv.PointOfSale,
		DocType:         inv.DocType,
		Concept:         inv.Concept,
		ReceiverDocType: inv.ReceiverDocType,
		ReceiverDocNro:  inv.ReceiverDocNumber,
		Number:          inv.Number,
		EmissionDate:    inv.EmissionDate,
		Total:           amounts.Total.Round(2),
		NonTaxable:      inv.NonTaxable.Round(2),
		Net:             amounts.Net.Round(2),
		Exempt:          inv.Exempt.Round(2),
		OtherTaxes:      inv.OtherTaxes.Round(2),
		VATTotal:        amounts.Tax.Round(2),
		Currency:        currency,
		CurrencyRate:    rate,
		VAT:             lines,
		FiscalCondition: inv.FiscalCondition,
	}

	if domain.ConceptRequiresPeriod(inv.Concept) {
		req.ServiceFrom = inv.ServiceFrom
		req.ServiceTo = inv.ServiceTo
		req.PaymentDue = inv.PaymentDue
	}
	if inv.Associated != nil {
		req.AssociatedDocs = []domain.AssociatedDoc{*inv.Associated}
	}
	return req, nil
}
