package domain

import "github.com/shopspring/decimal"

// Invoice document types (CbteTipo).
const (
	DocFacturaA     = 1
	DocNotaDebitoA  = 2
	DocNotaCreditoA = 3
	DocFacturaB     = 6
	DocNotaDebitoB  = 7
	DocNotaCreditoB = 8
	DocFacturaC     = 11
	DocNotaDebitoC  = 12
	DocNotaCreditoC = 13
	DocFacturaM     = 51
	DocNotaDebitoM  = 52
	DocNotaCreditoM = 53
)

// noteDocTypes are credit and debit notes, which must reference the
// invoice they amend.
var noteDocTypes = map[int]struct{}{
	DocNotaDebitoA: {}, DocNotaCreditoA: {},
	DocNotaDebitoB: {}, DocNotaCreditoB: {},
	DocNotaDebitoC: {}, DocNotaCreditoC: {},
	DocNotaDebitoM: {}, DocNotaCreditoM: {},
}

// exemptDocTypes are type C documents, which carry no VAT breakdown.
var exemptDocTypes = map[int]struct{}{
	DocFacturaC: {}, DocNotaDebitoC: {}, DocNotaCreditoC: {},
}

// IsNote reports whether the document type requires an associated invoice.
func IsNote(docType int) bool {
	_, ok := noteDocTypes[docType]
	return ok
}

// IsExempt reports whether the document type is VAT exempt.
func IsExempt(docType int) bool {
	_, ok := exemptDocTypes[docType]
	return ok
}

// Concepts (Concepto).
const (
	ConceptProducts            = 1
	ConceptServices            = 2
	ConceptProductsAndServices = 3
)

// ConceptRequiresPeriod reports whether the concept obliges service period
// and payment due dates.
func ConceptRequiresPeriod(concept int) bool {
	return concept == ConceptServices || concept == ConceptProductsAndServices
}

// Receiver identity document types (DocTipo).
const (
	ReceiverDocCUIT  = 80
	ReceiverDocCUIL  = 86
	ReceiverDocDNI   = 96
	ReceiverDocFinal = 99
)

// Receiver fiscal conditions (CondicionIVAReceptorId).
const (
	FiscalResponsableInscripto = 1
	FiscalExento               = 4
	FiscalConsumidorFinal      = 5
	FiscalMonotributo          = 6
)

// VAT rate identifiers (AlicIva Id) and their percentages.
const (
	RateZero         = 3
	RateTenAndHalf   = 4
	RateTwentyOne    = 5
	RateTwentySeven  = 6
	RateFive         = 8
	RateTwoAndHalf   = 9
	DefaultVATRateID = RateTwentyOne
)

var vatRates = map[int]decimal.Decimal{
	RateZero:        decimal.Zero,
	RateTenAndHalf:  decimal.RequireFromString("10.5"),
	RateTwentyOne:   decimal.RequireFromString("21"),
	RateTwentySeven: decimal.RequireFromString("27"),
	RateFive:        decimal.RequireFromString("5"),
	RateTwoAndHalf:  decimal.RequireFromString("2.5"),
}

// VATRate returns the percentage for a rate id.
func VATRate(id int) (decimal.Decimal, bool) {
	r, ok := vatRates[id]
	return r, ok
}

// Currencies (MonId).
const (
	CurrencyPeso   = "PES"
	CurrencyDollar = "DOL"
)
