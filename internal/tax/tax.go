// Package tax computes the per-rate VAT breakdown submitted with an
// invoice and reconciles it against the invoice's reported tax total.
package tax

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/lotefact/lotefact/internal/arca/domain"
)

// Item is one invoice line item as seen by reconciliation: its VAT rate
// identifier and its taxable subtotal.
type Item struct {
	RateID   int
	Subtotal decimal.Decimal
}

// Reconcile groups item subtotals by VAT rate and returns tax lines whose
// amounts sum exactly to reportedTax. Bases accumulate unrounded and each
// group total is rounded to 2 decimals; per-rate tax is rounded to 2
// decimals; any residual rounding difference is added to the highest
// rate-id line so the emitted detail matches the reported total to the
// cent.
//
// With no items and a zero reported tax it returns nil (no VAT breakdown).
// With no items and a positive reported tax it synthesizes a single
// default-rate line from the aggregate net, for aggregate-only
// submissions.
func Reconcile(items []Item, net, reportedTax decimal.Decimal) []domain.VATLine {
	reportedTax = reportedTax.Round(2)

	if len(items) == 0 {
		if reportedTax.IsZero() {
			return nil
		}
		return []domain.VATLine{{
			RateID: domain.DefaultVATRateID,
			Base:   net.Round(2),
			Amount: reportedTax,
		}}
	}

	bases := make(map[int]decimal.Decimal)
	for _, it := range items {
		bases[it.RateID] = bases[it.RateID].Add(it.Subtotal)
	}

	ids := make([]int, 0, len(bases))
	for id := range bases {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	lines := make([]domain.VATLine, 0, len(ids))
	computed := decimal.Zero
	for _, id := range ids {
		base := bases[id].Round(2)
		rate, ok := domain.VATRate(id)
		if !ok {
			rate = decimal.Zero
		}
		amount := base.Mul(rate).Div(decimal.NewFromInt(100)).Round(2)
		computed = computed.Add(amount)
		lines = append(lines, domain.VATLine{RateID: id, Base: base, Amount: amount})
	}

	if diff := reportedTax.Sub(computed).Round(2); !diff.IsZero() {
		last := len(lines) - 1
		lines[last].Amount = lines[last].Amount.Add(diff)
	}
	return lines
}

// Amounts are the three reconciled totals of an invoice.
type Amounts struct {
	Net   decimal.Decimal
	Tax   decimal.Decimal
	Total decimal.Decimal
}

// NormalizeExempt zeroes tax for VAT-exempt document types; total collapses
// to the net amount regardless of the input tax and total. Other document
// types pass through unchanged.
func NormalizeExempt(docType int, a Amounts) Amounts {
	if !domain.IsExempt(docType) {
		return a
	}
	return Amounts{Net: a.Net, Tax: decimal.Zero, Total: a.Net}
}
