package recon

import (
	"github.com/shopspring/decimal"
)

// Amount tolerance for a primary match: 1% of the invoice amount, capped
// at 500 minor units ($5.00-equivalent), whichever is less.
var (
	tolerancePercent  = decimal.NewFromFloat(0.01)
	toleranceCapMinor = decimal.NewFromInt(500)

	confidencePrimary = decimal.NewFromInt(1)
	confidencePartial = decimal.NewFromFloat(0.5)
)

// EvaluateMatch compares an event with a candidate counterpart and returns
// the match outcome. Pure function: no I/O, no side effects, safe to call
// concurrently without synchronization.
//
// Reference matching is mandatory and exact. Amounts are compared with the
// per-pair tolerance; currency equality is the counterpart lookup's
// responsibility and is not re-checked here.
func EvaluateMatch(event, counterpart *BusinessEvent) MatchResult {
	noMatch := MatchResult{Type: MatchTypeNone, Confidence: decimal.Zero}

	if event == nil || counterpart == nil {
		return noMatch
	}

	invoice, payment := event, counterpart
	if !event.Kind.IsInvoice() {
		invoice, payment = counterpart, event
	}

	invoiceRef := invoice.Metadata.InvoiceNumber
	paymentRef := payment.Metadata.PaymentReference
	if invoiceRef == "" || paymentRef == "" || invoiceRef != paymentRef {
		return noMatch
	}

	diff := invoice.AmountMinor - payment.AmountMinor
	if diff < 0 {
		diff = -diff
	}

	tolerance := decimal.NewFromInt(invoice.AmountMinor).Mul(tolerancePercent)
	if tolerance.GreaterThan(toleranceCapMinor) {
		tolerance = toleranceCapMinor
	}

	if decimal.NewFromInt(diff).LessThanOrEqual(tolerance) {
		return MatchResult{
			Type:       MatchTypePrimary,
			Confidence: confidencePrimary,
			InvoiceID:  invoice.ID,
			PaymentID:  payment.ID,
		}
	}

	return MatchResult{
		Type:       MatchTypePartial,
		Confidence: confidencePartial,
		InvoiceID:  invoice.ID,
		PaymentID:  payment.ID,
		Discrepancy: &Discrepancy{
			Type:          DiscrepancyAmountMismatch,
			InvoiceAmount: invoice.AmountMinor,
			PaymentAmount: payment.AmountMinor,
			Difference:    diff,
		},
	}
}
