package recon

import (
	"github.com/finflow/reconciler/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MatchType classifies the outcome of evaluating an event against a
// candidate counterpart.
type MatchType string

const (
	// MatchTypePrimary is a reference match within amount tolerance
	MatchTypePrimary MatchType = "PRIMARY_MATCH"
	// MatchTypePartial is a reference match with an amount discrepancy
	MatchTypePartial MatchType = "PARTIAL_MATCH"
	// MatchTypeNone means no counterpart or the references disagree
	MatchTypeNone MatchType = "NO_MATCH"
)

// IsValid checks if the match type is valid
func (t MatchType) IsValid() bool {
	switch t {
	case MatchTypePrimary, MatchTypePartial, MatchTypeNone:
		return true
	}
	return false
}

// String returns the string representation of MatchType
func (t MatchType) String() string {
	return string(t)
}

// DiscrepancyType classifies a structured mismatch on an otherwise
// reference-matched pair.
type DiscrepancyType string

const (
	DiscrepancyAmountMismatch DiscrepancyType = "AMOUNT_MISMATCH"
)

// Discrepancy describes an amount mismatch between a reference-matched
// invoice and payment. Difference is always non-negative.
type Discrepancy struct {
	Type          DiscrepancyType `json:"type"`
	InvoiceAmount int64           `json:"invoice_amount"`
	PaymentAmount int64           `json:"payment_amount"`
	Difference    int64           `json:"difference"`
}

// MatchResult is the Matcher's pure output. InvoiceID and PaymentID are set
// whenever a counterpart exists (primary and partial matches); Discrepancy
// is only present on partial matches.
type MatchResult struct {
	Type        MatchType       `json:"type"`
	Confidence  decimal.Decimal `json:"confidence"`
	InvoiceID   uuid.UUID       `json:"invoice_id,omitempty"`
	PaymentID   uuid.UUID       `json:"payment_id,omitempty"`
	Discrepancy *Discrepancy    `json:"discrepancy,omitempty"`
}

// Validate checks the result against the matching invariants. A violation
// here means corrupted matcher output and the attempt must abort rather
// than write coerced data.
func (r MatchResult) Validate() error {
	if !r.Type.IsValid() {
		return shared.NewDomainError("INVARIANT_VIOLATION", "unknown match type "+string(r.Type))
	}
	if r.Type == MatchTypePrimary && r.Discrepancy != nil {
		return shared.NewDomainError("INVARIANT_VIOLATION", "discrepancy reported alongside a primary match")
	}
	if r.Type != MatchTypeNone {
		if r.InvoiceID == uuid.Nil || r.PaymentID == uuid.Nil {
			return shared.NewDomainError("INVARIANT_VIOLATION", "match result is missing a pair member id")
		}
	}
	if r.Discrepancy != nil && r.Discrepancy.Difference < 0 {
		return shared.NewDomainError("INVARIANT_VIOLATION", "discrepancy difference is negative")
	}
	return nil
}

// CounterpartOf returns the id of the pair member opposite to eventID
func (r MatchResult) CounterpartOf(eventID uuid.UUID) uuid.UUID {
	if r.InvoiceID == eventID {
		return r.PaymentID
	}
	return r.InvoiceID
}
