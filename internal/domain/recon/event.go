package recon

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies which side of a pairing a business event sits on.
// The engine only acts on these three kinds; everything else is ignored
// by eligibility checks.
type EventKind string

const (
	EventKindInvoiceReceived EventKind = "INVOICE_RECEIVED"
	EventKindInvoiceSent     EventKind = "INVOICE_SENT"
	EventKindPaymentSent     EventKind = "PAYMENT_SENT"
)

// IsValid checks if the kind is one the engine reconciles
func (k EventKind) IsValid() bool {
	switch k {
	case EventKindInvoiceReceived, EventKindInvoiceSent, EventKindPaymentSent:
		return true
	}
	return false
}

// String returns the string representation of EventKind
func (k EventKind) String() string {
	return string(k)
}

// IsInvoice returns true for invoice-side kinds
func (k EventKind) IsInvoice() bool {
	return k == EventKindInvoiceReceived || k == EventKindInvoiceSent
}

// CounterpartKind returns the kind the opposite side of the pair must have.
// Invoices (received or sent) pair with sent payments. Payments search only
// received invoices, so an INVOICE_SENT/PAYMENT_SENT pair is found from the
// invoice side; a payment-side trigger on such a pair records NO_MATCH and
// stays retryable.
func (k EventKind) CounterpartKind() EventKind {
	if k.IsInvoice() {
		return EventKindPaymentSent
	}
	return EventKindInvoiceReceived
}

// ProcessingState represents where an event sits in its lifecycle
type ProcessingState string

const (
	StatePending          ProcessingState = "PENDING"
	StateMapped           ProcessingState = "MAPPED"
	StateReconciled       ProcessingState = "RECONCILED"
	StateFlaggedForReview ProcessingState = "FLAGGED_FOR_REVIEW"
)

// IsValid checks if the state is a valid ProcessingState
func (s ProcessingState) IsValid() bool {
	switch s {
	case StatePending, StateMapped, StateReconciled, StateFlaggedForReview:
		return true
	}
	return false
}

// String returns the string representation of ProcessingState
func (s ProcessingState) String() string {
	return string(s)
}

// IsTerminal returns true once the engine may no longer touch the event
func (s ProcessingState) IsTerminal() bool {
	return s == StateReconciled || s == StateFlaggedForReview
}

// ReconciliationNote is one audit annotation appended to an event's metadata
// on every reconciliation outcome. Notes are append-only.
type ReconciliationNote struct {
	MatchType   MatchType    `json:"match_type"`
	Confidence  string       `json:"confidence"`
	MatchedID   string       `json:"matched_event_id,omitempty"`
	Discrepancy *Discrepancy `json:"discrepancy,omitempty"`
	RecordedAt  time.Time    `json:"recorded_at"`
}

// EventMetadata is the JSONB metadata column of a business event. The
// reference keys (invoice_number / payment_reference) are the pairing keys
// carried by upstream extraction; Extra preserves whatever else the
// extractor produced so round-trips never drop fields.
type EventMetadata struct {
	InvoiceNumber    string               `json:"invoice_number,omitempty"`
	PaymentReference string               `json:"payment_reference,omitempty"`
	Notes            []ReconciliationNote `json:"reconciliation_notes,omitempty"`
	Extra            map[string]any       `json:"extra,omitempty"`
}

// Value implements driver.Valuer for JSONB storage
func (m EventMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB retrieval
func (m *EventMetadata) Scan(value any) error {
	if value == nil {
		*m = EventMetadata{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for EventMetadata")
	}
	return json.Unmarshal(data, m)
}

// BusinessEvent represents one financial occurrence: an invoice received or
// sent, or a payment sent. Events are created upstream in state MAPPED and
// become immutable to this engine once reconciled or flagged.
type BusinessEvent struct {
	ID                        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SourceSystem              string          `gorm:"type:varchar(100)" json:"source_system"`
	SourceID                  string          `gorm:"type:varchar(255)" json:"source_id"`
	Kind                      EventKind       `gorm:"column:event_kind;type:varchar(50);index" json:"event_kind"`
	AmountMinor               int64           `gorm:"not null" json:"amount_minor"`
	Currency                  string          `gorm:"type:varchar(3);not null" json:"currency"`
	State                     ProcessingState `gorm:"column:processing_state;type:varchar(50);index" json:"processing_state"`
	ReconciliationMatchID     *uuid.UUID      `gorm:"type:uuid" json:"reconciliation_match_id,omitempty"`
	ReconciliationAttemptedAt *time.Time      `json:"reconciliation_attempted_at,omitempty"`
	Metadata                  EventMetadata   `gorm:"type:jsonb" json:"metadata"`
	DedupeKey                 string          `gorm:"type:varchar(255);uniqueIndex" json:"dedupe_key"`
	OccurredAt                time.Time       `json:"occurred_at"`
	RecordedAt                time.Time       `gorm:"index" json:"recorded_at"`
	CreatedAt                 time.Time       `json:"created_at"`
	UpdatedAt                 time.Time       `json:"updated_at"`
}

// TableName specifies the database table name
func (BusinessEvent) TableName() string {
	return "business_events"
}

// Reference returns the pairing key for the event's side: invoice number
// for invoice kinds, payment reference for payments. Empty means the
// upstream extractor produced no usable key and the event cannot match.
func (e *BusinessEvent) Reference() string {
	if e.Kind.IsInvoice() {
		return e.Metadata.InvoiceNumber
	}
	return e.Metadata.PaymentReference
}

// IsEligible reports whether the engine may attempt reconciliation: the
// event must be MAPPED, of a supported kind, and never matched before.
// The match-id check is the idempotency guard that makes a second attempt
// a no-op even if a row lock was released between two trigger paths.
func (e *BusinessEvent) IsEligible() bool {
	return e.State == StateMapped && e.Kind.IsValid() && e.ReconciliationMatchID == nil
}
