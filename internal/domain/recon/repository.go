package recon

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrLockUnavailable signals that a row lock is currently held by another
// reconciliation path. It is expected and recoverable: callers skip the
// attempt and let the next trigger or sweep retry. It must never be
// reported as a failure.
var ErrLockUnavailable = errors.New("event row lock unavailable")

// ErrNotEligible signals that an event exists but may not be reconciled:
// wrong state, unsupported kind, or already matched. For sweep paths this
// is a benign skip; for on-demand triggers it surfaces to the caller.
var ErrNotEligible = errors.New("event not eligible for reconciliation")

// EventRepository is the engine's typed view of the durable event store.
// All mutating operations are expected to run inside a caller-owned
// transaction; implementations derive a transaction-scoped copy via WithTx.
type EventRepository interface {
	// FindByID fetches a single event; returns (nil, nil) when absent
	FindByID(ctx context.Context, id uuid.UUID) (*BusinessEvent, error)

	// LockByID fetches a single event taking a non-blocking row lock.
	// Returns ErrLockUnavailable when the row is locked elsewhere.
	LockByID(ctx context.Context, id uuid.UUID) (*BusinessEvent, error)

	// FindCounterpart returns the oldest eligible opposite-side event whose
	// reference key equals reference, pre-filtered on state and currency and
	// excluding events that already carry a match id. Oldest-first is the
	// deterministic tie-break: first in, first matched.
	FindCounterpart(ctx context.Context, kind EventKind, reference string, state ProcessingState, currency string) (*BusinessEvent, error)

	// LockAndFetchBatch selects up to limit eligible MAPPED events oldest
	// first, taking non-blocking row locks on all of them in one statement.
	// Returns ErrLockUnavailable if any required lock is held elsewhere.
	LockAndFetchBatch(ctx context.Context, limit int) ([]*BusinessEvent, error)

	// ReconcilePair transitions both members of a matched pair to RECONCILED,
	// cross-stamping each with the other's id and appending a reconciliation
	// note. Both updates commit together or not at all.
	ReconcilePair(ctx context.Context, eventID, counterpartID uuid.UUID, match MatchResult) error

	// FlagPairForReview is the partial-match twin of ReconcilePair with
	// target state FLAGGED_FOR_REVIEW on both members.
	FlagPairForReview(ctx context.Context, eventID, counterpartID uuid.UUID, match MatchResult) error

	// RecordAttempt stamps reconciliation_attempted_at after a NO_MATCH
	// outcome. State is left untouched so the event stays retryable.
	RecordAttempt(ctx context.Context, eventID uuid.UUID, at time.Time) error
}

// AuditLogRepository persists and queries append-only audit entries
type AuditLogRepository interface {
	Append(ctx context.Context, entry *AuditLogEntry) error
	FindByEntityID(ctx context.Context, entityID uuid.UUID, limit int) ([]AuditLogEntry, error)
	FindByAction(ctx context.Context, action AuditAction, limit int) ([]AuditLogEntry, error)
}

// TransactionManager runs fn inside a single database transaction, handing it
// transaction-scoped repositories. Row locks taken through those repositories
// are held until fn returns; an error rolls back every write fn made.
type TransactionManager interface {
	WithinTransaction(ctx context.Context, fn func(events EventRepository, audits AuditLogRepository) error) error
}
