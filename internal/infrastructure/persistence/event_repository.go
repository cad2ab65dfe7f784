package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/finflow/reconciler/internal/domain/recon"
	"github.com/finflow/reconciler/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// pgLockNotAvailable is the Postgres error code raised by NOWAIT locking
// when another transaction already holds the row lock.
const pgLockNotAvailable = "55P03"

// reconcilableKinds bounds batch selection to the kinds the engine pairs
var reconcilableKinds = []recon.EventKind{
	recon.EventKindInvoiceReceived,
	recon.EventKindInvoiceSent,
	recon.EventKindPaymentSent,
}

// GormEventRepository implements recon.EventRepository using GORM
type GormEventRepository struct {
	db *gorm.DB
}

// NewGormEventRepository creates a new GormEventRepository
func NewGormEventRepository(db *gorm.DB) *GormEventRepository {
	return &GormEventRepository{db: db}
}

// WithTx returns a repository copy bound to the given transaction
func (r *GormEventRepository) WithTx(tx *gorm.DB) *GormEventRepository {
	return &GormEventRepository{db: tx}
}

// FindByID fetches an event without locking; returns (nil, nil) when absent
func (r *GormEventRepository) FindByID(ctx context.Context, id uuid.UUID) (*recon.BusinessEvent, error) {
	var event recon.BusinessEvent
	if err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// LockByID fetches an event taking a FOR UPDATE NOWAIT row lock.
// Returns recon.ErrLockUnavailable when the lock is held elsewhere and
// (nil, nil) when the event does not exist.
func (r *GormEventRepository) LockByID(ctx context.Context, id uuid.UUID) (*recon.BusinessEvent, error) {
	var event recon.BusinessEvent
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"}).
		First(&event, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, mapLockError(err)
	}
	return &event, nil
}

// FindCounterpart returns the oldest unmatched event of the given kind whose
// metadata reference key equals reference, constrained to the given state and
// currency. Returns (nil, nil) when no candidate exists.
func (r *GormEventRepository) FindCounterpart(ctx context.Context, kind recon.EventKind, reference string, state recon.ProcessingState, currency string) (*recon.BusinessEvent, error) {
	refKey := "payment_reference"
	if kind.IsInvoice() {
		refKey = "invoice_number"
	}

	var event recon.BusinessEvent
	err := r.db.WithContext(ctx).
		Where("event_kind = ?", kind).
		Where("processing_state = ?", state).
		Where("currency = ?", currency).
		Where("reconciliation_match_id IS NULL").
		Where(datatypes.JSONQuery("metadata").Equals(reference, refKey)).
		Order("recorded_at ASC").
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// LockAndFetchBatch selects up to limit unmatched MAPPED events oldest first,
// locking every selected row with FOR UPDATE NOWAIT in a single statement.
func (r *GormEventRepository) LockAndFetchBatch(ctx context.Context, limit int) ([]*recon.BusinessEvent, error) {
	var events []*recon.BusinessEvent
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"}).
		Where("processing_state = ?", recon.StateMapped).
		Where("reconciliation_match_id IS NULL").
		Where("event_kind IN ?", reconcilableKinds).
		Order("recorded_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, mapLockError(err)
	}
	return events, nil
}

// ReconcilePair transitions both members of a matched pair to RECONCILED
func (r *GormEventRepository) ReconcilePair(ctx context.Context, eventID, counterpartID uuid.UUID, match recon.MatchResult) error {
	return r.updatePair(ctx, eventID, counterpartID, match, recon.StateReconciled)
}

// FlagPairForReview transitions both members of a partial match to FLAGGED_FOR_REVIEW
func (r *GormEventRepository) FlagPairForReview(ctx context.Context, eventID, counterpartID uuid.UUID, match recon.MatchResult) error {
	return r.updatePair(ctx, eventID, counterpartID, match, recon.StateFlaggedForReview)
}

// updatePair cross-stamps both rows with the same timestamp and match note.
// Callers run this inside a transaction, so a failure on either row rolls
// back both.
func (r *GormEventRepository) updatePair(ctx context.Context, eventID, counterpartID uuid.UUID, match recon.MatchResult, target recon.ProcessingState) error {
	now := time.Now()
	if err := r.stampEvent(ctx, eventID, counterpartID, match, target, now); err != nil {
		return err
	}
	return r.stampEvent(ctx, counterpartID, eventID, match, target, now)
}

// stampEvent locks one row, moves it to the target state, and appends a
// reconciliation note recording the outcome.
func (r *GormEventRepository) stampEvent(ctx context.Context, id, matchedID uuid.UUID, match recon.MatchResult, target recon.ProcessingState, now time.Time) error {
	var event recon.BusinessEvent
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"}).
		First(&event, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return shared.ErrNotFound
		}
		return mapLockError(err)
	}

	// The counterpart lookup takes no lock, so another transaction may have
	// consumed this row in the meantime. A row that is no longer eligible
	// must not be re-stamped; abort and roll the whole pair update back.
	if !event.IsEligible() {
		return shared.ErrConcurrencyConflict
	}

	event.State = target
	event.ReconciliationMatchID = &matchedID
	event.ReconciliationAttemptedAt = &now
	event.Metadata.Notes = append(event.Metadata.Notes, recon.ReconciliationNote{
		MatchType:   match.Type,
		Confidence:  match.Confidence.String(),
		MatchedID:   matchedID.String(),
		Discrepancy: match.Discrepancy,
		RecordedAt:  now,
	})

	return r.db.WithContext(ctx).Save(&event).Error
}

// RecordAttempt stamps reconciliation_attempted_at without touching state
func (r *GormEventRepository) RecordAttempt(ctx context.Context, eventID uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&recon.BusinessEvent{}).
		Where("id = ?", eventID).
		Update("reconciliation_attempted_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// mapLockError translates the Postgres lock_not_available error into the
// domain sentinel so callers can treat it as a skip, not a failure.
func mapLockError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return recon.ErrLockUnavailable
	}
	return err
}

// Ensure GormEventRepository implements EventRepository
var _ recon.EventRepository = (*GormEventRepository)(nil)
