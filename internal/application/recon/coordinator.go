package recon

import (
	"context"
	"time"

	"github.com/finflow/reconciler/internal/domain/recon"
	"github.com/finflow/reconciler/internal/domain/shared"
	"go.uber.org/zap"
)

// Coordinator drives one reconciliation attempt for one event. The caller
// owns the transaction and the row lock on the event; the repositories it
// hands in must be scoped to that transaction so the pair update, the
// attempt stamp, and the audit entry commit or roll back as one unit.
type Coordinator struct {
	events recon.EventRepository
	audits recon.AuditLogRepository
	logger *zap.Logger
}

// NewCoordinator creates a new Coordinator
func NewCoordinator(events recon.EventRepository, audits recon.AuditLogRepository, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		events: events,
		audits: audits,
		logger: logger,
	}
}

// Reconcile looks up the counterpart for a locked, eligible event, evaluates
// the match, and applies the outcome: both rows reconciled, both flagged for
// review, or an attempt stamp when nothing matched. Every outcome appends
// one audit entry for the triggering event.
//
// Returns recon.ErrNotEligible without touching the store when the event is
// terminal, already matched, or of an unsupported kind. Re-running on an
// already-reconciled event is therefore a safe no-op.
func (c *Coordinator) Reconcile(ctx context.Context, event *recon.BusinessEvent) (recon.MatchResult, error) {
	if event == nil {
		return recon.MatchResult{}, shared.ErrInvalidInput
	}
	if !event.IsEligible() {
		return recon.MatchResult{}, recon.ErrNotEligible
	}

	var counterpart *recon.BusinessEvent
	if ref := event.Reference(); ref != "" {
		found, err := c.events.FindCounterpart(ctx, event.Kind.CounterpartKind(), ref, recon.StateMapped, event.Currency)
		if err != nil {
			return recon.MatchResult{}, err
		}
		counterpart = found
	}

	match := recon.EvaluateMatch(event, counterpart)
	if err := match.Validate(); err != nil {
		return match, err
	}

	var action recon.AuditAction
	switch match.Type {
	case recon.MatchTypePrimary:
		if err := c.events.ReconcilePair(ctx, event.ID, match.CounterpartOf(event.ID), match); err != nil {
			return match, err
		}
		action = recon.AuditActionReconcileSuccess
		c.logger.Info("event reconciled",
			zap.String("event_id", event.ID.String()),
			zap.String("counterpart_id", match.CounterpartOf(event.ID).String()),
			zap.String("confidence", match.Confidence.String()),
		)

	case recon.MatchTypePartial:
		if err := c.events.FlagPairForReview(ctx, event.ID, match.CounterpartOf(event.ID), match); err != nil {
			return match, err
		}
		action = recon.AuditActionReconcilePartial
		c.logger.Warn("event flagged for review",
			zap.String("event_id", event.ID.String()),
			zap.String("counterpart_id", match.CounterpartOf(event.ID).String()),
			zap.Int64("difference_minor", match.Discrepancy.Difference),
		)

	default:
		if err := c.events.RecordAttempt(ctx, event.ID, time.Now()); err != nil {
			return match, err
		}
		action = recon.AuditActionReconcileNoMatch
		c.logger.Debug("no counterpart found",
			zap.String("event_id", event.ID.String()),
			zap.String("reference", event.Reference()),
		)
	}

	if err := c.audits.Append(ctx, recon.NewAuditEntry(action, event.ID, match)); err != nil {
		return match, err
	}
	return match, nil
}
