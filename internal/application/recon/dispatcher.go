package recon

import (
	"context"
	"errors"

	"github.com/finflow/reconciler/internal/domain/recon"
	"github.com/finflow/reconciler/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultBatchSize = 50

// Dispatcher owns the transaction boundaries around reconciliation: one
// transaction per on-demand trigger, one per sweep cycle. Lock contention
// is never an error here; whoever holds the lock is doing the same work.
type Dispatcher struct {
	tx        recon.TransactionManager
	logger    *zap.Logger
	batchSize int
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithBatchSize sets the maximum number of events one sweep cycle processes
func WithBatchSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(tx recon.TransactionManager, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		tx:        tx,
		logger:    logger,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnEventReady runs one reconciliation attempt for a single event in its own
// transaction, locking the row first. A lock held elsewhere means another
// trigger or sweep already owns the event, so the attempt is skipped and nil
// is returned. shared.ErrNotFound and recon.ErrNotEligible propagate so the
// caller can report them.
func (d *Dispatcher) OnEventReady(ctx context.Context, eventID uuid.UUID) error {
	err := d.tx.WithinTransaction(ctx, func(events recon.EventRepository, audits recon.AuditLogRepository) error {
		event, err := events.LockByID(ctx, eventID)
		if err != nil {
			return err
		}
		if event == nil {
			return shared.ErrNotFound
		}
		_, err = NewCoordinator(events, audits, d.logger).Reconcile(ctx, event)
		return err
	})

	if errors.Is(err, recon.ErrLockUnavailable) {
		d.logger.Warn("event locked by another worker, skipping",
			zap.String("event_id", eventID.String()),
		)
		return nil
	}
	return err
}

// SweepResult summarizes one sweep cycle
type SweepResult struct {
	Scanned    int `json:"scanned"`
	Reconciled int `json:"reconciled"`
	Flagged    int `json:"flagged"`
	Unmatched  int `json:"unmatched"`
	Skipped    int `json:"skipped"`
}

// RunSweep processes one batch of unreconciled MAPPED events in a single
// transaction, oldest first. Each event is re-read before its attempt
// because an earlier pair in the same batch may already have consumed it
// as a counterpart. If any required row lock is held elsewhere the whole
// cycle is abandoned without error; the next cycle retries from scratch.
func (d *Dispatcher) RunSweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	err := d.tx.WithinTransaction(ctx, func(events recon.EventRepository, audits recon.AuditLogRepository) error {
		batch, err := events.LockAndFetchBatch(ctx, d.batchSize)
		if err != nil {
			return err
		}

		coordinator := NewCoordinator(events, audits, d.logger)
		for _, stale := range batch {
			result.Scanned++

			event, err := events.FindByID(ctx, stale.ID)
			if err != nil {
				return err
			}
			if event == nil || !event.IsEligible() {
				result.Skipped++
				continue
			}

			match, err := coordinator.Reconcile(ctx, event)
			if errors.Is(err, recon.ErrNotEligible) {
				result.Skipped++
				continue
			}
			if err != nil {
				return err
			}

			switch match.Type {
			case recon.MatchTypePrimary:
				result.Reconciled++
			case recon.MatchTypePartial:
				result.Flagged++
			default:
				result.Unmatched++
			}
		}
		return nil
	})

	if errors.Is(err, recon.ErrLockUnavailable) {
		d.logger.Warn("sweep batch contention, abandoning cycle")
		return SweepResult{}, nil
	}
	if err != nil {
		return SweepResult{}, err
	}

	d.logger.Info("sweep cycle complete",
		zap.Int("scanned", result.Scanned),
		zap.Int("reconciled", result.Reconciled),
		zap.Int("flagged", result.Flagged),
		zap.Int("unmatched", result.Unmatched),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}
