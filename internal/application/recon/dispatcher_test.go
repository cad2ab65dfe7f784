package recon

import (
	"context"
	"errors"
	"testing"

	"github.com/finflow/reconciler/internal/domain/recon"
	"github.com/finflow/reconciler/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubTxManager hands the callback the given repositories without a real
// transaction, mirroring how GormTransactionManager scopes them.
type stubTxManager struct {
	events recon.EventRepository
	audits recon.AuditLogRepository
}

func (s *stubTxManager) WithinTransaction(ctx context.Context, fn func(events recon.EventRepository, audits recon.AuditLogRepository) error) error {
	return fn(s.events, s.audits)
}

func newTestDispatcher(events *MockEventRepository, audits *MockAuditLogRepository, opts ...DispatcherOption) *Dispatcher {
	return NewDispatcher(&stubTxManager{events: events, audits: audits}, zap.NewNop(), opts...)
}

func TestDispatcher_OnEventReady(t *testing.T) {
	t.Run("reconciles a ready event", func(t *testing.T) {
		events := new(MockEventRepository)
		audits := new(MockAuditLogRepository)
		dispatcher := newTestDispatcher(events, audits)

		invoice := mappedInvoice(100000, "INV-001")
		payment := mappedPayment(100000, "INV-001")

		events.On("LockByID", mock.Anything, invoice.ID).Return(invoice, nil)
		events.On("FindCounterpart", mock.Anything, recon.EventKindPaymentSent, "INV-001", recon.StateMapped, "USD").
			Return(payment, nil)
		events.On("ReconcilePair", mock.Anything, invoice.ID, payment.ID, mock.Anything).Return(nil)
		audits.On("Append", mock.Anything, mock.Anything).Return(nil)

		err := dispatcher.OnEventReady(context.Background(), invoice.ID)

		assert.NoError(t, err)
		events.AssertExpectations(t)
		audits.AssertExpectations(t)
	})

	t.Run("skips silently when the row lock is held elsewhere", func(t *testing.T) {
		events := new(MockEventRepository)
		audits := new(MockAuditLogRepository)
		dispatcher := newTestDispatcher(events, audits)

		eventID := uuid.New()
		events.On("LockByID", mock.Anything, eventID).Return(nil, recon.ErrLockUnavailable)

		err := dispatcher.OnEventReady(context.Background(), eventID)

		assert.NoError(t, err)
		events.AssertNotCalled(t, "FindCounterpart", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		audits.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	})

	t.Run("reports missing events", func(t *testing.T) {
		events := new(MockEventRepository)
		audits := new(MockAuditLogRepository)
		dispatcher := newTestDispatcher(events, audits)

		eventID := uuid.New()
		events.On("LockByID", mock.Anything, eventID).Return(nil, nil)

		err := dispatcher.OnEventReady(context.Background(), eventID)

		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("reports ineligible events", func(t *testing.T) {
		events := new(MockEventRepository)
		audits := new(MockAuditLogRepository)
		dispatcher := newTestDispatcher(events, audits)

		invoice := mappedInvoice(100000, "INV-001")
		invoice.State = recon.StateReconciled
		events.On("LockByID", mock.Anything, invoice.ID).Return(invoice, nil)

		err := dispatcher.OnEventReady(context.Background(), invoice.ID)

		assert.ErrorIs(t, err, recon.ErrNotEligible)
	})

	t.Run("propagates store errors", func(t *testing.T) {
		events := new(MockEventRepository)
		audits := new(MockAuditLogRepository)
		dispatcher := newTestDispatcher(events, audits)

		eventID := uuid.New()
		storeErr := errors.New("connection reset")
		events.On("LockByID", mock.Anything, eventID).Return(nil, storeErr)

		err := dispatcher.OnEventReady(context.Background(), eventID)

		assert.ErrorIs(t, err, storeErr)
	})
}

func TestDispatcher_RunSweep(t *testing.T) {
	t.Run("reconciles a pair and skips the consumed counterpart", func(t *testing.T) {
		events := new(MockEventRepository)
		audits := new(MockAuditLogRepository)
		dispatcher := newTestDispatcher(events, audits)

		invoice := mappedInvoice(100000, "INV-001")
		payment := mappedPayment(100000, "INV-001")

		events.On("LockAndFetchBatch", mock.Anything, defaultBatchSize).
			Return([]*recon.BusinessEvent{invoice, payment}, nil)

		events.On("FindByID", mock.Anything, invoice.ID).Return(invoice, nil)
		events.On("FindCounterpart", mock.Anything, recon.EventKindPaymentSent, "INV-001", recon.StateMapped, "USD").
			Return(payment, nil)
		events.On("ReconcilePair", mock.Anything, invoice.ID, payment.ID, mock.Anything).Return(nil)
		audits.On("Append", mock.Anything, mock.Anything).Return(nil)

		// The payment was consumed by the invoice's attempt above, so its
		// re-read shows the reconciled row.
		consumed := *payment
		consumed.State = recon.StateReconciled
		consumed.ReconciliationMatchID = &invoice.ID
		events.On("FindByID", mock.Anything, payment.ID).Return(&consumed, nil)

		result, err := dispatcher.RunSweep(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 2, result.Scanned)
		assert.Equal(t, 1, result.Reconciled)
		assert.Equal(t, 1, result.Skipped)
		assert.Equal(t, 0, result.Unmatched)
		events.AssertExpectations(t)
	})

	t.Run("counts unmatched events", func(t *testing.T) {
		events := new(MockEventRepository)
		audits := new(MockAuditLogRepository)
		dispatcher := newTestDispatcher(events, audits, WithBatchSize(10))

		invoice := mappedInvoice(100000, "INV-404")

		events.On("LockAndFetchBatch", mock.Anything, 10).
			Return([]*recon.BusinessEvent{invoice}, nil)
		events.On("FindByID", mock.Anything, invoice.ID).Return(invoice, nil)
		events.On("FindCounterpart", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, nil)
		events.On("RecordAttempt", mock.Anything, invoice.ID, mock.Anything).Return(nil)
		audits.On("Append", mock.Anything, mock.Anything).Return(nil)

		result, err := dispatcher.RunSweep(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, result.Scanned)
		assert.Equal(t, 1, result.Unmatched)
	})

	t.Run("abandons the cycle without error on batch contention", func(t *testing.T) {
		events := new(MockEventRepository)
		audits := new(MockAuditLogRepository)
		dispatcher := newTestDispatcher(events, audits)

		events.On("LockAndFetchBatch", mock.Anything, defaultBatchSize).
			Return(nil, recon.ErrLockUnavailable)

		result, err := dispatcher.RunSweep(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, SweepResult{}, result)
		audits.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		events := new(MockEventRepository)
		audits := new(MockAuditLogRepository)
		dispatcher := newTestDispatcher(events, audits)

		events.On("LockAndFetchBatch", mock.Anything, defaultBatchSize).
			Return([]*recon.BusinessEvent{}, nil)

		result, err := dispatcher.RunSweep(context.Background())

		require.NoError(t, err)
		assert.Equal(t, SweepResult{}, result)
	})

	t.Run("propagates store errors", func(t *testing.T) {
		events := new(MockEventRepository)
		audits := new(MockAuditLogRepository)
		dispatcher := newTestDispatcher(events, audits)

		storeErr := errors.New("connection reset")
		events.On("LockAndFetchBatch", mock.Anything, defaultBatchSize).Return(nil, storeErr)

		_, err := dispatcher.RunSweep(context.Background())

		assert.ErrorIs(t, err, storeErr)
	})
}
