package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/finflow/reconciler/internal/domain/recon"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newMockTransactionManager creates a GormTransactionManager with a mocked SQL connection
func newMockTransactionManager(t *testing.T) (*GormTransactionManager, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return NewGormTransactionManager(&Database{DB: gormDB}), mock, mockDB
}

func TestGormTransactionManager_WithinTransaction(t *testing.T) {
	t.Run("commits when fn succeeds", func(t *testing.T) {
		manager, mock, mockDB := newMockTransactionManager(t)
		defer mockDB.Close()

		eventID := uuid.New()
		at := time.Now()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "business_events" SET "reconciliation_attempted_at"=\$1,"updated_at"=\$2 WHERE id = \$3`).
			WithArgs(at, sqlmock.AnyArg(), eventID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := manager.WithinTransaction(context.Background(), func(events recon.EventRepository, audits recon.AuditLogRepository) error {
			return events.RecordAttempt(context.Background(), eventID, at)
		})

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back the first pair update when the second fails", func(t *testing.T) {
		// A failure between the two row updates of a pair must leave both
		// rows unchanged; the already-issued first UPDATE is undone by the
		// surrounding rollback.
		manager, mock, mockDB := newMockTransactionManager(t)
		defer mockDB.Close()

		invoiceID := uuid.New()
		paymentID := uuid.New()
		match := recon.MatchResult{
			Type:       recon.MatchTypePrimary,
			Confidence: decimal.NewFromInt(1),
			InvoiceID:  invoiceID,
			PaymentID:  paymentID,
		}

		mock.ExpectBegin()
		invoiceRows := sqlmock.NewRows(eventColumns()).
			AddRow(invoiceID, "INVOICE_RECEIVED", int64(100000), "USD", "MAPPED", []byte(`{"invoice_number":"INV-1"}`), time.Now())
		mock.ExpectQuery(`SELECT \* FROM "business_events" WHERE id = \$1 .* FOR UPDATE NOWAIT`).
			WithArgs(invoiceID, 1).
			WillReturnRows(invoiceRows)
		mock.ExpectExec(`UPDATE "business_events" SET .+`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT \* FROM "business_events" WHERE id = \$1 .* FOR UPDATE NOWAIT`).
			WithArgs(paymentID, 1).
			WillReturnError(errors.New("connection reset by peer"))
		mock.ExpectRollback()

		err := manager.WithinTransaction(context.Background(), func(events recon.EventRepository, audits recon.AuditLogRepository) error {
			return events.ReconcilePair(context.Background(), invoiceID, paymentID, match)
		})

		assert.ErrorContains(t, err, "connection reset by peer")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when fn reports an error", func(t *testing.T) {
		manager, mock, mockDB := newMockTransactionManager(t)
		defer mockDB.Close()

		boom := errors.New("attempt aborted")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := manager.WithinTransaction(context.Background(), func(events recon.EventRepository, audits recon.AuditLogRepository) error {
			return boom
		})

		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
