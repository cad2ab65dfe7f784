package persistence

import (
	"context"

	"github.com/finflow/reconciler/internal/domain/recon"
	"gorm.io/gorm"
)

// GormTransactionManager implements recon.TransactionManager on top of a
// GORM transaction, deriving transaction-scoped repositories for the
// callback. SkipDefaultTransaction is set on the connection, so this is
// the only place a real transaction boundary is opened.
type GormTransactionManager struct {
	db     *Database
	events *GormEventRepository
	audits *GormAuditLogRepository
}

// NewGormTransactionManager creates a new GormTransactionManager
func NewGormTransactionManager(db *Database) *GormTransactionManager {
	return &GormTransactionManager{
		db:     db,
		events: NewGormEventRepository(db.DB),
		audits: NewGormAuditLogRepository(db.DB),
	}
}

// WithinTransaction implements recon.TransactionManager
func (m *GormTransactionManager) WithinTransaction(ctx context.Context, fn func(events recon.EventRepository, audits recon.AuditLogRepository) error) error {
	return m.db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(m.events.WithTx(tx), m.audits.WithTx(tx))
	})
}

// Ensure GormTransactionManager implements TransactionManager
var _ recon.TransactionManager = (*GormTransactionManager)(nil)
