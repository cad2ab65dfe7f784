package persistence

import (
	"context"

	"github.com/finflow/reconciler/internal/domain/recon"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormAuditLogRepository implements recon.AuditLogRepository using GORM
type GormAuditLogRepository struct {
	db *gorm.DB
}

// NewGormAuditLogRepository creates a new GormAuditLogRepository
func NewGormAuditLogRepository(db *gorm.DB) *GormAuditLogRepository {
	return &GormAuditLogRepository{db: db}
}

// WithTx returns a repository copy bound to the given transaction
func (r *GormAuditLogRepository) WithTx(tx *gorm.DB) *GormAuditLogRepository {
	return &GormAuditLogRepository{db: tx}
}

// Append persists a new audit entry. Entries are never updated or deleted.
func (r *GormAuditLogRepository) Append(ctx context.Context, entry *recon.AuditLogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// FindByEntityID returns the most recent entries for one business event
func (r *GormAuditLogRepository) FindByEntityID(ctx context.Context, entityID uuid.UUID, limit int) ([]recon.AuditLogEntry, error) {
	var entries []recon.AuditLogEntry
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", recon.AuditEntityTypeBusinessEvent, entityID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// FindByAction returns the most recent entries recorded with the given action
func (r *GormAuditLogRepository) FindByAction(ctx context.Context, action recon.AuditAction, limit int) ([]recon.AuditLogEntry, error) {
	var entries []recon.AuditLogEntry
	err := r.db.WithContext(ctx).
		Where("action = ?", action).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Ensure GormAuditLogRepository implements AuditLogRepository
var _ recon.AuditLogRepository = (*GormAuditLogRepository)(nil)
