package recon

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies what a reconciliation attempt did
type AuditAction string

const (
	AuditActionReconcileSuccess AuditAction = "RECONCILE_SUCCESS"
	AuditActionReconcilePartial AuditAction = "RECONCILE_FAIL_PARTIAL"
	AuditActionReconcileNoMatch AuditAction = "RECONCILE_NO_MATCH"
)

// The engine always acts as itself; there is no human actor on this path.
const (
	AuditEntityTypeBusinessEvent = "BUSINESS_EVENT"
	AuditActorTypeService        = "SERVICE"
	AuditActorID                 = "reconciliation-engine"
)

// AuditMetadata is the serialized MatchResult attached to an audit entry
type AuditMetadata struct {
	MatchResult MatchResult `json:"match_result"`
}

// Value implements driver.Valuer for JSONB storage
func (m AuditMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB retrieval
func (m *AuditMetadata) Scan(value any) error {
	if value == nil {
		*m = AuditMetadata{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for AuditMetadata")
	}
	return json.Unmarshal(data, m)
}

// AuditLogEntry is an immutable, append-only record of one reconciliation
// outcome, queryable by entity id or action.
type AuditLogEntry struct {
	ID         uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Action     AuditAction   `gorm:"type:varchar(50);index" json:"action"`
	EntityType string        `gorm:"type:varchar(50)" json:"entity_type"`
	EntityID   uuid.UUID     `gorm:"type:uuid;index" json:"entity_id"`
	ActorType  string        `gorm:"type:varchar(50)" json:"actor_type"`
	ActorID    string        `gorm:"type:varchar(100)" json:"actor_id"`
	Metadata   AuditMetadata `gorm:"type:jsonb" json:"metadata"`
	CreatedAt  time.Time     `json:"created_at"`
}

// TableName specifies the database table name
func (AuditLogEntry) TableName() string {
	return "audit_logs"
}

// NewAuditEntry creates an audit entry for a reconciliation outcome,
// stamped with the engine's own identity.
func NewAuditEntry(action AuditAction, entityID uuid.UUID, match MatchResult) *AuditLogEntry {
	return &AuditLogEntry{
		ID:         uuid.New(),
		Action:     action,
		EntityType: AuditEntityTypeBusinessEvent,
		EntityID:   entityID,
		ActorType:  AuditActorTypeService,
		ActorID:    AuditActorID,
		Metadata:   AuditMetadata{MatchResult: match},
		CreatedAt:  time.Now(),
	}
}
