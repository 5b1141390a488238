package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/chainsettle/chainsettle-backend/pkg/db/types"
	"github.com/chainsettle/chainsettle-backend/pkg/enums"
)

// AuditEntry is one append-only row in the application audit stream. The core
// writes entries alongside queue and admin-ledger mutations; it never reads
// them back.
type AuditEntry struct {
	ID        uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EntryType enums.AuditEntryType `gorm:"column:entry_type;type:audit_entry_type_enum;not null"`
	EntityID  uuid.UUID            `gorm:"column:entity_id;type:uuid;not null;index"`
	Actor     string               `gorm:"column:actor;not null;default:''"`
	Payload   dbtypes.JSONMap      `gorm:"column:payload;type:jsonb"`
	CreatedAt time.Time            `gorm:"column:created_at;autoCreateTime"`
}
