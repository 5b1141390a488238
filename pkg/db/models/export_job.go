package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/chainsettle/chainsettle-backend/pkg/enums"
)

// ExportJob is one outbox row handing a document-health snapshot export to a
// downstream system. Rows are never deleted; terminal rows stay as audit
// artifacts.
type ExportJob struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SourceEntityID uuid.UUID             `gorm:"column:source_entity_id;type:uuid;not null;index"`
	TargetSystem   string                `gorm:"column:target_system;not null"`
	Status         enums.ExportJobStatus `gorm:"column:status;type:export_job_status_enum;not null;default:PENDING"`
	RetryCount     int                   `gorm:"column:retry_count;not null;default:0"`
	ClaimedBy      *string               `gorm:"column:claimed_by"`
	ClaimedAt      *time.Time            `gorm:"column:claimed_at"`
	LeaseExpiresAt *time.Time            `gorm:"column:lease_expires_at"`
	LastError      *string               `gorm:"column:last_error"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
