package enums

import "fmt"

// AuditEntryType maps to the audit_entry_type_enum enum in Postgres.
type AuditEntryType string

const (
	AuditSnapshotRequested    AuditEntryType = "SNAPSHOT_REQUESTED"
	AuditSnapshotClaimed      AuditEntryType = "SNAPSHOT_CLAIMED"
	AuditSnapshotCompleted    AuditEntryType = "SNAPSHOT_COMPLETED"
	AuditSnapshotFailed       AuditEntryType = "SNAPSHOT_FAILED"
	AuditSnapshotLeaseExpired AuditEntryType = "SNAPSHOT_LEASE_EXPIRED"
	AuditEventReplaced        AuditEntryType = "SETTLEMENT_EVENT_REPLACED"
	AuditEventDeleted         AuditEntryType = "SETTLEMENT_EVENT_DELETED"
)

var validAuditEntryTypes = []AuditEntryType{
	AuditSnapshotRequested,
	AuditSnapshotClaimed,
	AuditSnapshotCompleted,
	AuditSnapshotFailed,
	AuditSnapshotLeaseExpired,
	AuditEventReplaced,
	AuditEventDeleted,
}

// IsValid reports whether the value matches the canonical audit entry enum.
func (t AuditEntryType) IsValid() bool {
	for _, candidate := range validAuditEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseAuditEntryType converts raw input into AuditEntryType.
func ParseAuditEntryType(value string) (AuditEntryType, error) {
	for _, candidate := range validAuditEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit entry type %q", value)
}
