package enums

import "fmt"

// SettlementIntentStatus maps to the settlement_intent_status_enum in Postgres.
type SettlementIntentStatus string

const (
	SettlementIntentStatusPending  SettlementIntentStatus = "PENDING"
	SettlementIntentStatusReady    SettlementIntentStatus = "READY"
	SettlementIntentStatusBlocked  SettlementIntentStatus = "BLOCKED"
	SettlementIntentStatusReleased SettlementIntentStatus = "RELEASED"
	SettlementIntentStatusClosed   SettlementIntentStatus = "CLOSED"
)

var validSettlementIntentStatuses = []SettlementIntentStatus{
	SettlementIntentStatusPending,
	SettlementIntentStatusReady,
	SettlementIntentStatusBlocked,
	SettlementIntentStatusReleased,
	SettlementIntentStatusClosed,
}

// IsValid reports whether the value matches the canonical intent status enum.
func (s SettlementIntentStatus) IsValid() bool {
	for _, candidate := range validSettlementIntentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSettlementIntentStatus converts raw input into SettlementIntentStatus.
func ParseSettlementIntentStatus(value string) (SettlementIntentStatus, error) {
	for _, candidate := range validSettlementIntentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid settlement intent status %q", value)
}
