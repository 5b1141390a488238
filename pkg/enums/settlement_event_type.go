package enums

import "fmt"

// SettlementEventType maps to the settlement_event_type_enum enum in Postgres.
// The declaration order below is the canonical lifecycle order used by the
// ledger's regression guard.
type SettlementEventType string

const (
	SettlementEventPaymentInitiated      SettlementEventType = "PAYMENT_INITIATED"
	SettlementEventCreated               SettlementEventType = "CREATED"
	SettlementEventProofAttached         SettlementEventType = "PROOF_ATTACHED"
	SettlementEventProofValidated        SettlementEventType = "PROOF_VALIDATED"
	SettlementEventRiskRechecked         SettlementEventType = "RISK_RECHECKED"
	SettlementEventReconciled            SettlementEventType = "RECONCILED"
	SettlementEventAuthorized            SettlementEventType = "AUTHORIZED"
	SettlementEventReleaseRequested      SettlementEventType = "RELEASE_REQUESTED"
	SettlementEventCashReleased          SettlementEventType = "CASH_RELEASED"
	SettlementEventCaptured              SettlementEventType = "CAPTURED"
	SettlementEventFailedComplianceCheck SettlementEventType = "FAILED_COMPLIANCE_CHECK"
	SettlementEventFailedClearinghouse   SettlementEventType = "FAILED_CLEARINGHOUSE"
	SettlementEventFailed                SettlementEventType = "FAILED"
	SettlementEventRefunded              SettlementEventType = "REFUNDED"
	SettlementEventSettlementClosed      SettlementEventType = "SETTLEMENT_CLOSED"
	SettlementEventStakeCompleted        SettlementEventType = "STAKE_COMPLETED"
)

var canonicalSettlementEventOrder = []SettlementEventType{
	SettlementEventPaymentInitiated,
	SettlementEventCreated,
	SettlementEventProofAttached,
	SettlementEventProofValidated,
	SettlementEventRiskRechecked,
	SettlementEventReconciled,
	SettlementEventAuthorized,
	SettlementEventReleaseRequested,
	SettlementEventCashReleased,
	SettlementEventCaptured,
	SettlementEventFailedComplianceCheck,
	SettlementEventFailedClearinghouse,
	SettlementEventFailed,
	SettlementEventRefunded,
	SettlementEventSettlementClosed,
	SettlementEventStakeCompleted,
}

var settlementEventPositions = func() map[SettlementEventType]int {
	positions := make(map[SettlementEventType]int, len(canonicalSettlementEventOrder))
	for i, t := range canonicalSettlementEventOrder {
		positions[t] = i
	}
	return positions
}()

// IsValid reports whether the value matches the canonical settlement event enum.
func (t SettlementEventType) IsValid() bool {
	_, ok := settlementEventPositions[t]
	return ok
}

// Position returns the event type's index in the canonical lifecycle order.
// Unknown types return -1.
func (t SettlementEventType) Position() int {
	if pos, ok := settlementEventPositions[t]; ok {
		return pos
	}
	return -1
}

// SettlementEventTypes returns the canonical lifecycle ordering.
func SettlementEventTypes() []SettlementEventType {
	out := make([]SettlementEventType, len(canonicalSettlementEventOrder))
	copy(out, canonicalSettlementEventOrder)
	return out
}

// ParseSettlementEventType converts raw input into SettlementEventType.
func ParseSettlementEventType(value string) (SettlementEventType, error) {
	candidate := SettlementEventType(value)
	if candidate.IsValid() {
		return candidate, nil
	}
	return "", fmt.Errorf("invalid settlement event type %q", value)
}
