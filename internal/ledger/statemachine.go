package ledger

import (
	"fmt"

	"github.com/chainsettle/chainsettle-backend/pkg/enums"
	pkgerrors "github.com/chainsettle/chainsettle-backend/pkg/errors"
)

// transitions is the allow-list: the set of event types that may legally
// follow each type. An empty entry means the canonical order and terminal set
// alone decide. The allow-list is authoritative over the terminal set, which
// is how CAPTURED and SETTLEMENT_CLOSED keep their outgoing edges.
var transitions = map[enums.SettlementEventType][]enums.SettlementEventType{
	enums.SettlementEventPaymentInitiated: {
		enums.SettlementEventCreated,
		enums.SettlementEventFailed,
	},
	enums.SettlementEventCreated: {
		enums.SettlementEventProofAttached,
		enums.SettlementEventProofValidated,
		enums.SettlementEventRiskRechecked,
		enums.SettlementEventAuthorized,
		enums.SettlementEventFailed,
	},
	enums.SettlementEventProofAttached: {
		enums.SettlementEventProofValidated,
		enums.SettlementEventRiskRechecked,
		enums.SettlementEventFailedComplianceCheck,
		enums.SettlementEventFailed,
	},
	enums.SettlementEventProofValidated: {
		enums.SettlementEventRiskRechecked,
		enums.SettlementEventReconciled,
		enums.SettlementEventAuthorized,
		enums.SettlementEventFailedComplianceCheck,
		enums.SettlementEventFailed,
	},
	enums.SettlementEventRiskRechecked: {
		enums.SettlementEventReconciled,
		enums.SettlementEventAuthorized,
		enums.SettlementEventFailedComplianceCheck,
		enums.SettlementEventFailed,
	},
	enums.SettlementEventReconciled: {
		enums.SettlementEventAuthorized,
		enums.SettlementEventReleaseRequested,
		enums.SettlementEventFailedComplianceCheck,
		enums.SettlementEventFailed,
	},
	enums.SettlementEventAuthorized: {
		enums.SettlementEventReleaseRequested,
		enums.SettlementEventCashReleased,
		enums.SettlementEventCaptured,
		enums.SettlementEventFailedClearinghouse,
		enums.SettlementEventFailed,
	},
	enums.SettlementEventReleaseRequested: {
		enums.SettlementEventCashReleased,
		enums.SettlementEventCaptured,
		enums.SettlementEventFailedClearinghouse,
		enums.SettlementEventFailed,
	},
	enums.SettlementEventCaptured: {
		enums.SettlementEventRefunded,
		enums.SettlementEventSettlementClosed,
	},
	enums.SettlementEventSettlementClosed: {
		enums.SettlementEventStakeCompleted,
	},
}

// terminalTypes blocks further appends unless the allow-list defines
// outgoing transitions from the type.
var terminalTypes = map[enums.SettlementEventType]struct{}{
	enums.SettlementEventFailed:                {},
	enums.SettlementEventFailedComplianceCheck: {},
	enums.SettlementEventFailedClearinghouse:   {},
	enums.SettlementEventCashReleased:          {},
	enums.SettlementEventSettlementClosed:      {},
	enums.SettlementEventRefunded:              {},
	enums.SettlementEventCaptured:              {},
}

// IsTerminal reports whether the type closes the record for plain appends.
func IsTerminal(t enums.SettlementEventType) bool {
	_, ok := terminalTypes[t]
	return ok
}

// AllowedAfter returns the allow-list entry for a type, nil when the
// canonical order alone governs.
func AllowedAfter(t enums.SettlementEventType) []enums.SettlementEventType {
	allowed := transitions[t]
	out := make([]enums.SettlementEventType, len(allowed))
	copy(out, allowed)
	return out
}

// CanFollow validates that next may be appended after last.
func CanFollow(last, next enums.SettlementEventType) error {
	allowed := transitions[last]

	if len(allowed) == 0 && IsTerminal(last) {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("record is terminal after %s", last))
	}

	if next.Position() < last.Position() {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("%s regresses the lifecycle after %s", next, last))
	}

	if len(allowed) > 0 {
		for _, candidate := range allowed {
			if candidate == next {
				return nil
			}
		}
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("%s may not follow %s", next, last))
	}

	return nil
}
