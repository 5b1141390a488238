package ledger

import (
	"testing"

	"github.com/chainsettle/chainsettle-backend/pkg/enums"
	pkgerrors "github.com/chainsettle/chainsettle-backend/pkg/errors"
)

func TestCanFollowAllowsDocumentedTransitions(t *testing.T) {
	cases := []struct {
		last enums.SettlementEventType
		next enums.SettlementEventType
	}{
		{enums.SettlementEventPaymentInitiated, enums.SettlementEventCreated},
		{enums.SettlementEventCreated, enums.SettlementEventProofAttached},
		{enums.SettlementEventCreated, enums.SettlementEventAuthorized},
		{enums.SettlementEventProofValidated, enums.SettlementEventReconciled},
		{enums.SettlementEventReconciled, enums.SettlementEventReleaseRequested},
		{enums.SettlementEventAuthorized, enums.SettlementEventCaptured},
		{enums.SettlementEventReleaseRequested, enums.SettlementEventCashReleased},
		{enums.SettlementEventCaptured, enums.SettlementEventRefunded},
		{enums.SettlementEventCaptured, enums.SettlementEventSettlementClosed},
		{enums.SettlementEventSettlementClosed, enums.SettlementEventStakeCompleted},
	}
	for _, tc := range cases {
		if err := CanFollow(tc.last, tc.next); err != nil {
			t.Errorf("expected %s -> %s to be allowed: %v", tc.last, tc.next, err)
		}
	}
}

func TestCanFollowRejectsTerminalStates(t *testing.T) {
	terminal := []enums.SettlementEventType{
		enums.SettlementEventFailed,
		enums.SettlementEventFailedComplianceCheck,
		enums.SettlementEventFailedClearinghouse,
		enums.SettlementEventCashReleased,
		enums.SettlementEventRefunded,
	}
	for _, last := range terminal {
		err := CanFollow(last, enums.SettlementEventStakeCompleted)
		if err == nil {
			t.Errorf("expected append after %s to be rejected", last)
			continue
		}
		appErr := pkgerrors.As(err)
		if appErr == nil || appErr.Code() != pkgerrors.CodeStateConflict {
			t.Errorf("expected state conflict after %s, got %v", last, err)
		}
	}
}

func TestCanFollowTerminalWithOutgoingEdgesStaysOpen(t *testing.T) {
	if !IsTerminal(enums.SettlementEventCaptured) {
		t.Fatal("CAPTURED should be terminal")
	}
	if err := CanFollow(enums.SettlementEventCaptured, enums.SettlementEventRefunded); err != nil {
		t.Fatalf("CAPTURED -> REFUNDED should be allowed: %v", err)
	}
	if err := CanFollow(enums.SettlementEventCaptured, enums.SettlementEventStakeCompleted); err == nil {
		t.Fatal("CAPTURED -> STAKE_COMPLETED should be rejected")
	}
}

func TestCanFollowRejectsRegressions(t *testing.T) {
	err := CanFollow(enums.SettlementEventAuthorized, enums.SettlementEventProofAttached)
	if err == nil {
		t.Fatal("expected lifecycle regression to be rejected")
	}
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestCanFollowRejectsNonMembersOfAllowList(t *testing.T) {
	// RECONCILED is ahead of CREATED in the lifecycle, but CREATED's
	// allow-list does not include it.
	if err := CanFollow(enums.SettlementEventCreated, enums.SettlementEventReconciled); err == nil {
		t.Fatal("expected CREATED -> RECONCILED to be rejected")
	}
}

func TestAllowedAfterReturnsCopy(t *testing.T) {
	first := AllowedAfter(enums.SettlementEventCaptured)
	if len(first) != 2 {
		t.Fatalf("expected two outgoing edges from CAPTURED, got %d", len(first))
	}
	first[0] = enums.SettlementEventFailed
	second := AllowedAfter(enums.SettlementEventCaptured)
	if second[0] == enums.SettlementEventFailed {
		t.Fatal("AllowedAfter leaked internal state")
	}
}
