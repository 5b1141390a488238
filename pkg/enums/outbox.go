package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateSettlementIntent OutboxAggregateType = "settlement_intent"
	AggregateSettlementEvent  OutboxAggregateType = "settlement_event"
	AggregateExportJob        OutboxAggregateType = "export_job"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateSettlementIntent,
	AggregateSettlementEvent,
	AggregateExportJob,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventSettlementEventAppended OutboxEventType = "settlement_event_appended"
	EventSettlementReconciled    OutboxEventType = "settlement_reconciled"
	EventExportJobResolved       OutboxEventType = "export_job_resolved"
)

var validOutboxEventTypes = []OutboxEventType{
	EventSettlementEventAppended,
	EventSettlementReconciled,
	EventExportJobResolved,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
