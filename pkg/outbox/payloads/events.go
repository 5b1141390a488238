package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chainsettle/chainsettle-backend/pkg/enums"
)

// SettlementEventAppendedEvent mirrors a ledger append for downstream consumers.
type SettlementEventAppendedEvent struct {
	IntentID   uuid.UUID                 `json:"intent_id"`
	EventID    uuid.UUID                 `json:"event_id"`
	EventType  enums.SettlementEventType `json:"event_type"`
	Status     string                    `json:"status"`
	Amount     decimal.Decimal           `json:"amount"`
	Currency   enums.Currency            `json:"currency"`
	Sequence   int                       `json:"sequence"`
	OccurredAt time.Time                 `json:"occurred_at"`
	IntentHash string                    `json:"intent_hash"`
}

// SettlementReconciledEvent carries the reconciliation verdict for an intent.
type SettlementReconciledEvent struct {
	IntentID       uuid.UUID           `json:"intent_id"`
	Decision       enums.ReconDecision `json:"decision"`
	ApprovedAmount decimal.Decimal     `json:"approved_amount"`
	HeldAmount     decimal.Decimal     `json:"held_amount"`
	Score          int                 `json:"score"`
	PolicyID       string              `json:"policy_id"`
	Flags          []string            `json:"flags,omitempty"`
}

// ExportJobResolvedEvent reports a claim queue job reaching SUCCESS or FAILED.
type ExportJobResolvedEvent struct {
	JobID          uuid.UUID             `json:"job_id"`
	SourceEntityID uuid.UUID             `json:"source_entity_id"`
	TargetSystem   string                `json:"target_system"`
	Status         enums.ExportJobStatus `json:"status"`
	RetryCount     int                   `json:"retry_count"`
	LastError      string                `json:"last_error,omitempty"`
}
