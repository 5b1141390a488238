package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/chainsettle/chainsettle-backend/pkg/enums"
)

// SettlementIntent is the payment record whose lifecycle the ledger governs.
// The ledger owns the derived fields (readiness, intent hash, reconciliation
// outcome); identity and commercial terms are set at creation.
type SettlementIntent struct {
	ID                   uuid.UUID                    `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ShipmentID           uuid.UUID                    `gorm:"column:shipment_id;type:uuid;not null"`
	Counterparty         string                       `gorm:"column:counterparty;not null"`
	Amount               decimal.Decimal              `gorm:"column:amount;type:numeric(18,2);not null"`
	Currency             enums.Currency               `gorm:"column:currency;type:currency_enum;not null"`
	Status               enums.SettlementIntentStatus `gorm:"column:status;type:settlement_intent_status_enum;not null;default:PENDING"`
	LatestRiskSnapshotID *uuid.UUID                   `gorm:"column:latest_risk_snapshot_id;type:uuid"`
	ProofPackID          *uuid.UUID                   `gorm:"column:proof_pack_id;type:uuid"`
	ReadyForRelease      bool                         `gorm:"column:ready_for_release;not null;default:false"`
	IntentHash           string                       `gorm:"column:intent_hash;not null;default:''"`

	ReconDecision   *enums.ReconDecision `gorm:"column:recon_decision;type:recon_decision_enum"`
	ApprovedAmount  *decimal.Decimal     `gorm:"column:approved_amount;type:numeric(18,2)"`
	HeldAmount      *decimal.Decimal     `gorm:"column:held_amount;type:numeric(18,2)"`
	ReconScore      *int                 `gorm:"column:recon_score"`
	ReconPolicyID   *string              `gorm:"column:recon_policy_id"`
	ReconFlags      pq.StringArray       `gorm:"column:recon_flags;type:text[]"`
	ReconLineResult json.RawMessage      `gorm:"column:recon_line_results;type:jsonb"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
