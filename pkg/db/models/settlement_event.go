package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	dbtypes "github.com/chainsettle/chainsettle-backend/pkg/db/types"
	"github.com/chainsettle/chainsettle-backend/pkg/enums"
)

// SettlementEvent records one immutable lifecycle event on a settlement
// intent. Sequence is ledger-assigned, contiguous and strictly increasing per
// intent; occurred_at is caller-supplied business time.
type SettlementEvent struct {
	ID         uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	IntentID   uuid.UUID                 `gorm:"column:intent_id;type:uuid;not null;index"`
	EventType  enums.SettlementEventType `gorm:"column:event_type;type:settlement_event_type_enum;not null"`
	Status     string                    `gorm:"column:status;not null;default:PENDING"`
	Amount     decimal.Decimal           `gorm:"column:amount;type:numeric(18,2);not null"`
	Currency   enums.Currency            `gorm:"column:currency;type:currency_enum;not null"`
	OccurredAt time.Time                 `gorm:"column:occurred_at;not null"`
	Sequence   int                       `gorm:"column:sequence;not null"`
	Metadata   dbtypes.JSONMap           `gorm:"column:metadata;type:jsonb"`
	Actor      string                    `gorm:"column:actor;not null;default:''"`
	CreatedAt  time.Time                 `gorm:"column:created_at;autoCreateTime"`
}
