package settlements

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chainsettle/chainsettle-backend/pkg/db/models"
	"github.com/chainsettle/chainsettle-backend/pkg/enums"
	"github.com/chainsettle/chainsettle-backend/pkg/pagination"
)

type listIntentsParams struct {
	Status *enums.SettlementIntentStatus
	Limit  int
	Cursor *pagination.Cursor
}

// Repository persists settlement intents. Event rows belong to the ledger
// repository; this one only touches the intent header and its derived
// reconciliation fields.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateIntent(ctx context.Context, intent *models.SettlementIntent) error
	FindIntent(ctx context.Context, id uuid.UUID) (*models.SettlementIntent, error)
	ListIntents(ctx context.Context, params listIntentsParams) ([]models.SettlementIntent, *pagination.Cursor, error)
	UpdateReconOutcome(ctx context.Context, intentID uuid.UUID, fields map[string]any) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateIntent(ctx context.Context, intent *models.SettlementIntent) error {
	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *repository) FindIntent(ctx context.Context, id uuid.UUID) (*models.SettlementIntent, error) {
	var intent models.SettlementIntent
	if err := r.db.WithContext(ctx).First(&intent, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) ListIntents(ctx context.Context, params listIntentsParams) ([]models.SettlementIntent, *pagination.Cursor, error) {
	normalized := pagination.NormalizeLimit(params.Limit)
	limit := normalized + 1

	query := r.db.WithContext(ctx).Model(&models.SettlementIntent{})
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var intents []models.SettlementIntent
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&intents).Error; err != nil {
		return nil, nil, err
	}

	if len(intents) > normalized {
		next := intents[normalized]
		intents = intents[:normalized]
		return intents, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return intents, nil, nil
}

func (r *repository) UpdateReconOutcome(ctx context.Context, intentID uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.SettlementIntent{}).
		Where("id = ?", intentID).
		Updates(fields).Error
}
