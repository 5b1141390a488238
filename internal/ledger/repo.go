package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chainsettle/chainsettle-backend/pkg/db/models"
)

// Repository handles settlement event persistence plus the derived fields the
// ledger owns on the intent row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateEvent(ctx context.Context, event *models.SettlementEvent) error
	UpdateEvent(ctx context.Context, event *models.SettlementEvent) error
	DeleteEvent(ctx context.Context, id uuid.UUID) error
	FindEvent(ctx context.Context, id uuid.UUID) (*models.SettlementEvent, error)
	ListEvents(ctx context.Context, intentID uuid.UUID) ([]models.SettlementEvent, error)
	FindIntent(ctx context.Context, id uuid.UUID) (*models.SettlementIntent, error)
	UpdateIntentDerived(ctx context.Context, intentID uuid.UUID, fields map[string]any) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateEvent(ctx context.Context, event *models.SettlementEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) UpdateEvent(ctx context.Context, event *models.SettlementEvent) error {
	return r.db.WithContext(ctx).Save(event).Error
}

func (r *repository) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.SettlementEvent{}).Error
}

func (r *repository) FindEvent(ctx context.Context, id uuid.UUID) (*models.SettlementEvent, error) {
	var event models.SettlementEvent
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) ListEvents(ctx context.Context, intentID uuid.UUID) ([]models.SettlementEvent, error) {
	var events []models.SettlementEvent
	err := r.db.WithContext(ctx).
		Where("intent_id = ?", intentID).
		Order("sequence ASC").
		Find(&events).Error
	return events, err
}

func (r *repository) FindIntent(ctx context.Context, id uuid.UUID) (*models.SettlementIntent, error) {
	var intent models.SettlementIntent
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) UpdateIntentDerived(ctx context.Context, intentID uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.SettlementIntent{}).
		Where("id = ?", intentID).
		Updates(fields).Error
}
