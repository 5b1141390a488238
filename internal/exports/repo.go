package exports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chainsettle/chainsettle-backend/pkg/db/models"
	"github.com/chainsettle/chainsettle-backend/pkg/enums"
)

// Repository persists export jobs. Claim and resolve transitions are
// conditional updates keyed on the current status, so concurrent workers race
// on row counts instead of locks.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertJobs(ctx context.Context, jobs []*models.ExportJob) error
	FindJob(ctx context.Context, id uuid.UUID) (*models.ExportJob, error)
	OldestEligiblePending(ctx context.Context, targetSystem string, maxRetries int) (*models.ExportJob, error)
	TryClaim(ctx context.Context, jobID uuid.UUID, workerID string, now, leaseUntil time.Time) (bool, error)
	ResolveInProgress(ctx context.Context, jobID uuid.UUID, fields map[string]any) (bool, error)
	ReleaseExpired(ctx context.Context, jobID uuid.UUID, cutoff time.Time, fields map[string]any) (bool, error)
	ListPending(ctx context.Context, limit int) ([]models.ExportJob, error)
	ListExpiredInProgress(ctx context.Context, cutoff time.Time) ([]models.ExportJob, error)
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

func (r *repository) InsertJobs(ctx context.Context, jobs []*models.ExportJob) error {
	for _, job := range jobs {
		if job.ID == uuid.Nil {
			job.ID = uuid.New()
		}
	}
	return r.db.WithContext(ctx).Create(jobs).Error
}

func (r *repository) FindJob(ctx context.Context, id uuid.UUID) (*models.ExportJob, error) {
	var job models.ExportJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) OldestEligiblePending(ctx context.Context, targetSystem string, maxRetries int) (*models.ExportJob, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", enums.ExportJobStatusPending, maxRetries)
	if targetSystem != "" {
		query = query.Where("target_system = ?", targetSystem)
	}

	var job models.ExportJob
	if err := query.Order("created_at ASC, id ASC").First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// TryClaim moves a PENDING job to IN_PROGRESS for workerID. A false return
// means another worker won the row first.
func (r *repository) TryClaim(ctx context.Context, jobID uuid.UUID, workerID string, now, leaseUntil time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ExportJob{}).
		Where("id = ? AND status = ?", jobID, enums.ExportJobStatusPending).
		Updates(map[string]any{
			"status":           enums.ExportJobStatusInProgress,
			"claimed_by":       workerID,
			"claimed_at":       now,
			"lease_expires_at": leaseUntil,
			"updated_at":       now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ResolveInProgress applies fields to a job only while it is IN_PROGRESS.
func (r *repository) ResolveInProgress(ctx context.Context, jobID uuid.UUID, fields map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ExportJob{}).
		Where("id = ? AND status = ?", jobID, enums.ExportJobStatusInProgress).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReleaseExpired applies fields to an IN_PROGRESS job whose lease lapsed on or
// before cutoff. The lease predicate keeps the reaper from stealing work from
// a live worker that renewed or resolved in the meantime.
func (r *repository) ReleaseExpired(ctx context.Context, jobID uuid.UUID, cutoff time.Time, fields map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ExportJob{}).
		Where("id = ? AND status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?",
			jobID, enums.ExportJobStatusInProgress, cutoff).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListPending(ctx context.Context, limit int) ([]models.ExportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []models.ExportJob
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.ExportJobStatusPending).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *repository) ListExpiredInProgress(ctx context.Context, cutoff time.Time) ([]models.ExportJob, error) {
	var jobs []models.ExportJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?",
			enums.ExportJobStatusInProgress, cutoff).
		Order("lease_expires_at ASC, id ASC").
		Find(&jobs).Error
	return jobs, err
}
