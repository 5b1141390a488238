package exports

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/chainsettle/chainsettle-backend/pkg/db/models"
	"github.com/chainsettle/chainsettle-backend/pkg/enums"
)

func setupExportsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	jobs := `
CREATE TABLE IF NOT EXISTS export_jobs (
  id TEXT PRIMARY KEY,
  source_entity_id TEXT NOT NULL,
  target_system TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'PENDING',
  retry_count INTEGER NOT NULL DEFAULT 0,
  claimed_by TEXT,
  claimed_at DATETIME,
  lease_expires_at DATETIME,
  last_error TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(jobs).Error)
	// The shared cache keeps rows across tests in this package.
	require.NoError(t, db.Exec("DELETE FROM export_jobs").Error)
	return db
}

func seedJob(t *testing.T, db *gorm.DB, target string, status enums.ExportJobStatus, retryCount int, created time.Time) *models.ExportJob {
	t.Helper()

	job := &models.ExportJob{
		ID:             uuid.New(),
		SourceEntityID: uuid.New(),
		TargetSystem:   target,
		Status:         status,
		RetryCount:     retryCount,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	require.NoError(t, db.Create(job).Error)
	return job
}

func TestRepositoryOldestEligiblePending(t *testing.T) {
	db := setupExportsTestDB(t)
	repo := NewRepository(db)
	base := time.Date(2025, 8, 1, 8, 0, 0, 0, time.UTC)

	older := seedJob(t, db, "SEEBURGER", enums.ExportJobStatusPending, 0, base)
	seedJob(t, db, "SEEBURGER", enums.ExportJobStatusPending, 0, base.Add(time.Minute))
	seedJob(t, db, "SEEBURGER", enums.ExportJobStatusPending, 5, base.Add(-time.Hour)) // retries exhausted
	seedJob(t, db, "SEEBURGER", enums.ExportJobStatusSuccess, 0, base.Add(-time.Hour))
	chainiq := seedJob(t, db, "CHAINIQ", enums.ExportJobStatusPending, 1, base.Add(2*time.Minute))

	found, err := repo.OldestEligiblePending(context.Background(), "", 5)
	require.NoError(t, err)
	assert.Equal(t, older.ID, found.ID)

	found, err = repo.OldestEligiblePending(context.Background(), "CHAINIQ", 5)
	require.NoError(t, err)
	assert.Equal(t, chainiq.ID, found.ID)

	_, err = repo.OldestEligiblePending(context.Background(), "SAP", 5)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryTryClaimWinsExactlyOnce(t *testing.T) {
	db := setupExportsTestDB(t)
	repo := NewRepository(db)
	now := time.Date(2025, 8, 1, 8, 0, 0, 0, time.UTC)
	job := seedJob(t, db, "SEEBURGER", enums.ExportJobStatusPending, 0, now)

	won, err := repo.TryClaim(context.Background(), job.ID, "worker-a", now, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.True(t, won)

	// Second worker loses the conditional update.
	won, err = repo.TryClaim(context.Background(), job.ID, "worker-b", now, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, won)

	claimed, err := repo.FindJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ExportJobStatusInProgress, claimed.Status)
	require.NotNil(t, claimed.ClaimedBy)
	assert.Equal(t, "worker-a", *claimed.ClaimedBy)
	require.NotNil(t, claimed.LeaseExpiresAt)
}

func TestRepositoryResolveInProgressGuardsStatus(t *testing.T) {
	db := setupExportsTestDB(t)
	repo := NewRepository(db)
	now := time.Date(2025, 8, 1, 8, 0, 0, 0, time.UTC)
	pending := seedJob(t, db, "SEEBURGER", enums.ExportJobStatusPending, 0, now)
	inProgress := seedJob(t, db, "SEEBURGER", enums.ExportJobStatusInProgress, 0, now)

	updated, err := repo.ResolveInProgress(context.Background(), pending.ID, map[string]any{
		"status": enums.ExportJobStatusSuccess,
	})
	require.NoError(t, err)
	assert.False(t, updated)

	updated, err = repo.ResolveInProgress(context.Background(), inProgress.ID, map[string]any{
		"status": enums.ExportJobStatusSuccess,
	})
	require.NoError(t, err)
	assert.True(t, updated)

	resolved, err := repo.FindJob(context.Background(), inProgress.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ExportJobStatusSuccess, resolved.Status)
}

func TestRepositoryReleaseExpiredHonorsLease(t *testing.T) {
	db := setupExportsTestDB(t)
	repo := NewRepository(db)
	now := time.Date(2025, 8, 1, 8, 0, 0, 0, time.UTC)

	lapsed := seedJob(t, db, "SEEBURGER", enums.ExportJobStatusInProgress, 0, now)
	lapsedLease := now.Add(-time.Minute)
	require.NoError(t, db.Model(lapsed).Update("lease_expires_at", lapsedLease).Error)

	live := seedJob(t, db, "SEEBURGER", enums.ExportJobStatusInProgress, 0, now)
	liveLease := now.Add(10 * time.Minute)
	require.NoError(t, db.Model(live).Update("lease_expires_at", liveLease).Error)

	expired, err := repo.ListExpiredInProgress(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, lapsed.ID, expired[0].ID)

	released, err := repo.ReleaseExpired(context.Background(), lapsed.ID, now, map[string]any{
		"status":           enums.ExportJobStatusPending,
		"retry_count":      1,
		"claimed_by":       nil,
		"lease_expires_at": nil,
	})
	require.NoError(t, err)
	assert.True(t, released)

	released, err = repo.ReleaseExpired(context.Background(), live.ID, now, map[string]any{
		"status": enums.ExportJobStatusPending,
	})
	require.NoError(t, err)
	assert.False(t, released, "live lease must not be reaped")

	reaped, err := repo.FindJob(context.Background(), lapsed.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ExportJobStatusPending, reaped.Status)
	assert.Equal(t, 1, reaped.RetryCount)
	assert.Nil(t, reaped.ClaimedBy)
	assert.Nil(t, reaped.LeaseExpiresAt)
}

func TestRepositoryInsertAndListPending(t *testing.T) {
	db := setupExportsTestDB(t)
	repo := NewRepository(db)
	source := uuid.New()

	jobs := []*models.ExportJob{
		{SourceEntityID: source, TargetSystem: "SEEBURGER", Status: enums.ExportJobStatusPending},
		{SourceEntityID: source, TargetSystem: "CHAINIQ", Status: enums.ExportJobStatusPending},
	}
	require.NoError(t, repo.InsertJobs(context.Background(), jobs))
	for _, job := range jobs {
		assert.NotEqual(t, uuid.Nil, job.ID)
	}

	pending, err := repo.ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
