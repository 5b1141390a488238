package exports

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/chainsettle/chainsettle-backend/internal/audit"
	"github.com/chainsettle/chainsettle-backend/pkg/config"
	"github.com/chainsettle/chainsettle-backend/pkg/db/models"
	"github.com/chainsettle/chainsettle-backend/pkg/enums"
	pkgerrors "github.com/chainsettle/chainsettle-backend/pkg/errors"
	"github.com/chainsettle/chainsettle-backend/pkg/outbox"
	"github.com/chainsettle/chainsettle-backend/pkg/outbox/payloads"
)

type fakeExportsRepo struct {
	jobs      map[uuid.UUID]*models.ExportJob
	denyClaim bool
	nextSeq   int
}

func newFakeExportsRepo() *fakeExportsRepo {
	return &fakeExportsRepo{jobs: map[uuid.UUID]*models.ExportJob{}}
}

func (f *fakeExportsRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeExportsRepo) InsertJobs(_ context.Context, jobs []*models.ExportJob) error {
	for _, job := range jobs {
		if job.ID == uuid.Nil {
			job.ID = uuid.New()
		}
		f.nextSeq++
		clone := *job
		clone.CreatedAt = time.Date(2025, 8, 1, 8, 0, 0, 0, time.UTC).Add(time.Duration(f.nextSeq) * time.Second)
		f.jobs[clone.ID] = &clone
	}
	return nil
}

func (f *fakeExportsRepo) FindJob(_ context.Context, id uuid.UUID) (*models.ExportJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *job
	return &clone, nil
}

func (f *fakeExportsRepo) OldestEligiblePending(_ context.Context, targetSystem string, maxRetries int) (*models.ExportJob, error) {
	var oldest *models.ExportJob
	for _, job := range f.jobs {
		if job.Status != enums.ExportJobStatusPending || job.RetryCount >= maxRetries {
			continue
		}
		if targetSystem != "" && job.TargetSystem != targetSystem {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *oldest
	return &clone, nil
}

func (f *fakeExportsRepo) TryClaim(_ context.Context, jobID uuid.UUID, workerID string, now, leaseUntil time.Time) (bool, error) {
	if f.denyClaim {
		return false, nil
	}
	job, ok := f.jobs[jobID]
	if !ok || job.Status != enums.ExportJobStatusPending {
		return false, nil
	}
	job.Status = enums.ExportJobStatusInProgress
	job.ClaimedBy = &workerID
	job.ClaimedAt = &now
	job.LeaseExpiresAt = &leaseUntil
	return true, nil
}

func (f *fakeExportsRepo) ResolveInProgress(_ context.Context, jobID uuid.UUID, fields map[string]any) (bool, error) {
	job, ok := f.jobs[jobID]
	if !ok || job.Status != enums.ExportJobStatusInProgress {
		return false, nil
	}
	applyJobFields(job, fields)
	return true, nil
}

func (f *fakeExportsRepo) ReleaseExpired(_ context.Context, jobID uuid.UUID, cutoff time.Time, fields map[string]any) (bool, error) {
	job, ok := f.jobs[jobID]
	if !ok || job.Status != enums.ExportJobStatusInProgress {
		return false, nil
	}
	if job.LeaseExpiresAt == nil || job.LeaseExpiresAt.After(cutoff) {
		return false, nil
	}
	applyJobFields(job, fields)
	return true, nil
}

func (f *fakeExportsRepo) ListPending(_ context.Context, limit int) ([]models.ExportJob, error) {
	var out []models.ExportJob
	for _, job := range f.jobs {
		if job.Status == enums.ExportJobStatusPending {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (f *fakeExportsRepo) ListExpiredInProgress(_ context.Context, cutoff time.Time) ([]models.ExportJob, error) {
	var out []models.ExportJob
	for _, job := range f.jobs {
		if job.Status == enums.ExportJobStatusInProgress &&
			job.LeaseExpiresAt != nil && !job.LeaseExpiresAt.After(cutoff) {
			out = append(out, *job)
		}
	}
	return out, nil
}

func applyJobFields(job *models.ExportJob, fields map[string]any) {
	if status, ok := fields["status"].(enums.ExportJobStatus); ok {
		job.Status = status
	}
	if count, ok := fields["retry_count"].(int); ok {
		job.RetryCount = count
	}
	if raw, ok := fields["last_error"]; ok {
		if msg, ok := raw.(string); ok {
			job.LastError = &msg
		} else {
			job.LastError = nil
		}
	}
	if _, ok := fields["claimed_by"]; ok {
		job.ClaimedBy = nil
	}
	if _, ok := fields["claimed_at"]; ok {
		job.ClaimedAt = nil
	}
	if _, ok := fields["lease_expires_at"]; ok {
		job.LeaseExpiresAt = nil
	}
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

type fakeOutbox struct {
	emitted []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	f.emitted = append(f.emitted, event)
	return nil
}

type fakeAudit struct {
	entries []audit.Entry
}

func (f *fakeAudit) Record(_ context.Context, _ *gorm.DB, entry audit.Entry) error {
	f.entries = append(f.entries, entry)
	return nil
}

type queueFixture struct {
	repo    *fakeExportsRepo
	outbox  *fakeOutbox
	audit   *fakeAudit
	service Service
	now     time.Time
}

func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()
	repo := newFakeExportsRepo()
	outboxSvc := &fakeOutbox{}
	auditSvc := &fakeAudit{}
	cfg := config.ExportsConfig{
		MaxRetries:    5,
		ClaimAttempts: 5,
		LeaseTTL:      5 * time.Minute,
		Targets:       []string{"SEEBURGER", "CHAINIQ"},
	}
	svc, err := NewService(repo, fakeTxRunner{}, outboxSvc, auditSvc, nil, cfg)
	require.NoError(t, err)

	now := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	svc.(*service).now = func() time.Time { return now }

	return &queueFixture{repo: repo, outbox: outboxSvc, audit: auditSvc, service: svc, now: now}
}

func (fx *queueFixture) enqueueOne(t *testing.T, target string) models.ExportJob {
	t.Helper()
	jobs, err := fx.service.Enqueue(context.Background(), EnqueueInput{
		SourceEntityID: uuid.New(),
		Targets:        []string{target},
		Actor:          "recon",
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	return jobs[0]
}

func (fx *queueFixture) claimOne(t *testing.T, workerID string) *models.ExportJob {
	t.Helper()
	job, err := fx.service.Claim(context.Background(), ClaimInput{WorkerID: workerID})
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestEnqueueFansOutToTargets(t *testing.T) {
	fx := newQueueFixture(t)
	source := uuid.New()

	jobs, err := fx.service.Enqueue(context.Background(), EnqueueInput{SourceEntityID: source, Actor: "recon"})
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	targets := map[string]bool{}
	for _, job := range jobs {
		assert.Equal(t, source, job.SourceEntityID)
		assert.Equal(t, enums.ExportJobStatusPending, job.Status)
		targets[job.TargetSystem] = true
	}
	assert.True(t, targets["SEEBURGER"])
	assert.True(t, targets["CHAINIQ"])

	require.Len(t, fx.audit.entries, 2)
	for _, entry := range fx.audit.entries {
		assert.Equal(t, enums.AuditSnapshotRequested, entry.EntryType)
	}
}

func TestEnqueueValidation(t *testing.T) {
	fx := newQueueFixture(t)

	_, err := fx.service.Enqueue(context.Background(), EnqueueInput{Targets: []string{"SEEBURGER"}})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = fx.service.Enqueue(context.Background(), EnqueueInput{SourceEntityID: uuid.New(), Targets: []string{""}})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestClaimLeasesOldestPending(t *testing.T) {
	fx := newQueueFixture(t)
	first := fx.enqueueOne(t, "SEEBURGER")
	fx.enqueueOne(t, "SEEBURGER")

	claimed := fx.claimOne(t, "worker-a")
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, enums.ExportJobStatusInProgress, claimed.Status)
	require.NotNil(t, claimed.ClaimedBy)
	assert.Equal(t, "worker-a", *claimed.ClaimedBy)
	require.NotNil(t, claimed.LeaseExpiresAt)
	assert.Equal(t, fx.now.Add(5*time.Minute), claimed.LeaseExpiresAt.UTC())

	var claimAudits int
	for _, entry := range fx.audit.entries {
		if entry.EntryType == enums.AuditSnapshotClaimed {
			claimAudits++
			assert.Equal(t, claimed.ID, entry.EntityID)
		}
	}
	assert.Equal(t, 1, claimAudits)
}

func TestClaimEmptyQueueReturnsNil(t *testing.T) {
	fx := newQueueFixture(t)

	job, err := fx.service.Claim(context.Background(), ClaimInput{WorkerID: "worker-a"})
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClaimGivesUpAfterAttemptBudget(t *testing.T) {
	fx := newQueueFixture(t)
	fx.enqueueOne(t, "SEEBURGER")
	fx.repo.denyClaim = true

	job, err := fx.service.Claim(context.Background(), ClaimInput{WorkerID: "worker-a"})
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestMarkSuccessResolvesAndEmits(t *testing.T) {
	fx := newQueueFixture(t)
	fx.enqueueOne(t, "SEEBURGER")
	claimed := fx.claimOne(t, "worker-a")

	resolved, err := fx.service.MarkSuccess(context.Background(), ResolveInput{JobID: claimed.ID, Actor: "worker-a"})
	require.NoError(t, err)
	assert.Equal(t, enums.ExportJobStatusSuccess, resolved.Status)
	assert.Nil(t, resolved.LastError)
	assert.Nil(t, resolved.LeaseExpiresAt)

	require.Len(t, fx.outbox.emitted, 1)
	payload, ok := fx.outbox.emitted[0].Data.(payloads.ExportJobResolvedEvent)
	require.True(t, ok)
	assert.Equal(t, claimed.ID, payload.JobID)
	assert.Equal(t, enums.ExportJobStatusSuccess, payload.Status)

	// Repeated success is idempotent and does not re-emit.
	again, err := fx.service.MarkSuccess(context.Background(), ResolveInput{JobID: claimed.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.ExportJobStatusSuccess, again.Status)
	assert.Len(t, fx.outbox.emitted, 1)
}

func TestMarkSuccessRequiresInProgress(t *testing.T) {
	fx := newQueueFixture(t)
	job := fx.enqueueOne(t, "SEEBURGER")

	_, err := fx.service.MarkSuccess(context.Background(), ResolveInput{JobID: job.ID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestMarkFailedRetryableRequeues(t *testing.T) {
	fx := newQueueFixture(t)
	fx.enqueueOne(t, "SEEBURGER")
	claimed := fx.claimOne(t, "worker-a")

	failed, err := fx.service.MarkFailed(context.Background(), FailInput{
		JobID:     claimed.ID,
		Error:     "seeburger timeout",
		Retryable: true,
		Actor:     "worker-a",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.ExportJobStatusPending, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
	assert.Nil(t, failed.ClaimedBy)
	assert.Nil(t, failed.LeaseExpiresAt)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "seeburger timeout", *failed.LastError)
	assert.Empty(t, fx.outbox.emitted, "retryable failure is not a resolution")
}

func TestMarkFailedExhaustedRetriesGoesTerminal(t *testing.T) {
	fx := newQueueFixture(t)
	fx.enqueueOne(t, "SEEBURGER")

	var last *models.ExportJob
	for i := 0; i < 5; i++ {
		claimed := fx.claimOne(t, "worker-a")
		var err error
		last, err = fx.service.MarkFailed(context.Background(), FailInput{
			JobID:     claimed.ID,
			Error:     "seeburger timeout",
			Retryable: true,
			Actor:     "worker-a",
		})
		require.NoError(t, err)
	}

	assert.Equal(t, enums.ExportJobStatusFailed, last.Status)
	assert.Equal(t, 5, last.RetryCount)

	require.Len(t, fx.outbox.emitted, 1)
	payload := fx.outbox.emitted[0].Data.(payloads.ExportJobResolvedEvent)
	assert.Equal(t, enums.ExportJobStatusFailed, payload.Status)
	assert.Equal(t, "seeburger timeout", payload.LastError)

	// Terminal failure is idempotent.
	again, err := fx.service.MarkFailed(context.Background(), FailInput{JobID: last.ID, Error: "late report"})
	require.NoError(t, err)
	assert.Equal(t, enums.ExportJobStatusFailed, again.Status)
	assert.Len(t, fx.outbox.emitted, 1)
}

func TestMarkFailedNonRetryableGoesTerminalImmediately(t *testing.T) {
	fx := newQueueFixture(t)
	fx.enqueueOne(t, "SEEBURGER")
	claimed := fx.claimOne(t, "worker-a")

	failed, err := fx.service.MarkFailed(context.Background(), FailInput{
		JobID: claimed.ID,
		Error: "rejected payload schema",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.ExportJobStatusFailed, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
	assert.Len(t, fx.outbox.emitted, 1)
}

func TestReapExpiredRequeuesLapsedLeases(t *testing.T) {
	fx := newQueueFixture(t)
	fx.enqueueOne(t, "SEEBURGER")
	claimed := fx.claimOne(t, "worker-a")

	// Walk the clock past the lease.
	later := fx.now.Add(10 * time.Minute)
	fx.service.(*service).now = func() time.Time { return later }

	reaped, err := fx.service.ReapExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	job, err := fx.service.FindJob(context.Background(), claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ExportJobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Nil(t, job.ClaimedBy)

	var leaseAudits int
	for _, entry := range fx.audit.entries {
		if entry.EntryType == enums.AuditSnapshotLeaseExpired {
			leaseAudits++
			assert.Equal(t, true, entry.Payload["will_retry"])
		}
	}
	assert.Equal(t, 1, leaseAudits)
}

func TestReapExpiredFailsJobAtRetryBudget(t *testing.T) {
	fx := newQueueFixture(t)
	fx.enqueueOne(t, "SEEBURGER")
	claimed := fx.claimOne(t, "worker-a")
	fx.repo.jobs[claimed.ID].RetryCount = 4

	later := fx.now.Add(10 * time.Minute)
	fx.service.(*service).now = func() time.Time { return later }

	reaped, err := fx.service.ReapExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	job, err := fx.service.FindJob(context.Background(), claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ExportJobStatusFailed, job.Status)
	assert.Equal(t, 5, job.RetryCount)
	require.Len(t, fx.outbox.emitted, 1)
	assert.Equal(t, enums.ExportJobStatusFailed, fx.outbox.emitted[0].Data.(payloads.ExportJobResolvedEvent).Status)
}

func TestReapExpiredSkipsLiveLeases(t *testing.T) {
	fx := newQueueFixture(t)
	fx.enqueueOne(t, "SEEBURGER")
	fx.claimOne(t, "worker-a")

	reaped, err := fx.service.ReapExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, reaped)
}
