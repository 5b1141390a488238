package exports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chainsettle/chainsettle-backend/internal/audit"
	"github.com/chainsettle/chainsettle-backend/pkg/config"
	"github.com/chainsettle/chainsettle-backend/pkg/db/models"
	dbtypes "github.com/chainsettle/chainsettle-backend/pkg/db/types"
	"github.com/chainsettle/chainsettle-backend/pkg/enums"
	pkgerrors "github.com/chainsettle/chainsettle-backend/pkg/errors"
	"github.com/chainsettle/chainsettle-backend/pkg/metrics"
	"github.com/chainsettle/chainsettle-backend/pkg/outbox"
	"github.com/chainsettle/chainsettle-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry audit.Entry) error
}

// Service is the snapshot export claim queue.
type Service interface {
	Enqueue(ctx context.Context, input EnqueueInput) ([]models.ExportJob, error)
	Claim(ctx context.Context, input ClaimInput) (*models.ExportJob, error)
	MarkSuccess(ctx context.Context, input ResolveInput) (*models.ExportJob, error)
	MarkFailed(ctx context.Context, input FailInput) (*models.ExportJob, error)
	ReapExpired(ctx context.Context) (int, error)
	ListPending(ctx context.Context, limit int) ([]models.ExportJob, error)
	FindJob(ctx context.Context, id uuid.UUID) (*models.ExportJob, error)
}

// EnqueueInput fans one source entity out to the configured target systems.
type EnqueueInput struct {
	SourceEntityID uuid.UUID
	Targets        []string
	Actor          string
}

// ClaimInput identifies the worker asking for a job. TargetSystem narrows the
// scan; empty means any target.
type ClaimInput struct {
	WorkerID     string
	TargetSystem string
}

// ResolveInput completes a claimed job.
type ResolveInput struct {
	JobID uuid.UUID
	Actor string
}

// FailInput reports a claimed job's delivery failure. Retryable failures go
// back to PENDING until the retry budget runs out.
type FailInput struct {
	JobID     uuid.UUID
	Error     string
	Retryable bool
	Actor     string
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	audit   auditRecorder
	metrics *metrics.ExportQueueMetrics
	cfg     config.ExportsConfig
	now     func() time.Time
}

// NewService builds the export queue service. Metrics may be nil.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, auditSvc auditRecorder, queueMetrics *metrics.ExportQueueMetrics, cfg config.ExportsConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("exports repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if auditSvc == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if cfg.MaxRetries <= 0 {
		return nil, fmt.Errorf("exports max retries must be positive")
	}
	if cfg.ClaimAttempts <= 0 {
		return nil, fmt.Errorf("exports claim attempts must be positive")
	}
	if cfg.LeaseTTL <= 0 {
		return nil, fmt.Errorf("exports lease ttl must be positive")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		outbox:  outboxSvc,
		audit:   auditSvc,
		metrics: queueMetrics,
		cfg:     cfg,
		now:     time.Now,
	}, nil
}

func (s *service) Enqueue(ctx context.Context, input EnqueueInput) ([]models.ExportJob, error) {
	if input.SourceEntityID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "source entity id required")
	}
	targets := input.Targets
	if len(targets) == 0 {
		targets = s.cfg.Targets
	}
	if len(targets) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one target system required")
	}

	jobs := make([]*models.ExportJob, 0, len(targets))
	for _, target := range targets {
		if target == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "target system must not be empty")
		}
		jobs = append(jobs, &models.ExportJob{
			SourceEntityID: input.SourceEntityID,
			TargetSystem:   target,
			Status:         enums.ExportJobStatusPending,
		})
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).InsertJobs(ctx, jobs); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert export jobs")
		}
		for _, job := range jobs {
			if err := s.audit.Record(ctx, tx, audit.Entry{
				EntryType: enums.AuditSnapshotRequested,
				EntityID:  job.ID,
				Actor:     input.Actor,
				Payload: dbtypes.JSONMap{
					"source_entity_id": job.SourceEntityID.String(),
					"target_system":    job.TargetSystem,
				},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit entry")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.ExportJob, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, *job)
	}
	return out, nil
}

// Claim hands the oldest eligible PENDING job to the calling worker. Losing a
// claim race is not an error; the worker retries against the next candidate up
// to the configured attempt budget, then comes back empty-handed.
func (s *service) Claim(ctx context.Context, input ClaimInput) (*models.ExportJob, error) {
	if input.WorkerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "worker id required")
	}

	for attempt := 0; attempt < s.cfg.ClaimAttempts; attempt++ {
		candidate, err := s.repo.OldestEligiblePending(ctx, input.TargetSystem, s.cfg.MaxRetries)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan pending export jobs")
		}

		var claimed *models.ExportJob
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			now := s.now().UTC()
			won, err := repo.TryClaim(ctx, candidate.ID, input.WorkerID, now, now.Add(s.cfg.LeaseTTL))
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim export job")
			}
			if !won {
				return nil
			}
			job, err := repo.FindJob(ctx, candidate.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload claimed export job")
			}
			if err := s.audit.Record(ctx, tx, audit.Entry{
				EntryType: enums.AuditSnapshotClaimed,
				EntityID:  job.ID,
				Actor:     input.WorkerID,
				Payload: dbtypes.JSONMap{
					"target_system":    job.TargetSystem,
					"retry_count":      job.RetryCount,
					"lease_expires_at": job.LeaseExpiresAt.UTC().Format(time.RFC3339),
				},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit entry")
			}
			claimed = job
			return nil
		})
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			s.metrics.IncClaimed()
			return claimed, nil
		}
		s.metrics.IncClaimConflict()
	}
	return nil, nil
}

func (s *service) MarkSuccess(ctx context.Context, input ResolveInput) (*models.ExportJob, error) {
	if input.JobID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "job id required")
	}

	var out *models.ExportJob
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		job, err := findJob(ctx, repo, input.JobID)
		if err != nil {
			return err
		}
		if job.Status == enums.ExportJobStatusSuccess {
			out = job
			return nil
		}
		if job.Status != enums.ExportJobStatusInProgress {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("export job is %s, only IN_PROGRESS jobs can succeed", job.Status))
		}

		updated, err := repo.ResolveInProgress(ctx, job.ID, map[string]any{
			"status":           enums.ExportJobStatusSuccess,
			"last_error":       nil,
			"lease_expires_at": nil,
			"updated_at":       s.now().UTC(),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve export job")
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeConflict, "export job changed state concurrently")
		}

		job, err = repo.FindJob(ctx, job.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload export job")
		}

		if err := s.audit.Record(ctx, tx, audit.Entry{
			EntryType: enums.AuditSnapshotCompleted,
			EntityID:  job.ID,
			Actor:     input.Actor,
			Payload: dbtypes.JSONMap{
				"target_system": job.TargetSystem,
				"retry_count":   job.RetryCount,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit entry")
		}
		if err := s.emitResolved(ctx, tx, job, input.Actor); err != nil {
			return err
		}

		s.metrics.IncResolved(string(enums.ExportJobStatusSuccess))
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) MarkFailed(ctx context.Context, input FailInput) (*models.ExportJob, error) {
	if input.JobID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "job id required")
	}
	if input.Error == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "failure reason required")
	}

	var out *models.ExportJob
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		job, err := findJob(ctx, repo, input.JobID)
		if err != nil {
			return err
		}
		if job.Status == enums.ExportJobStatusFailed {
			out = job
			return nil
		}
		if job.Status != enums.ExportJobStatusInProgress {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("export job is %s, only IN_PROGRESS jobs can fail", job.Status))
		}

		retryCount := job.RetryCount + 1
		if retryCount > s.cfg.MaxRetries {
			retryCount = s.cfg.MaxRetries
		}
		willRetry := input.Retryable && retryCount < s.cfg.MaxRetries

		fields := map[string]any{
			"retry_count":      retryCount,
			"last_error":       input.Error,
			"claimed_by":       nil,
			"claimed_at":       nil,
			"lease_expires_at": nil,
			"updated_at":       s.now().UTC(),
		}
		if willRetry {
			fields["status"] = enums.ExportJobStatusPending
		} else {
			fields["status"] = enums.ExportJobStatusFailed
		}

		updated, err := repo.ResolveInProgress(ctx, job.ID, fields)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail export job")
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeConflict, "export job changed state concurrently")
		}

		job, err = repo.FindJob(ctx, job.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload export job")
		}

		if err := s.audit.Record(ctx, tx, audit.Entry{
			EntryType: enums.AuditSnapshotFailed,
			EntityID:  job.ID,
			Actor:     input.Actor,
			Payload: dbtypes.JSONMap{
				"target_system": job.TargetSystem,
				"retry_count":   job.RetryCount,
				"error":         input.Error,
				"will_retry":    willRetry,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit entry")
		}

		if !willRetry {
			if err := s.emitResolved(ctx, tx, job, input.Actor); err != nil {
				return err
			}
			s.metrics.IncResolved(string(enums.ExportJobStatusFailed))
		}

		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReapExpired returns lapsed IN_PROGRESS jobs to the queue, or fails them once
// the retry budget is spent. It reports how many rows it moved.
func (s *service) ReapExpired(ctx context.Context) (int, error) {
	cutoff := s.now().UTC()
	expired, err := s.repo.ListExpiredInProgress(ctx, cutoff)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired export jobs")
	}

	reaped := 0
	for i := range expired {
		job := expired[i]
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			retryCount := job.RetryCount + 1
			if retryCount > s.cfg.MaxRetries {
				retryCount = s.cfg.MaxRetries
			}
			willRetry := retryCount < s.cfg.MaxRetries

			fields := map[string]any{
				"retry_count":      retryCount,
				"last_error":       "lease expired",
				"claimed_by":       nil,
				"claimed_at":       nil,
				"lease_expires_at": nil,
				"updated_at":       s.now().UTC(),
			}
			if willRetry {
				fields["status"] = enums.ExportJobStatusPending
			} else {
				fields["status"] = enums.ExportJobStatusFailed
			}

			released, err := repo.ReleaseExpired(ctx, job.ID, cutoff, fields)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release expired export job")
			}
			if !released {
				// The worker resolved or re-leased the row between the scan
				// and this update. Nothing to do.
				return nil
			}

			reloaded, err := repo.FindJob(ctx, job.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload export job")
			}

			if err := s.audit.Record(ctx, tx, audit.Entry{
				EntryType: enums.AuditSnapshotLeaseExpired,
				EntityID:  reloaded.ID,
				Actor:     "reaper",
				Payload: dbtypes.JSONMap{
					"target_system": reloaded.TargetSystem,
					"claimed_by":    derefString(job.ClaimedBy),
					"retry_count":   reloaded.RetryCount,
					"will_retry":    willRetry,
				},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit entry")
			}

			if !willRetry {
				if err := s.emitResolved(ctx, tx, reloaded, "reaper"); err != nil {
					return err
				}
				s.metrics.IncResolved(string(enums.ExportJobStatusFailed))
			}

			s.metrics.IncReaped()
			reaped++
			return nil
		})
		if err != nil {
			return reaped, err
		}
	}
	return reaped, nil
}

func (s *service) ListPending(ctx context.Context, limit int) ([]models.ExportJob, error) {
	return s.repo.ListPending(ctx, limit)
}

func (s *service) FindJob(ctx context.Context, id uuid.UUID) (*models.ExportJob, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "job id required")
	}
	return findJob(ctx, s.repo, id)
}

func (s *service) emitResolved(ctx context.Context, tx *gorm.DB, job *models.ExportJob, actor string) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventExportJobResolved,
		AggregateType: enums.AggregateExportJob,
		AggregateID:   job.ID,
		Version:       1,
		OccurredAt:    s.now().UTC(),
		Data: payloads.ExportJobResolvedEvent{
			JobID:          job.ID,
			SourceEntityID: job.SourceEntityID,
			TargetSystem:   job.TargetSystem,
			Status:         job.Status,
			RetryCount:     job.RetryCount,
			LastError:      derefString(job.LastError),
		},
	}
	if actor != "" {
		event.Actor = &outbox.ActorRef{ID: actor}
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit export job resolved")
	}
	return nil
}

func findJob(ctx context.Context, repo Repository, id uuid.UUID) (*models.ExportJob, error) {
	job, err := repo.FindJob(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "export job not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load export job")
	}
	return job, nil
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
