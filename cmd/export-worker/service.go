package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/chainsettle/chainsettle-backend/internal/exports"
	"github.com/chainsettle/chainsettle-backend/pkg/config"
	"github.com/chainsettle/chainsettle-backend/pkg/db/models"
	"github.com/chainsettle/chainsettle-backend/pkg/logger"
	"github.com/chainsettle/chainsettle-backend/pkg/metrics"
)

const (
	defaultPollMs         = 500
	defaultReapInterval   = time.Minute
	defaultDeliverTimeout = 30 * time.Second
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond

	deliverJobLabel = "export_deliver"
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	Ping(context.Context) error
}

type exportQueue interface {
	Claim(ctx context.Context, input exports.ClaimInput) (*models.ExportJob, error)
	MarkSuccess(ctx context.Context, input exports.ResolveInput) (*models.ExportJob, error)
	MarkFailed(ctx context.Context, input exports.FailInput) (*models.ExportJob, error)
	ReapExpired(ctx context.Context) (int, error)
}

// Exporter delivers one claimed job to its target system.
type Exporter interface {
	Deliver(ctx context.Context, job models.ExportJob) error
}

// NonRetryableError marks a delivery failure the queue must not retry.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable delivery failure"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

// logExporter is the default delivery adapter. It logs the handoff and acks,
// which is what staging runs against until a real target connector is wired.
type logExporter struct {
	logg *logger.Logger
}

func (e logExporter) Deliver(ctx context.Context, job models.ExportJob) error {
	ctx = e.logg.WithFields(ctx, map[string]any{
		"job_id":           job.ID.String(),
		"source_entity_id": job.SourceEntityID.String(),
		"target_system":    job.TargetSystem,
	})
	e.logg.Info(ctx, "export snapshot delivered")
	return nil
}

type ServiceParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           dbClient
	Queue        exportQueue
	Exporter     Exporter
	Metrics      *metrics.WorkerJobMetrics
	WorkerID     string
	TargetSystem string
}

type Service struct {
	cfg            *config.Config
	logg           *logger.Logger
	db             dbClient
	queue          exportQueue
	exporter       Exporter
	metrics        *metrics.WorkerJobMetrics
	workerID       string
	targetSystem   string
	pollInterval   time.Duration
	reapInterval   time.Duration
	deliverTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Queue == nil {
		return nil, errors.New("export queue is required")
	}
	if params.WorkerID == "" {
		return nil, errors.New("worker id is required")
	}

	exporter := params.Exporter
	if exporter == nil {
		exporter = logExporter{logg: params.Logger}
	}

	pollMs := params.Config.Exports.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	reapInterval := params.Config.Exports.ReapInterval
	if reapInterval <= 0 {
		reapInterval = defaultReapInterval
	}

	return &Service{
		cfg:            params.Config,
		logg:           params.Logger,
		db:             params.DB,
		queue:          params.Queue,
		exporter:       exporter,
		metrics:        params.Metrics,
		workerID:       params.WorkerID,
		targetSystem:   params.TargetSystem,
		pollInterval:   time.Duration(pollMs) * time.Millisecond,
		reapInterval:   reapInterval,
		deliverTimeout: defaultDeliverTimeout,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.db.Ping(ctx); err != nil {
		s.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}

	interval := s.pollInterval
	backoff := interval
	nextReap := time.Now()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "export worker context canceled")
			return ctx.Err()
		default:
		}

		if !time.Now().Before(nextReap) {
			s.reap(ctx)
			nextReap = time.Now().Add(s.reapInterval)
		}

		processed, err := s.processOne(ctx)
		if err != nil {
			s.logg.Error(ctx, "export worker pass error", err)
			backoff = nextBackoff(backoff, interval, maxBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval

		if processed {
			continue
		}

		if err := s.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

// processOne claims and delivers a single job. It reports whether a job was
// handled so the loop can skip the idle sleep on a busy queue.
func (s *Service) processOne(ctx context.Context) (bool, error) {
	job, err := s.queue.Claim(ctx, exports.ClaimInput{
		WorkerID:     s.workerID,
		TargetSystem: s.targetSystem,
	})
	if err != nil {
		return false, fmt.Errorf("claim export job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	fields := map[string]any{
		"job_id":           job.ID.String(),
		"source_entity_id": job.SourceEntityID.String(),
		"target_system":    job.TargetSystem,
		"retry_count":      job.RetryCount,
	}

	deliverCtx, cancel := context.WithTimeout(ctx, s.deliverTimeout)
	start := time.Now()
	deliverErr := s.exporter.Deliver(deliverCtx, *job)
	cancel()
	s.metrics.ObserveDuration(deliverJobLabel, time.Since(start))

	if deliverErr == nil {
		if _, err := s.queue.MarkSuccess(ctx, exports.ResolveInput{
			JobID: job.ID,
			Actor: s.workerID,
		}); err != nil {
			return true, fmt.Errorf("mark success %s: %w", job.ID, err)
		}
		s.metrics.IncSuccess(deliverJobLabel)
		s.logg.Info(s.logg.WithFields(ctx, fields), "export job delivered")
		return true, nil
	}

	var nonRetry NonRetryableError
	retryable := !errors.As(deliverErr, &nonRetry)

	fields["retryable"] = retryable
	ctxWithFields := s.logg.WithFields(ctx, fields)
	ctxWithFields = s.logg.WithField(ctxWithFields, "error", deliverErr.Error())
	s.logg.Warn(ctxWithFields, "export delivery failed")

	if _, err := s.queue.MarkFailed(ctx, exports.FailInput{
		JobID:     job.ID,
		Error:     deliverErr.Error(),
		Retryable: retryable,
		Actor:     s.workerID,
	}); err != nil {
		return true, fmt.Errorf("mark failure %s: %w", job.ID, err)
	}
	s.metrics.IncFailure(deliverJobLabel)
	return true, nil
}

func (s *Service) reap(ctx context.Context) {
	reaped, err := s.queue.ReapExpired(ctx)
	if err != nil {
		s.logg.Error(ctx, "export lease reap failed", err)
		return
	}
	if reaped > 0 {
		s.logg.Info(s.logg.WithField(ctx, "reaped", reaped), "expired export leases reclaimed")
	}
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}
