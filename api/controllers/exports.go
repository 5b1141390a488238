package controllers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chainsettle/chainsettle-backend/api/middleware"
	"github.com/chainsettle/chainsettle-backend/api/responses"
	"github.com/chainsettle/chainsettle-backend/api/validators"
	"github.com/chainsettle/chainsettle-backend/internal/exports"
	pkgerrors "github.com/chainsettle/chainsettle-backend/pkg/errors"
	"github.com/chainsettle/chainsettle-backend/pkg/logger"
)

type enqueueExportsPayload struct {
	SourceEntityID string   `json:"source_entity_id" validate:"required,uuid"`
	Targets        []string `json:"targets" validate:"omitempty,min=1,dive,required"`
}

type claimExportPayload struct {
	WorkerID     string `json:"worker_id" validate:"required"`
	TargetSystem string `json:"target_system"`
}

type failExportPayload struct {
	Error     string `json:"error" validate:"required"`
	Retryable bool   `json:"retryable"`
}

// EnqueueExportJobs fans a source entity out to the export targets.
func EnqueueExportJobs(svc exports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var payload enqueueExportsPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		jobs, err := svc.Enqueue(ctx, exports.EnqueueInput{
			SourceEntityID: uuid.MustParse(payload.SourceEntityID),
			Targets:        payload.Targets,
			Actor:          middleware.ActorFromContext(ctx),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{"jobs": jobs})
	}
}

// ClaimExportJob leases the oldest eligible job to the calling worker. An
// empty queue is a 200 with a null job, not an error.
func ClaimExportJob(svc exports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var payload claimExportPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		job, err := svc.Claim(ctx, exports.ClaimInput{
			WorkerID:     payload.WorkerID,
			TargetSystem: payload.TargetSystem,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"job": job})
	}
}

// MarkExportJobSucceeded resolves a claimed job.
func MarkExportJobSucceeded(svc exports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid job id"))
			return
		}

		job, err := svc.MarkSuccess(ctx, exports.ResolveInput{
			JobID: jobID,
			Actor: middleware.ActorFromContext(ctx),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}

// MarkExportJobFailed reports a delivery failure on a claimed job.
func MarkExportJobFailed(svc exports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid job id"))
			return
		}

		var payload failExportPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		job, err := svc.MarkFailed(ctx, exports.FailInput{
			JobID:     jobID,
			Error:     payload.Error,
			Retryable: payload.Retryable,
			Actor:     middleware.ActorFromContext(ctx),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}

// GetExportJob returns one job, terminal rows included.
func GetExportJob(svc exports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid job id"))
			return
		}

		job, err := svc.FindJob(ctx, jobID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}

// ListPendingExportJobs shows the queue backlog.
func ListPendingExportJobs(svc exports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid limit"))
				return
			}
			limit = parsed
		}

		jobs, err := svc.ListPending(ctx, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"jobs": jobs})
	}
}
