package controllers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chainsettle/chainsettle-backend/api/responses"
	"github.com/chainsettle/chainsettle-backend/internal/audit"
	pkgerrors "github.com/chainsettle/chainsettle-backend/pkg/errors"
	"github.com/chainsettle/chainsettle-backend/pkg/logger"
)

// ListAuditEntries is the operator view of the audit stream for one entity.
func ListAuditEntries(svc audit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		entityID, err := uuid.Parse(chi.URLParam(r, "entityID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid entity id"))
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid limit"))
				return
			}
			limit = parsed
		}

		entries, err := svc.ListByEntity(ctx, entityID, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"entries": entries})
	}
}
