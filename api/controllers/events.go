package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chainsettle/chainsettle-backend/api/middleware"
	"github.com/chainsettle/chainsettle-backend/api/responses"
	"github.com/chainsettle/chainsettle-backend/api/validators"
	"github.com/chainsettle/chainsettle-backend/internal/ledger"
	dbtypes "github.com/chainsettle/chainsettle-backend/pkg/db/types"
	"github.com/chainsettle/chainsettle-backend/pkg/enums"
	pkgerrors "github.com/chainsettle/chainsettle-backend/pkg/errors"
	"github.com/chainsettle/chainsettle-backend/pkg/logger"
)

type appendEventPayload struct {
	EventType  string          `json:"event_type" validate:"required"`
	Status     string          `json:"status" validate:"omitempty,oneof=PENDING SUCCESS FAILED"`
	Amount     string          `json:"amount" validate:"required"`
	Currency   string          `json:"currency" validate:"required"`
	OccurredAt time.Time       `json:"occurred_at" validate:"required"`
	Metadata   dbtypes.JSONMap `json:"metadata"`
}

type replaceEventPayload struct {
	Status     *string         `json:"status" validate:"omitempty,oneof=PENDING SUCCESS FAILED"`
	Amount     *string         `json:"amount"`
	Currency   *string         `json:"currency"`
	OccurredAt *time.Time      `json:"occurred_at"`
	Metadata   dbtypes.JSONMap `json:"metadata"`
}

// ListSettlementEvents returns an intent's ledger in sequence order.
func ListSettlementEvents(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		intentID, err := uuid.Parse(chi.URLParam(r, "intentID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid intent id"))
			return
		}

		events, err := svc.ListEvents(ctx, intentID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"events": events})
	}
}

// AppendSettlementEvent records one lifecycle event on an intent.
func AppendSettlementEvent(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		intentID, err := uuid.Parse(chi.URLParam(r, "intentID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid intent id"))
			return
		}

		var payload appendEventPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		amount, err := decimal.NewFromString(payload.Amount)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount"))
			return
		}

		event, err := svc.Append(ctx, ledger.AppendInput{
			IntentID:   intentID,
			EventType:  enums.SettlementEventType(payload.EventType),
			Status:     payload.Status,
			Amount:     amount,
			Currency:   enums.Currency(payload.Currency),
			OccurredAt: payload.OccurredAt,
			Metadata:   payload.Metadata,
			Actor:      middleware.ActorFromContext(ctx),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, event)
	}
}

// ReplaceSettlementEvent is the admin correction endpoint. Omitted fields keep
// their stored values.
func ReplaceSettlementEvent(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event id"))
			return
		}

		var payload replaceEventPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := ledger.ReplaceInput{
			EventID:    eventID,
			Status:     payload.Status,
			OccurredAt: payload.OccurredAt,
			Metadata:   payload.Metadata,
			Actor:      middleware.ActorFromContext(ctx),
		}
		if payload.Amount != nil {
			amount, err := decimal.NewFromString(*payload.Amount)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount"))
				return
			}
			input.Amount = &amount
		}
		if payload.Currency != nil {
			currency := enums.Currency(*payload.Currency)
			input.Currency = &currency
		}

		event, err := svc.Replace(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, event)
	}
}

// DeleteSettlementEvent is the admin rollback endpoint.
func DeleteSettlementEvent(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event id"))
			return
		}

		if err := svc.Delete(ctx, ledger.DeleteInput{
			EventID: eventID,
			Actor:   middleware.ActorFromContext(ctx),
		}); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"deleted": true})
	}
}
