package controllers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chainsettle/chainsettle-backend/api/middleware"
	"github.com/chainsettle/chainsettle-backend/api/responses"
	"github.com/chainsettle/chainsettle-backend/api/validators"
	"github.com/chainsettle/chainsettle-backend/internal/recon"
	"github.com/chainsettle/chainsettle-backend/internal/settlements"
	"github.com/chainsettle/chainsettle-backend/pkg/enums"
	pkgerrors "github.com/chainsettle/chainsettle-backend/pkg/errors"
	"github.com/chainsettle/chainsettle-backend/pkg/logger"
	"github.com/chainsettle/chainsettle-backend/pkg/pagination"
)

type createIntentPayload struct {
	ShipmentID     string `json:"shipment_id" validate:"required,uuid"`
	Counterparty   string `json:"counterparty" validate:"required"`
	Amount         string `json:"amount" validate:"required"`
	Currency       string `json:"currency" validate:"required"`
	RiskSnapshotID string `json:"risk_snapshot_id" validate:"omitempty,uuid"`
	ProofPackID    string `json:"proof_pack_id" validate:"omitempty,uuid"`
}

type reconLinePayload struct {
	LineID    string `json:"line_id" validate:"required"`
	Quantity  string `json:"quantity" validate:"required"`
	UnitPrice string `json:"unit_price" validate:"required"`
}

type runReconciliationPayload struct {
	OrderedLines         []reconLinePayload `json:"ordered_lines" validate:"required,min=1,dive"`
	ExecutedLines        []reconLinePayload `json:"executed_lines" validate:"required,min=1,dive"`
	InvoicedLines        []reconLinePayload `json:"invoiced_lines" validate:"required,min=1,dive"`
	TempExcursionMinutes int                `json:"temp_excursion_minutes" validate:"min=0"`
}

// CreateSettlementIntent opens a settlement record for a shipment.
func CreateSettlementIntent(svc settlements.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var payload createIntentPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		amount, err := decimal.NewFromString(payload.Amount)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount"))
			return
		}

		input := settlements.CreateInput{
			ShipmentID:   uuid.MustParse(payload.ShipmentID),
			Counterparty: payload.Counterparty,
			Amount:       amount,
			Currency:     enums.Currency(payload.Currency),
		}
		if payload.RiskSnapshotID != "" {
			id := uuid.MustParse(payload.RiskSnapshotID)
			input.RiskSnapshotID = &id
		}
		if payload.ProofPackID != "" {
			id := uuid.MustParse(payload.ProofPackID)
			input.ProofPackID = &id
		}

		intent, err := svc.Create(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, intent)
	}
}

// GetSettlementIntent returns one intent with its derived fields.
func GetSettlementIntent(svc settlements.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		intentID, err := uuid.Parse(chi.URLParam(r, "intentID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid intent id"))
			return
		}

		intent, err := svc.Get(ctx, intentID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, intent)
	}
}

// ListSettlementIntents pages through intents, optionally filtered by status.
func ListSettlementIntents(svc settlements.Service, logg *logger.Logger) http.HandlerFunc {
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

		list, err := svc.List(ctx, settlements.ListInput{
			Status: r.URL.Query().Get("status"),
			Params: pagination.Params{
				Limit:  limit,
				Cursor: r.URL.Query().Get("cursor"),
			},
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"intents":     list.Intents,
			"next_cursor": list.NextCursor,
		})
	}
}

// RunReconciliation executes the three-way match for one intent.
func RunReconciliation(svc settlements.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		intentID, err := uuid.Parse(chi.URLParam(r, "intentID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid intent id"))
			return
		}

		var payload runReconciliationPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := settlements.ReconcileInput{
			IntentID:             intentID,
			TempExcursionMinutes: payload.TempExcursionMinutes,
			Actor:                middleware.ActorFromContext(ctx),
		}
		if input.OrderedLines, err = parseReconLines(payload.OrderedLines); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if input.ExecutedLines, err = parseReconLines(payload.ExecutedLines); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if input.InvoicedLines, err = parseReconLines(payload.InvoicedLines); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		outcome, err := svc.RunReconciliation(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"intent": outcome.Intent,
			"result": outcome.Result,
		})
	}
}

func parseReconLines(payloads []reconLinePayload) ([]recon.Line, error) {
	lines := make([]recon.Line, 0, len(payloads))
	for _, p := range payloads {
		quantity, err := decimal.NewFromString(p.Quantity)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid quantity on line "+p.LineID)
		}
		unitPrice, err := decimal.NewFromString(p.UnitPrice)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid unit price on line "+p.LineID)
		}
		lines = append(lines, recon.Line{LineID: p.LineID, Quantity: quantity, UnitPrice: unitPrice})
	}
	return lines, nil
}
