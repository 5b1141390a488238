package settlements

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/chainsettle/chainsettle-backend/internal/exports"
	"github.com/chainsettle/chainsettle-backend/internal/ledger"
	"github.com/chainsettle/chainsettle-backend/internal/recon"
	"github.com/chainsettle/chainsettle-backend/pkg/config"
	"github.com/chainsettle/chainsettle-backend/pkg/db/models"
	dbtypes "github.com/chainsettle/chainsettle-backend/pkg/db/types"
	"github.com/chainsettle/chainsettle-backend/pkg/enums"
	pkgerrors "github.com/chainsettle/chainsettle-backend/pkg/errors"
	"github.com/chainsettle/chainsettle-backend/pkg/metrics"
	"github.com/chainsettle/chainsettle-backend/pkg/outbox"
	"github.com/chainsettle/chainsettle-backend/pkg/outbox/payloads"
	"github.com/chainsettle/chainsettle-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ledgerAppender interface {
	Append(ctx context.Context, input ledger.AppendInput) (*models.SettlementEvent, error)
}

type exportEnqueuer interface {
	Enqueue(ctx context.Context, input exports.EnqueueInput) ([]models.ExportJob, error)
}

// Service owns settlement intent records and the reconciliation run that
// decorates them.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.SettlementIntent, error)
	Get(ctx context.Context, id uuid.UUID) (*models.SettlementIntent, error)
	List(ctx context.Context, input ListInput) (*IntentList, error)
	RunReconciliation(ctx context.Context, input ReconcileInput) (*ReconOutcome, error)
}

// CreateInput opens a settlement intent for a shipment.
type CreateInput struct {
	ShipmentID     uuid.UUID
	Counterparty   string
	Amount         decimal.Decimal
	Currency       enums.Currency
	RiskSnapshotID *uuid.UUID
	ProofPackID    *uuid.UUID
}

// ListInput filters the intent listing.
type ListInput struct {
	Status string
	pagination.Params
}

// IntentList is one page of intents plus the cursor for the next page.
type IntentList struct {
	Intents    []models.SettlementIntent
	NextCursor string
}

// ReconcileInput carries the three-way match inputs for one run.
type ReconcileInput struct {
	IntentID             uuid.UUID
	OrderedLines         []recon.Line
	ExecutedLines        []recon.Line
	InvoicedLines        []recon.Line
	TempExcursionMinutes int
	Actor                string
}

// ReconOutcome pairs the engine result with the refreshed intent.
type ReconOutcome struct {
	Intent *models.SettlementIntent
	Result recon.Result
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	ledger  ledgerAppender
	exports exportEnqueuer
	policy  recon.Policy
	targets []string
	metrics *metrics.LedgerMetrics
	now     func() time.Time
}

// NewService wires the intent service. Metrics may be nil.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, ledgerSvc ledgerAppender, exportsSvc exportEnqueuer, cfg config.Config, ledgerMetrics *metrics.LedgerMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("settlements repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if exportsSvc == nil {
		return nil, fmt.Errorf("exports service required")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		outbox:  outboxSvc,
		ledger:  ledgerSvc,
		exports: exportsSvc,
		policy:  recon.PolicyFromConfig(cfg.Recon),
		targets: cfg.Exports.Targets,
		metrics: ledgerMetrics,
		now:     time.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.SettlementIntent, error) {
	if input.ShipmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment id required")
	}
	if input.Counterparty == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "counterparty required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !input.Currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid currency %q", input.Currency))
	}

	intent := &models.SettlementIntent{
		ShipmentID:           input.ShipmentID,
		Counterparty:         input.Counterparty,
		Amount:               input.Amount,
		Currency:             input.Currency,
		Status:               enums.SettlementIntentStatusPending,
		LatestRiskSnapshotID: input.RiskSnapshotID,
		ProofPackID:          input.ProofPackID,
	}
	if err := s.repo.CreateIntent(ctx, intent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create settlement intent")
	}
	return intent, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.SettlementIntent, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id required")
	}
	intent, err := s.repo.FindIntent(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "settlement intent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement intent")
	}
	return intent, nil
}

func (s *service) List(ctx context.Context, input ListInput) (*IntentList, error) {
	params := listIntentsParams{Limit: input.Limit}

	if input.Status != "" {
		status, err := enums.ParseSettlementIntentStatus(input.Status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		params.Status = &status
	}
	if input.Cursor != "" {
		cursor, err := pagination.ParseCursor(input.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		params.Cursor = cursor
	}

	intents, next, err := s.repo.ListIntents(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list settlement intents")
	}

	list := &IntentList{Intents: intents}
	if next != nil {
		list.NextCursor = pagination.EncodeCursor(*next)
	}
	return list, nil
}

// RunReconciliation executes the engine against one intent, persists the
// decision onto the record and fans the downstream effects out: a RECONCILED
// ledger event and one export job per configured target system.
func (s *service) RunReconciliation(ctx context.Context, input ReconcileInput) (*ReconOutcome, error) {
	intent, err := s.Get(ctx, input.IntentID)
	if err != nil {
		return nil, err
	}

	result, err := recon.Reconcile(recon.Bundle{
		SettlementID:         intent.ID,
		Policy:               s.policy,
		Currency:             intent.Currency,
		OrderedLines:         input.OrderedLines,
		ExecutedLines:        input.ExecutedLines,
		InvoicedLines:        input.InvoicedLines,
		TempExcursionMinutes: input.TempExcursionMinutes,
	})
	if err != nil {
		return nil, err
	}

	lineResults, err := json.Marshal(result.Lines)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal line results")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		fields := map[string]any{
			"recon_decision":     result.Decision,
			"approved_amount":    result.ApprovedAmount,
			"held_amount":        result.HeldAmount,
			"recon_score":        result.Score,
			"recon_policy_id":    result.PolicyID,
			"recon_flags":        pq.StringArray(result.Flags),
			"recon_line_results": json.RawMessage(lineResults),
		}
		if result.Decision == enums.ReconDecisionBlock {
			fields["status"] = enums.SettlementIntentStatusBlocked
		}
		if err := repo.UpdateReconOutcome(ctx, intent.ID, fields); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist reconciliation outcome")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventSettlementReconciled,
			AggregateType: enums.AggregateSettlementIntent,
			AggregateID:   intent.ID,
			Version:       1,
			OccurredAt:    s.now().UTC(),
			Data: payloads.SettlementReconciledEvent{
				IntentID:       intent.ID,
				Decision:       result.Decision,
				ApprovedAmount: result.ApprovedAmount,
				HeldAmount:     result.HeldAmount,
				Score:          result.Score,
				PolicyID:       result.PolicyID,
				Flags:          result.Flags,
			},
		}
		if input.Actor != "" {
			event.Actor = &outbox.ActorRef{ID: input.Actor}
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit reconciliation event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncDecision(string(result.Decision))

	// The outcome is stored before the ledger append so the derived readiness
	// check sees a BLOCK decision. The append can still be rejected by the
	// lifecycle rules; the caller gets that error with the outcome persisted.
	if _, err := s.ledger.Append(ctx, ledger.AppendInput{
		IntentID:   intent.ID,
		EventType:  enums.SettlementEventReconciled,
		Status:     ledger.StatusSuccess,
		Amount:     result.ApprovedAmount,
		Currency:   intent.Currency,
		OccurredAt: s.now().UTC(),
		Actor:      input.Actor,
		Metadata: dbtypes.JSONMap{
			"decision":  string(result.Decision),
			"score":     result.Score,
			"policy_id": result.PolicyID,
		},
	}); err != nil {
		return nil, err
	}

	if _, err := s.exports.Enqueue(ctx, exports.EnqueueInput{
		SourceEntityID: intent.ID,
		Targets:        s.targets,
		Actor:          input.Actor,
	}); err != nil {
		return nil, err
	}

	refreshed, err := s.Get(ctx, intent.ID)
	if err != nil {
		return nil, err
	}
	return &ReconOutcome{Intent: refreshed, Result: result}, nil
}
