package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/chainsettle/chainsettle-backend/internal/audit"
	dbpkg "github.com/chainsettle/chainsettle-backend/pkg/db"
	"github.com/chainsettle/chainsettle-backend/pkg/db/models"
	dbtypes "github.com/chainsettle/chainsettle-backend/pkg/db/types"
	"github.com/chainsettle/chainsettle-backend/pkg/enums"
	pkgerrors "github.com/chainsettle/chainsettle-backend/pkg/errors"
	"github.com/chainsettle/chainsettle-backend/pkg/metrics"
	"github.com/chainsettle/chainsettle-backend/pkg/outbox"
	"github.com/chainsettle/chainsettle-backend/pkg/outbox/payloads"
)

// StatusPending and friends are the free-form per-event statuses the ledger
// accepts alongside the typed event_type.
const (
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
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

// Service is the append-only settlement ledger.
type Service interface {
	Append(ctx context.Context, input AppendInput) (*models.SettlementEvent, error)
	Replace(ctx context.Context, input ReplaceInput) (*models.SettlementEvent, error)
	Delete(ctx context.Context, input DeleteInput) error
	ListEvents(ctx context.Context, intentID uuid.UUID) ([]models.SettlementEvent, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	audit   auditRecorder
	metrics *metrics.LedgerMetrics
}

// AppendInput captures one lifecycle event to record.
type AppendInput struct {
	IntentID   uuid.UUID
	EventType  enums.SettlementEventType
	Status     string
	Amount     decimal.Decimal
	Currency   enums.Currency
	OccurredAt time.Time
	Metadata   dbtypes.JSONMap
	Actor      string
}

// ReplaceInput is an administrative correction of an existing event. Nil
// fields keep the stored value. Replacements bypass the state machine.
type ReplaceInput struct {
	EventID    uuid.UUID
	Status     *string
	Amount     *decimal.Decimal
	Currency   *enums.Currency
	OccurredAt *time.Time
	Metadata   dbtypes.JSONMap
	Actor      string
}

// DeleteInput is an administrative rollback of an existing event.
type DeleteInput struct {
	EventID uuid.UUID
	Actor   string
}

// NewService builds the ledger service with the required collaborators.
// Metrics may be nil.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, auditSvc auditRecorder, ledgerMetrics *metrics.LedgerMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
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
	return &service{
		repo:    repo,
		tx:      tx,
		outbox:  outboxSvc,
		audit:   auditSvc,
		metrics: ledgerMetrics,
	}, nil
}

func (s *service) Append(ctx context.Context, input AppendInput) (*models.SettlementEvent, error) {
	if input.IntentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id required")
	}
	if !input.EventType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid event type %q", input.EventType))
	}
	if input.Status == "" {
		input.Status = StatusPending
	}
	if input.Status != StatusPending && input.Status != StatusSuccess && input.Status != StatusFailed {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid event status %q", input.Status))
	}
	if input.Amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-negative")
	}
	if !input.Currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid currency %q", input.Currency))
	}
	if input.OccurredAt.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "occurred_at required")
	}

	var out *models.SettlementEvent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		intent, err := repo.FindIntent(ctx, input.IntentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "settlement intent not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement intent")
		}

		events, err := repo.ListEvents(ctx, input.IntentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list settlement events")
		}

		// Duplicate appends return the stored event untouched.
		for i := range events {
			if isDuplicate(&events[i], input) {
				out = &events[i]
				return nil
			}
		}

		sequence := 1
		if len(events) > 0 {
			last := &events[len(events)-1]
			if input.OccurredAt.Before(last.OccurredAt) {
				s.metrics.IncRejected("occurred_at_regression")
				return pkgerrors.New(pkgerrors.CodeStateConflict,
					fmt.Sprintf("occurred_at precedes last event (%s < %s)", input.OccurredAt.UTC().Format(time.RFC3339), last.OccurredAt.UTC().Format(time.RFC3339)))
			}
			if err := CanFollow(last.EventType, input.EventType); err != nil {
				s.metrics.IncRejected("transition_rejected")
				return err
			}
			sequence = last.Sequence + 1
		}

		event := &models.SettlementEvent{
			IntentID:   input.IntentID,
			EventType:  input.EventType,
			Status:     input.Status,
			Amount:     input.Amount,
			Currency:   input.Currency,
			OccurredAt: input.OccurredAt,
			Sequence:   sequence,
			Metadata:   input.Metadata,
			Actor:      input.Actor,
		}
		if err := repo.CreateEvent(ctx, event); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_settlement_events_intent_sequence") {
				return pkgerrors.New(pkgerrors.CodeConflict, "concurrent append on settlement intent")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist settlement event")
		}

		hash, ready := deriveIntentState(append(events, *event), intent)
		if err := repo.UpdateIntentDerived(ctx, intent.ID, map[string]any{
			"intent_hash":       hash,
			"ready_for_release": ready,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update intent derived fields")
		}

		domainEvent := outbox.DomainEvent{
			EventType:     enums.EventSettlementEventAppended,
			AggregateType: enums.AggregateSettlementIntent,
			AggregateID:   intent.ID,
			Version:       1,
			OccurredAt:    input.OccurredAt,
			Actor:         actorRef(input.Actor),
			Data: payloads.SettlementEventAppendedEvent{
				IntentID:   intent.ID,
				EventID:    event.ID,
				EventType:  event.EventType,
				Status:     event.Status,
				Amount:     event.Amount,
				Currency:   event.Currency,
				Sequence:   event.Sequence,
				OccurredAt: event.OccurredAt,
				IntentHash: hash,
			},
		}
		if err := s.outbox.Emit(ctx, tx, domainEvent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit settlement event")
		}

		s.metrics.IncAppended(string(event.EventType))
		out = event
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) Replace(ctx context.Context, input ReplaceInput) (*models.SettlementEvent, error) {
	if input.EventID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}
	if input.Currency != nil && !input.Currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid currency %q", *input.Currency))
	}
	if input.Amount != nil && input.Amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-negative")
	}

	var out *models.SettlementEvent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		event, err := repo.FindEvent(ctx, input.EventID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "settlement event not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement event")
		}

		previous := dbtypes.JSONMap{
			"event_type":  string(event.EventType),
			"status":      event.Status,
			"amount":      event.Amount.StringFixed(2),
			"currency":    string(event.Currency),
			"occurred_at": event.OccurredAt.UTC().Format(time.RFC3339Nano),
		}

		if input.Status != nil {
			event.Status = *input.Status
		}
		if input.Amount != nil {
			event.Amount = *input.Amount
		}
		if input.Currency != nil {
			event.Currency = *input.Currency
		}
		if input.OccurredAt != nil {
			event.OccurredAt = *input.OccurredAt
		}
		if input.Metadata != nil {
			event.Metadata = input.Metadata
		}

		if err := repo.UpdateEvent(ctx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update settlement event")
		}

		if err := s.recomputeDerived(ctx, repo, event.IntentID); err != nil {
			return err
		}

		if err := s.audit.Record(ctx, tx, audit.Entry{
			EntryType: enums.AuditEventReplaced,
			EntityID:  event.ID,
			Actor:     input.Actor,
			Payload: dbtypes.JSONMap{
				"intent_id": event.IntentID.String(),
				"previous":  map[string]any(previous),
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit entry")
		}

		out = event
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) Delete(ctx context.Context, input DeleteInput) error {
	if input.EventID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		event, err := repo.FindEvent(ctx, input.EventID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "settlement event not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement event")
		}

		if err := repo.DeleteEvent(ctx, event.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete settlement event")
		}

		if err := s.recomputeDerived(ctx, repo, event.IntentID); err != nil {
			return err
		}

		return s.audit.Record(ctx, tx, audit.Entry{
			EntryType: enums.AuditEventDeleted,
			EntityID:  event.ID,
			Actor:     input.Actor,
			Payload: dbtypes.JSONMap{
				"intent_id":  event.IntentID.String(),
				"event_type": string(event.EventType),
				"sequence":   event.Sequence,
			},
		})
	})
}

func (s *service) ListEvents(ctx context.Context, intentID uuid.UUID) ([]models.SettlementEvent, error) {
	if intentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id required")
	}
	return s.repo.ListEvents(ctx, intentID)
}

func (s *service) recomputeDerived(ctx context.Context, repo Repository, intentID uuid.UUID) error {
	intent, err := repo.FindIntent(ctx, intentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement intent")
	}
	events, err := repo.ListEvents(ctx, intentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list settlement events")
	}
	hash, ready := deriveIntentState(events, intent)
	if err := repo.UpdateIntentDerived(ctx, intentID, map[string]any{
		"intent_hash":       hash,
		"ready_for_release": ready,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update intent derived fields")
	}
	return nil
}

// deriveIntentState computes the hash plus readiness for a record. Readiness
// requires a SUCCESS proof validation and a reconciliation outcome other than
// BLOCK.
func deriveIntentState(events []models.SettlementEvent, intent *models.SettlementIntent) (string, bool) {
	hash := computeIntentHash(events)

	proofValidated := false
	for _, event := range events {
		if event.EventType == enums.SettlementEventProofValidated && event.Status == StatusSuccess {
			proofValidated = true
			break
		}
	}

	blocked := intent.ReconDecision != nil && *intent.ReconDecision == enums.ReconDecisionBlock
	return hash, proofValidated && !blocked
}

func isDuplicate(existing *models.SettlementEvent, input AppendInput) bool {
	return existing.EventType == input.EventType &&
		existing.Status == input.Status &&
		existing.Amount.Equal(input.Amount) &&
		existing.Currency == input.Currency &&
		existing.Metadata.Canonical() == input.Metadata.Canonical()
}

func actorRef(actor string) *outbox.ActorRef {
	if actor == "" {
		return nil
	}
	return &outbox.ActorRef{ID: actor}
}
