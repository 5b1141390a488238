package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chainsettle/chainsettle-backend/pkg/db/models"
	dbtypes "github.com/chainsettle/chainsettle-backend/pkg/db/types"
	"github.com/chainsettle/chainsettle-backend/pkg/enums"
	pkgerrors "github.com/chainsettle/chainsettle-backend/pkg/errors"
)

// Entry is one audit fact to record alongside a mutation.
type Entry struct {
	EntryType enums.AuditEntryType
	EntityID  uuid.UUID
	Actor     string
	Payload   dbtypes.JSONMap
}

// Service records append-only audit entries. Entries ride in the same
// transaction as the mutation they describe and are never read back by core
// logic.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
	ListByEntity(ctx context.Context, entityID uuid.UUID, limit int) ([]models.AuditEntry, error)
}

type service struct {
	repo Repository
}

// NewService wires an audit service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Record(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if !entry.EntryType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid audit entry type %q", entry.EntryType))
	}
	if entry.EntityID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "audit entity id required")
	}

	row := &models.AuditEntry{
		EntryType: entry.EntryType,
		EntityID:  entry.EntityID,
		Actor:     entry.Actor,
		Payload:   entry.Payload,
	}
	return s.repo.WithTx(tx).Insert(ctx, row)
}

func (s *service) ListByEntity(ctx context.Context, entityID uuid.UUID, limit int) ([]models.AuditEntry, error) {
	if entityID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "entity id required")
	}
	return s.repo.ListByEntity(ctx, entityID, limit)
}
