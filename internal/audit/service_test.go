package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbtypes "github.com/chainsettle/chainsettle-backend/pkg/db/types"
	"github.com/chainsettle/chainsettle-backend/pkg/enums"
	pkgerrors "github.com/chainsettle/chainsettle-backend/pkg/errors"
)

func setupAuditTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	entries := `
CREATE TABLE IF NOT EXISTS audit_entries (
  id TEXT PRIMARY KEY,
  entry_type TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  actor TEXT NOT NULL DEFAULT '',
  payload TEXT,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(entries).Error)
	// The shared cache keeps rows across tests in this package.
	require.NoError(t, db.Exec("DELETE FROM audit_entries").Error)
	return db
}

func TestRecordAndListByEntity(t *testing.T) {
	db := setupAuditTestDB(t)
	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)
	ctx := context.Background()

	entityID := uuid.New()
	require.NoError(t, svc.Record(ctx, db, Entry{
		EntryType: enums.AuditSnapshotRequested,
		EntityID:  entityID,
		Actor:     "ops@chainsettle",
		Payload:   dbtypes.JSONMap{"target_system": "SEEBURGER"},
	}))
	require.NoError(t, svc.Record(ctx, db, Entry{
		EntryType: enums.AuditSnapshotClaimed,
		EntityID:  entityID,
		Actor:     "worker-a",
	}))
	require.NoError(t, svc.Record(ctx, db, Entry{
		EntryType: enums.AuditSnapshotRequested,
		EntityID:  uuid.New(),
	}))

	rows, err := svc.ListByEntity(ctx, entityID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, entityID, row.EntityID)
		assert.False(t, row.CreatedAt.IsZero())
		assert.WithinDuration(t, time.Now(), row.CreatedAt, time.Minute)
	}
}

func TestRecordValidation(t *testing.T) {
	db := setupAuditTestDB(t)
	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)
	ctx := context.Background()

	err = svc.Record(ctx, db, Entry{
		EntryType: enums.AuditEntryType("SOMETHING_ELSE"),
		EntityID:  uuid.New(),
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	err = svc.Record(ctx, db, Entry{EntryType: enums.AuditSnapshotRequested})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestListByEntityHonorsLimit(t *testing.T) {
	db := setupAuditTestDB(t)
	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)
	ctx := context.Background()

	entityID := uuid.New()
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Record(ctx, db, Entry{
			EntryType: enums.AuditSnapshotFailed,
			EntityID:  entityID,
		}))
	}

	rows, err := svc.ListByEntity(ctx, entityID, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
