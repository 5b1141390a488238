package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chainsettle/chainsettle-backend/pkg/migrate"
)

func TestSettlementEventsMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_settlement_events.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no settlement events migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE settlement_events",
		"REFERENCES settlement_intents (id)",
		"CREATE UNIQUE INDEX ux_settlement_events_intent_sequence",
		"DROP TABLE IF EXISTS settlement_events",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestExportJobsMigrationContainsLeaseIndex(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_export_jobs.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no export jobs migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE export_jobs",
		"lease_expires_at",
		"ix_export_jobs_status_created_at",
		"DROP TABLE IF EXISTS export_jobs",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations dir: %v", err)
	}
}
