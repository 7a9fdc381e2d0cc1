package migrations

import (
	"strings"
	"testing"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := files.ReadDir("sql")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no embedded migrations")
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected migration file %s", name)
		}
	}
	for base := range ups {
		if !downs[base] {
			t.Errorf("migration %s has no down file", base)
		}
	}
	for base := range downs {
		if !ups[base] {
			t.Errorf("migration %s has no up file", base)
		}
	}
}

func TestInitMigrationCoversAllTables(t *testing.T) {
	raw, err := files.ReadFile("sql/0001_init.up.sql")
	if err != nil {
		t.Fatalf("read init migration: %v", err)
	}
	schema := string(raw)

	for _, table := range []string{
		"app_users",
		"app_projects",
		"app_scripts",
		"app_shots",
		"app_shot_bindings",
		"app_library_entities",
		"app_references",
		"app_assets",
		"app_asset_versions",
		"app_jobs",
		"app_wallet_accounts",
		"app_wallet_entries",
	} {
		if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("init migration missing table %s", table)
		}
	}

	if !strings.Contains(schema, "UNIQUE (project_id, entity_id)") {
		t.Error("references table must keep one row per entity per project")
	}
}
