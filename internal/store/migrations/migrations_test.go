package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	return db
}

func TestUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := Up(db); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	tables := []string{
		"settings", "hotels", "mapping_configs", "mapping_entries",
		"import_groups", "import_definitions", "mapping_table_state",
		"cache_metadata", "schema_migrations",
	}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheck_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	err := Check(db)
	if err == nil {
		t.Error("Check() expected error for fresh database, got nil")
	}
	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("Check() error = %q, want error about needing migration", err.Error())
	}
}

func TestCheck_AfterMigration(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := Up(db); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	if err := Check(db); err != nil {
		t.Errorf("Check() after migration returned error: %v", err)
	}
}

func TestUp_Idempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := Up(db); err != nil {
		t.Fatalf("First Up() failed: %v", err)
	}
	if err := Up(db); err != nil {
		t.Errorf("Second Up() failed: %v (should be idempotent)", err)
	}
	if err := Check(db); err != nil {
		t.Errorf("Check() after double migration returned error: %v", err)
	}
}

func TestSchema_MappingTableState_SingleRow(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := Up(db); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	_, err := db.Exec(`INSERT INTO mapping_table_state (id, version, data, combos, updated_at)
		VALUES (1, 1, x'7b7d', x'5b5d', datetime('now'))`)
	if err != nil {
		t.Fatalf("Failed to insert mapping table state: %v", err)
	}

	// The CHECK constraint pins the table to a single row with id 1.
	_, err = db.Exec(`INSERT INTO mapping_table_state (id, version, data, combos, updated_at)
		VALUES (2, 1, x'7b7d', x'5b5d', datetime('now'))`)
	if err == nil {
		t.Error("Expected CHECK constraint violation for id != 1, but insert succeeded")
	}
}
