package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected at least one migration")
	}
	if migrations[0].Version != 1 {
		t.Errorf("expected first migration version 1, got %d", migrations[0].Version)
	}
}

func TestRunMigrationsIdempotent(t *testing.T) {
	db := openTestDB(t)
	for i := range 2 {
		if err := runMigrations(db); err != nil {
			t.Fatalf("runMigrations pass %d: %v", i+1, err)
		}
	}

	var versions []int
	if err := db.Select(&versions, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
		t.Fatalf("query versions: %v", err)
	}
	migrations, _ := loadMigrations()
	if len(versions) != len(migrations) {
		t.Errorf("recorded %d versions, want %d", len(versions), len(migrations))
	}

	var tables []string
	if err := db.Select(&tables, "SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('studies', 'samples', 'locks') ORDER BY name"); err != nil {
		t.Fatalf("list tables: %v", err)
	}
	if len(tables) != 3 {
		t.Errorf("tables = %v", tables)
	}
}
