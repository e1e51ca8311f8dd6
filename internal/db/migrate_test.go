package db

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations(t *testing.T) {
	files := fstest.MapFS{
		"002_indexes.sql":   {Data: []byte("CREATE INDEX a ON t (x);")},
		"001_scheduler.sql": {Data: []byte("CREATE TABLE t (x INT);")},
		"README.md":         {Data: []byte("not a migration")},
		"draft.sql":         {Data: []byte("-- no version")},
	}

	migrations, err := newMigratorFS(nil, files).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "001_scheduler.sql" {
		t.Errorf("first migration = %d %s", migrations[0].Version, migrations[0].Name)
	}
	if migrations[1].Version != 2 {
		t.Errorf("expected version 2, got %d", migrations[1].Version)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	files := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"01_b.sql":  {Data: []byte("SELECT 2;")},
	}
	if _, err := newMigratorFS(nil, files).LoadMigrations(); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

func TestEmbeddedSchema(t *testing.T) {
	migrations, err := NewMigrator(nil).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no embedded migrations")
	}

	var all strings.Builder
	for _, m := range migrations {
		all.WriteString(m.SQL)
	}
	sql := all.String()
	for _, want := range []string{
		"appointments_unit_slot_active",
		"WHERE status <> 'CANCELLED'",
		"dentist_availability_unit_slot",
		"CREATE TABLE IF NOT EXISTS event_logs",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("schema is missing %q", want)
		}
	}
}
