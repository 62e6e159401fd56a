package db

import (
	"os"
	"path/filepath"
	"testing"
)

const migrationsTestPrefix = "db:migrations_test"

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("%s - failed to write %s: %v", migrationsTestPrefix, name, err)
		}
	}
}

func TestParseMigration(t *testing.T) {
	m, err := ParseMigration("0002_add_index.sql", "CREATE INDEX i ON t (c);\n\n-- migrate:down\nDROP INDEX i;\n")
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	if m.Version != 2 || m.Name != "add_index" {
		t.Errorf("%s - version/name = %d/%q", migrationsTestPrefix, m.Version, m.Name)
	}
	if m.Up != "CREATE INDEX i ON t (c);" || m.Down != "DROP INDEX i;" {
		t.Errorf("%s - up/down = %q/%q", migrationsTestPrefix, m.Up, m.Down)
	}

	m, err = ParseMigration("0003_forward.sql", "ALTER TABLE t ADD COLUMN x INT;")
	if err != nil || m.Down != "" {
		t.Errorf("%s - forward-only migration = %+v, %v", migrationsTestPrefix, m, err)
	}
}

func TestParseMigration_Errors(t *testing.T) {
	tests := []struct {
		name, file, content string
	}{
		{"no version", "create_table.sql", "CREATE TABLE t ();"},
		{"zero version", "0000_init.sql", "CREATE TABLE t ();"},
		{"empty up", "0001_empty.sql", "\n-- migrate:down\nDROP TABLE t;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMigration(tt.file, tt.content); err == nil {
				t.Errorf("%s - expected error for %s", migrationsTestPrefix, tt.file)
			}
		})
	}
}

func TestLoadMigrations_OrderAndFilter(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"0010_third.sql":  "THIRD",
		"0001_first.sql":  "FIRST",
		"0002_second.sql": "SECOND",
		"README.md":       "# Migrations",
	})
	if err := os.Mkdir(filepath.Join(dir, "0003_dir.sql"), 0755); err != nil {
		t.Fatalf("%s - mkdir: %v", migrationsTestPrefix, err)
	}

	got, err := LoadMigrations(dir)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	if len(got) != 3 {
		t.Fatalf("%s - expected 3 migrations, got %d", migrationsTestPrefix, len(got))
	}
	for i, want := range []string{"FIRST", "SECOND", "THIRD"} {
		if got[i].Up != want {
			t.Errorf("%s - migration %d = %q, want %q", migrationsTestPrefix, i, got[i].Up, want)
		}
	}
	if got[2].Version != 10 {
		t.Errorf("%s - numeric order expected, last version = %d", migrationsTestPrefix, got[2].Version)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"0001_a.sql": "A", "001_b.sql": "B"})
	if _, err := LoadMigrations(dir); err == nil {
		t.Error("db:migrations_test - expected duplicate version error")
	}
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	if _, err := LoadMigrations(filepath.Join(t.TempDir(), "nonexistent")); err == nil {
		t.Error("db:migrations_test - expected error for non-existent directory")
	}
}

func TestLoadMigrations_Repository(t *testing.T) {
	got, err := LoadMigrations(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("%s - repository migrations: %v", migrationsTestPrefix, err)
	}
	if len(got) == 0 || got[0].Version != 1 || got[0].Down == "" {
		t.Errorf("%s - first migration should be reversible version 1: %+v", migrationsTestPrefix, got)
	}
}

func TestPending(t *testing.T) {
	all := []Migration{{Version: 1}, {Version: 2}, {Version: 3}}
	tests := []struct {
		name    string
		applied []int
		want    []int
	}{
		{"none applied", nil, []int{1, 2, 3}},
		{"some applied", []int{1}, []int{2, 3}},
		{"gap", []int{1, 3}, []int{2}},
		{"all applied", []int{1, 2, 3}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Pending(all, tt.applied)
			if len(got) != len(tt.want) {
				t.Fatalf("%s - Pending = %+v, want versions %v", migrationsTestPrefix, got, tt.want)
			}
			for i := range got {
				if got[i].Version != tt.want[i] {
					t.Errorf("%s - Pending[%d] = %d, want %d", migrationsTestPrefix, i, got[i].Version, tt.want[i])
				}
			}
		})
	}
}

func TestContainsInt(t *testing.T) {
	tests := []struct {
		slice []int
		val   int
		want  bool
	}{
		{[]int{1, 2, 3}, 2, true},
		{[]int{1, 2, 3}, 4, false},
		{nil, 1, false},
	}
	for _, tt := range tests {
		if got := containsInt(tt.slice, tt.val); got != tt.want {
			t.Errorf("%s - containsInt(%v, %d) = %v, want %v", migrationsTestPrefix, tt.slice, tt.val, got, tt.want)
		}
	}
}
