// Migrations are versioned .sql files named NNNN_description.sql. The part
// after a "-- migrate:down" line, when present, reverts the file.
package db

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const migrationsLogPrefix = "db:migrations"

const downMarker = "-- migrate:down"

var (
	// ErrNothingApplied is returned by MigrationDown when no migration is recorded.
	ErrNothingApplied = errors.New("no migration applied")
	// ErrIrreversible is returned by MigrationDown for a file without a down section.
	ErrIrreversible = errors.New("migration has no down section")
)

// Migration is one schema change.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// ParseMigration splits a migration file into its version, up and down parts.
func ParseMigration(filename, content string) (Migration, error) {
	base := strings.TrimSuffix(filepath.Base(filename), ".sql")
	prefix, name, _ := strings.Cut(base, "_")
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return Migration{}, fmt.Errorf("%s - %s: name must start with a positive version number", migrationsLogPrefix, filename)
	}
	m := Migration{Version: version, Name: name}
	up, down, found := strings.Cut(content, downMarker)
	m.Up = strings.TrimSpace(up)
	if found {
		m.Down = strings.TrimSpace(down)
	}
	if m.Up == "" {
		return Migration{}, fmt.Errorf("%s - %s: empty up section", migrationsLogPrefix, filename)
	}
	return m, nil
}

// LoadMigrations reads every .sql file in dir, ordered by version.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	var out []Migration
	seen := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, path, err)
		}
		m, err := ParseMigration(e.Name(), string(data))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[m.Version]; dup {
			return nil, fmt.Errorf("%s - version %d used by %s and %s", migrationsLogPrefix, m.Version, prev, e.Name())
		}
		seen[m.Version] = e.Name()
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })

	slog.Debug(fmt.Sprintf("%s - Loaded %d migrations from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

// Pending returns the migrations whose version is not in applied, in order.
func Pending(migrations []Migration, applied []int) []Migration {
	var out []Migration
	for _, m := range migrations {
		if !containsInt(applied, m.Version) {
			out = append(out, m)
		}
	}
	return out
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
