package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const migrateLogPrefix = "db:migrate"

const schemaMigrationsDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// MigrationReport describes the schema state against a set of migration files.
type MigrationReport struct {
	Applied []int
	Pending []Migration
}

// AppliedVersions returns the recorded migration versions in ascending order.
func AppliedVersions(ctx context.Context, pool *pgxpool.Pool) ([]int, error) {
	if _, err := pool.Exec(ctx, schemaMigrationsDDL); err != nil {
		return nil, fmt.Errorf("%s - failed to create schema_migrations: %w", migrateLogPrefix, err)
	}
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read schema_migrations: %w", migrateLogPrefix, err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("%s - scan version: %w", migrateLogPrefix, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// RunMigrations applies every pending migration, each in its own transaction,
// and returns how many were applied.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) (int, error) {
	applied, err := AppliedVersions(ctx, pool)
	if err != nil {
		return 0, err
	}
	pending := Pending(migrations, applied)
	slog.Info(fmt.Sprintf("%s - %d applied, %d pending", migrateLogPrefix, len(applied), len(pending)))

	for i, m := range pending {
		if err := apply(ctx, pool, m.Up, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			return i, fmt.Errorf("%s - migration %d (%s) failed: %w", migrateLogPrefix, m.Version, m.Name, err)
		}
		slog.Info(fmt.Sprintf("%s - Applied %04d_%s", migrateLogPrefix, m.Version, m.Name))
	}
	return len(pending), nil
}

// MigrationStatus compares the database with migrations.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) (*MigrationReport, error) {
	applied, err := AppliedVersions(ctx, pool)
	if err != nil {
		return nil, err
	}
	return &MigrationReport{Applied: applied, Pending: Pending(migrations, applied)}, nil
}

// MigrationDown reverts the most recently applied migration and returns it.
func MigrationDown(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) (*Migration, error) {
	applied, err := AppliedVersions(ctx, pool)
	if err != nil {
		return nil, err
	}
	if len(applied) == 0 {
		return nil, ErrNothingApplied
	}
	last := applied[len(applied)-1]

	var m *Migration
	for i := range migrations {
		if migrations[i].Version == last {
			m = &migrations[i]
			break
		}
	}
	if m == nil {
		return nil, fmt.Errorf("%s - applied version %d has no migration file", migrateLogPrefix, last)
	}
	if m.Down == "" {
		return nil, fmt.Errorf("%s - %04d_%s: %w", migrateLogPrefix, m.Version, m.Name, ErrIrreversible)
	}
	if err := apply(ctx, pool, m.Down, `DELETE FROM schema_migrations WHERE version = $1`, m.Version); err != nil {
		return nil, fmt.Errorf("%s - revert %d failed: %w", migrateLogPrefix, m.Version, err)
	}
	slog.Info(fmt.Sprintf("%s - Reverted %04d_%s", migrateLogPrefix, m.Version, m.Name))
	return m, nil
}

// apply runs sql and the bookkeeping statement in one transaction.
func apply(ctx context.Context, pool *pgxpool.Pool, sql, record string, args ...any) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, sql); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, record, args...); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
