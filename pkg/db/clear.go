package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearCatalog removes every endpoint row. The schema is preserved.
func ClearCatalog(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing endpoint catalog", clearLogPrefix))

	if _, err := pool.Exec(ctx, `TRUNCATE TABLE endpoints`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Catalog cleared", clearLogPrefix))
	return nil
}
