// Package db stores the endpoint catalog in Postgres via pgx.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// PoolOptions tunes NewPool. Zero fields keep the defaults.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	ApplicationName string
}

const (
	defaultMaxConns = 10
	defaultMinConns = 1
)

func (o PoolOptions) apply(config *pgxpool.Config) {
	config.MaxConns = defaultMaxConns
	if o.MaxConns > 0 {
		config.MaxConns = o.MaxConns
	}
	config.MinConns = defaultMinConns
	if o.MinConns > 0 {
		config.MinConns = o.MinConns
	}
	if config.MinConns > config.MaxConns {
		config.MinConns = config.MaxConns
	}
	if o.ApplicationName != "" {
		config.ConnConfig.RuntimeParams["application_name"] = o.ApplicationName
	}
}

// NewPool connects to databaseURL and pings it before returning.
func NewPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}
	opts.apply(config)
	slog.Info(fmt.Sprintf("%s - Connecting to %s/%s (max %d conns)", logPrefix, config.ConnConfig.Host, config.ConnConfig.Database, config.MaxConns))

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}
	return pool, nil
}
