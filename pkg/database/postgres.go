// Package database owns the pgx connection pool and schema migrations for
// the cohort store.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the pgxpool pool shared by the repositories.
type DB struct {
	*pgxpool.Pool
}

// Config sizes the pool. The workload is read-only and bursty: one filter
// request fans out into a handful of SELECTs against the variable and
// summary tables, and the startup precompute runs them all back to back.
type Config struct {
	URL            string
	MaxConnections int32
	MinConnections int32
}

// NewConnection opens the pool and verifies the store is reachable before
// any repository sees it.
func NewConnection(ctx context.Context, cfg *Config) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConnections
	if poolCfg.MaxConns <= 0 {
		poolCfg.MaxConns = 10
	}
	poolCfg.MinConns = cfg.MinConnections
	if poolCfg.MinConns <= 0 {
		poolCfg.MinConns = 2
	}
	// Connections sit idle between request bursts; recycle them slowly and
	// let the health check weed out ones the server dropped in the meantime.
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.Pool.Close()
}
