package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConnections  = 25
	defaultMaxConnLifetime = time.Hour
	defaultMaxConnIdleTime = 30 * time.Minute
)

// DB is the process-wide Postgres pool. It is created once at startup,
// injected into the scope middleware and closed on shutdown.
type DB struct {
	*pgxpool.Pool
}

// Config holds pool settings. Zero values fall back to package defaults,
// except HealthCheck which keeps the pgxpool default.
type Config struct {
	URL             string
	ApplicationName string // reported in pg_stat_activity
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	HealthCheck     time.Duration
}

func (c *Config) poolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pc.MaxConns = orDefault(c.MaxConnections, defaultMaxConnections)
	pc.MinConns = min(c.MinConnections, pc.MaxConns)
	pc.MaxConnLifetime = orDefault(c.MaxConnLifetime, defaultMaxConnLifetime)
	pc.MaxConnIdleTime = orDefault(c.MaxConnIdleTime, defaultMaxConnIdleTime)
	if c.HealthCheck > 0 {
		pc.HealthCheckPeriod = c.HealthCheck
	}
	if c.ApplicationName != "" {
		pc.ConnConfig.RuntimeParams["application_name"] = c.ApplicationName
	}
	return pc, nil
}

func orDefault[T int32 | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// NewConnection opens the pool and pings it. The pool is closed again if the
// ping fails, so callers may retry without leaking connections.
func NewConnection(ctx context.Context, cfg *Config) (*DB, error) {
	pc, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// PoolStats is a point-in-time view of pool usage, shaped for logging.
type PoolStats struct {
	Total    int32
	Idle     int32
	InUse    int32
	MaxConns int32
}

// Stats reports current pool usage.
func (db *DB) Stats() PoolStats {
	s := db.Pool.Stat()
	return PoolStats{
		Total:    s.TotalConns(),
		Idle:     s.IdleConns(),
		InUse:    s.AcquiredConns(),
		MaxConns: s.MaxConns(),
	}
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
