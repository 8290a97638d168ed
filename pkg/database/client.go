// Package database provides the PostgreSQL connection pool and
// migration utilities shared by all three processes.
package database

import (
	"context"
	stdsql "database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for golang-migrate
)

// Client wraps the pgx connection pool. Application queries go through
// Pool(); migrations run once at construction over a short-lived
// database/sql connection.
type Client struct {
	pool *pgxpool.Pool
	dsn  string
}

// Pool returns the underlying pgx pool.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// DSN returns the connection string, for components that need a
// dedicated connection (the LISTEN/NOTIFY wakeup listener).
func (c *Client) DSN() string {
	return c.dsn
}

// Close releases the pool.
func (c *Client) Close() {
	c.pool.Close()
}

// NewClient connects, applies pending migrations, and returns a pooled
// client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	dsn := cfg.DSN()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(dsn, cfg.Database); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Client{pool: pool, dsn: dsn}, nil
}

// NewClientFromPool wraps an externally owned pool (tests). No
// migrations are run; the caller is responsible for schema setup and
// for closing the pool.
func NewClientFromPool(pool *pgxpool.Pool, dsn string) *Client {
	return &Client{pool: pool, dsn: dsn}
}

// HealthStatus reports connectivity and pool statistics.
type HealthStatus struct {
	Status         string `json:"status"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	TotalConns     int32  `json:"total_conns"`
	IdleConns      int32  `json:"idle_conns"`
	AcquiredConns  int32  `json:"acquired_conns"`
	MaxConns       int32  `json:"max_conns"`
}

// Health pings the database and snapshots pool statistics.
func Health(ctx context.Context, c *Client) (*HealthStatus, error) {
	start := nowMillis()
	if err := c.pool.Ping(ctx); err != nil {
		return &HealthStatus{
			Status:         "unhealthy",
			ResponseTimeMs: nowMillis() - start,
		}, err
	}
	stat := c.pool.Stat()
	return &HealthStatus{
		Status:         "healthy",
		ResponseTimeMs: nowMillis() - start,
		TotalConns:     stat.TotalConns(),
		IdleConns:      stat.IdleConns(),
		AcquiredConns:  stat.AcquiredConns(),
		MaxConns:       stat.MaxConns(),
	}, nil
}

// openSQL opens a database/sql handle on the pgx stdlib driver, used
// only by the migration runner.
func openSQL(dsn string) (*stdsql.DB, error) {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}
