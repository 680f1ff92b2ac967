package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/warden/pkg/config"
)

// Pool wraps the PostgreSQL connection pool
type Pool struct {
	db     *sql.DB
	config config.DatabaseConfig
}

// NewPool opens and verifies a connection pool
func NewPool(cfg config.DatabaseConfig) (*Pool, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{db: db, config: cfg}, nil
}

// DB returns the underlying database handle
func (p *Pool) DB() *sql.DB {
	return p.db
}

// HealthCheck verifies the pool is reachable
func (p *Pool) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unhealthy: %w", err)
	}
	return nil
}

// Stats returns connection pool statistics
func (p *Pool) Stats() sql.DBStats {
	return p.db.Stats()
}

// Close closes the connection pool
func (p *Pool) Close() error {
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}
