package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PoolConfig tunes the connection pool and the startup ping. Zero fields
// fall back to DefaultPoolConfig.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// PingAttempts bounds how many times the startup ping is tried before
	// giving up, PingBackoff apart.
	PingAttempts int
	PingBackoff  time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    30,
		MaxIdleConns:    15,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
		PingAttempts:    1,
		PingBackoff:     time.Second,
	}
}

func (c PoolConfig) withDefaults() PoolConfig {
	def := DefaultPoolConfig()
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = def.MaxOpenConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = def.MaxIdleConns
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
	if c.PingAttempts <= 0 {
		c.PingAttempts = def.PingAttempts
	}
	if c.PingBackoff <= 0 {
		c.PingBackoff = def.PingBackoff
	}
	return c
}

func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	return OpenPostgresWithConfig(ctx, dsn, DefaultPoolConfig())
}

// OpenPostgresWithConfig opens a pgx-backed pool and pings it until it
// answers or the attempts run out.
func OpenPostgresWithConfig(ctx context.Context, dsn string, cfg PoolConfig) (*sql.DB, error) {
	sqldb, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	cfg = cfg.withDefaults()
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := pingWithRetry(ctx, sqldb, cfg.PingAttempts, cfg.PingBackoff); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return sqldb, nil
}

func pingWithRetry(ctx context.Context, sqldb *sql.DB, attempts int, backoff time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("ping db: %w", ctx.Err())
			case <-t.C:
			}
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = sqldb.PingContext(pingCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("ping db after %d attempt(s): %w", attempts, lastErr)
}
