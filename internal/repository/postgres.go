package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

type PoolConfig struct {
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetimeS int
	ConnMaxIdleTimeS int
}

func (p PoolConfig) apply(db *sql.DB) {
	if p.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.MaxOpenConns)
	}
	if p.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.MaxIdleConns)
	}
	if p.ConnMaxLifetimeS > 0 {
		db.SetConnMaxLifetime(time.Duration(p.ConnMaxLifetimeS) * time.Second)
	}
	if p.ConnMaxIdleTimeS > 0 {
		db.SetConnMaxIdleTime(time.Duration(p.ConnMaxIdleTimeS) * time.Second)
	}
}

func NewPostgresDB(ctx context.Context, databaseURL string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresDB: open: %w", err)
	}
	pool.apply(db)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewPostgresDB: ping: %w", err)
	}

	return db, nil
}

// ConnectWithRetry keeps trying NewPostgresDB once a second until it
// succeeds, attempts run out or ctx is done.
func ConnectWithRetry(ctx context.Context, databaseURL string, pool PoolConfig, attempts int, logger *slog.Logger) (*sql.DB, error) {
	var lastErr error
	for i := range attempts {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		db, err := NewPostgresDB(pingCtx, databaseURL, pool)
		cancel()
		if err == nil {
			return db, nil
		}
		lastErr = err
		logger.Info("waiting for database", "attempt", i+1, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ConnectWithRetry: %w", ctx.Err())
		case <-time.After(time.Second):
		}
	}
	return nil, fmt.Errorf("ConnectWithRetry: gave up after %d attempts: %w", attempts, lastErr)
}
