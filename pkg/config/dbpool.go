package config

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DBPool hands out one shared *sql.DB per distinct DSN so the conversation
// store, the human-agent registry, and any other SQL-backed component
// opened from the same config reuse a single bounded pool instead of each
// dialing its own.
type DBPool struct {
	mu    sync.Mutex
	pools map[string]*sql.DB
}

// NewDBPool creates an empty pool manager.
func NewDBPool() *DBPool {
	return &DBPool{pools: make(map[string]*sql.DB)}
}

// Get returns the *sql.DB for cfg, opening and pinging it on first use.
func (p *DBPool) Get(cfg *DatabaseConfig) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := cfg.DriverName() + "|" + cfg.DSN()
	if db, ok := p.pools[key]; ok {
		return db, nil
	}

	db, err := p.open(cfg)
	if err != nil {
		return nil, err
	}
	p.pools[key] = db
	return db, nil
}

func (p *DBPool) open(cfg *DatabaseConfig) (*sql.DB, error) {
	driverName := cfg.DriverName()

	db, err := sql.Open(driverName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driverName, err)
	}

	if driverName == "sqlite3" {
		// SQLite allows exactly one writer; serialize access through a
		// single connection to avoid "database is locked" errors.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driverName, err)
	}

	if driverName == "sqlite3" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			slog.Warn("failed to enable WAL mode", "error", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=10000"); err != nil {
			slog.Warn("failed to set sqlite busy timeout", "error", err)
		}
	}

	return db, nil
}

// Close closes every pooled connection.
func (p *DBPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for key, db := range p.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close pool %s: %w", key, err)
		}
	}
	p.pools = make(map[string]*sql.DB)
	return firstErr
}
