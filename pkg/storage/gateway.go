/*
Copyright 2026 Zestminds.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package storage implements the gateway that owns the PostgreSQL connection
// pool. Standalone queries are retried on transient faults; transactional
// work is never retried: the transaction aborts and the caller decides.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/apperrors"
)

const (
	// maxQueryAttempts bounds standalone query retries (attempts total, not
	// retries after the first).
	maxQueryAttempts = 3

	// maxReconnectAttempts bounds the background reconnect loop. After
	// exhaustion the gateway stays degraded until restart.
	maxReconnectAttempts = 5

	healthCheckTimeout = 5 * time.Second
	shutdownCeiling    = 10 * time.Second

	// slowQueryThreshold triggers a warning carrying a truncated statement.
	slowQueryThreshold = time.Second
	slowQuerySQLPrefix = 100
)

// Config sizes the pool and tunes the retry backoff. Zero values fall back
// to production defaults; tests shrink the backoff.
type Config struct {
	MaxConns    int
	MinConns    int
	IdleTimeout time.Duration

	RetryBase time.Duration
	RetryCap  time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 20
	}
	if c.MinConns <= 0 {
		c.MinConns = 2
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryCap <= 0 {
		c.RetryCap = 5 * time.Second
	}
}

// Gateway wraps the pool and is the only component that talks to the driver.
type Gateway struct {
	db     *sqlx.DB
	logger *zap.Logger
	cfg    Config

	connected         atomic.Bool
	reconnecting      atomic.Bool
	reconnectAttempts atomic.Int64
}

// Open connects to PostgreSQL with the pgx stdlib driver and configures the
// pool. The initial connectivity probe runs against the returned gateway via
// HealthCheck; Open itself does not dial.
func Open(dsn string, cfg Config, logger *zap.Logger) (*Gateway, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return NewWithDB(db, cfg, logger), nil
}

// NewWithDB wraps an existing handle. Tests hand in a sqlmock connection.
func NewWithDB(db *sql.DB, cfg Config, logger *zap.Logger) *Gateway {
	cfg.applyDefaults()

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)

	g := &Gateway{
		db:     sqlx.NewDb(db, "pgx"),
		logger: logger.Named("storage"),
		cfg:    cfg,
	}
	g.connected.Store(true)
	return g
}

// DB exposes the underlying handle for components that need driver-level
// access (goose migrations).
func (g *Gateway) DB() *sql.DB {
	return g.db.DB
}

// Exec runs a standalone statement with the retry policy.
func (g *Gateway) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := g.withRetry(ctx, query, func() error {
		var execErr error
		res, execErr = g.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// Get scans a single row into dest with the retry policy.
func (g *Gateway) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return g.withRetry(ctx, query, func() error {
		return g.db.GetContext(ctx, dest, query, args...)
	})
}

// Select scans all rows into dest with the retry policy.
func (g *Gateway) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return g.withRetry(ctx, query, func() error {
		return g.db.SelectContext(ctx, dest, query, args...)
	})
}

// Queryx streams rows. Streaming cannot be retried mid-iteration, so only
// the initial round-trip participates in the retry policy.
func (g *Gateway) Queryx(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	var rows *sqlx.Rows
	err := g.withRetry(ctx, query, func() error {
		var queryErr error
		rows, queryErr = g.db.QueryxContext(ctx, query, args...)
		return queryErr
	})
	return rows, err
}

// Transaction runs scope inside BEGIN/COMMIT. The transaction rolls back on
// a scope error or panic; the connection is released on every exit path. No
// retry applies inside.
func (g *Gateway) Transaction(ctx context.Context, scope func(tx *sqlx.Tx) error) error {
	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return g.classify(err, "beginning transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := scope(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			g.logger.Error("rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return g.classify(err, "committing transaction")
	}
	return nil
}

// withRetry applies the standalone-query retry policy: up to three attempts
// total when the classified fault is retryable, exponential backoff base 1s
// capped at 5s. sql.ErrNoRows is a result, not a fault, and passes through.
func (g *Gateway) withRetry(ctx context.Context, query string, op func() error) error {
	var lastErr error
	backoff := g.cfg.RetryBase

	for attempt := 1; attempt <= maxQueryAttempts; attempt++ {
		start := time.Now()
		err := op()
		g.observe(query, time.Since(start))

		if err == nil {
			return nil
		}
		if err == sql.ErrNoRows {
			return err
		}

		classified := g.classify(err, "query failed")
		lastErr = classified
		if !apperrors.IsRetryable(classified) || attempt == maxQueryAttempts {
			return classified
		}

		g.logger.Warn("retrying query after transient fault",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return g.classify(ctx.Err(), "query canceled during backoff")
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > g.cfg.RetryCap {
			backoff = g.cfg.RetryCap
		}
	}
	return lastErr
}

// observe emits the slow-query warning with a truncated statement.
func (g *Gateway) observe(query string, elapsed time.Duration) {
	if elapsed <= slowQueryThreshold {
		return
	}
	truncated := query
	if len(truncated) > slowQuerySQLPrefix {
		truncated = truncated[:slowQuerySQLPrefix]
	}
	g.logger.Warn("slow query",
		zap.Duration("elapsed", elapsed),
		zap.String("sql", truncated),
	)
}

// HealthCheck runs a trivial read under a 5s wall deadline and flips the
// connected state. A failed probe engages the background reconnect loop.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var one int
	if err := g.db.GetContext(probeCtx, &one, "SELECT 1"); err != nil {
		g.connected.Store(false)
		g.startReconnect()
		return g.classify(err, "health check failed")
	}
	g.connected.Store(true)
	return nil
}

// Healthy reports the last known connectivity state. False after the
// reconnect loop exhausts its attempts.
func (g *Gateway) Healthy() bool {
	return g.connected.Load()
}

// startReconnect launches the background reconnect loop unless one is
// already running. At most five attempts with exponential backoff; after
// exhaustion the gateway stays degraded and surfaces unhealthy.
func (g *Gateway) startReconnect() {
	if !g.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer g.reconnecting.Store(false)

		backoff := g.cfg.RetryBase
		for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
			g.reconnectAttempts.Add(1)
			time.Sleep(backoff)

			ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
			err := g.db.PingContext(ctx)
			cancel()
			if err == nil {
				g.connected.Store(true)
				g.logger.Info("reconnected to database", zap.Int("attempt", attempt))
				return
			}

			g.logger.Warn("reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			backoff *= 2
			if backoff > g.cfg.RetryCap {
				backoff = g.cfg.RetryCap
			}
		}
		g.logger.Error("reconnect attempts exhausted, gateway degraded")
	}()
}

// Stats reports pool state for the metrics endpoint.
type Stats struct {
	OpenConnections   int   `json:"openConnections"`
	Idle              int   `json:"idle"`
	InUse             int   `json:"inUse"`
	WaitCount         int64 `json:"waitCount"`
	ReconnectAttempts int64 `json:"reconnectAttempts"`
	Connected         bool  `json:"connected"`
}

// Stats snapshots the pool.
func (g *Gateway) Stats() Stats {
	s := g.db.Stats()
	return Stats{
		OpenConnections:   s.OpenConnections,
		Idle:              s.Idle,
		InUse:             s.InUse,
		WaitCount:         s.WaitCount,
		ReconnectAttempts: g.reconnectAttempts.Load(),
		Connected:         g.connected.Load(),
	}
}

// Close shuts the pool down under a 10s ceiling. On timeout the pool
// reference is abandoned regardless; the process is exiting anyway.
func (g *Gateway) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- g.db.Close()
	}()

	ceiling, cancel := context.WithTimeout(ctx, shutdownCeiling)
	defer cancel()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("closing pool: %w", err)
		}
		return nil
	case <-ceiling.Done():
		g.logger.Warn("pool close timed out, dropping reference")
		return nil
	}
}
