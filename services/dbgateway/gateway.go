// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dbgateway is the read-only SQL Server collaborator of the view
// advisor. It reads view definitions, hashes result sets, times repeated
// executions and captures actual execution plans. It never issues DDL or
// DML: the only statements it sends are SELECTs against the view, catalog
// lookups and session-level SET options.
package dbgateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Registers the "sqlserver" and "mssql" database/sql drivers.
	_ "github.com/microsoft/go-mssqldb"

	"github.com/AleutianAI/viewadvisor/pkg/config"
	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
)

var (
	// ErrViewNotFound is returned when the catalog has no definition for a
	// view, either because it does not exist or because it is encrypted.
	ErrViewNotFound = errors.New("view not found")

	// ErrInvalidName is returned for object names that cannot be quoted
	// safely.
	ErrInvalidName = errors.New("invalid object name")

	// ErrNoPlan is returned when the server sends no showplan result set.
	ErrNoPlan = errors.New("no execution plan returned")
)

const (
	definitionQuery = `SELECT OBJECT_DEFINITION(OBJECT_ID(@p1))`
	countersQuery   = `SELECT cpu_time, logical_reads, reads FROM sys.dm_exec_sessions WHERE session_id = @@SPID`
	statisticsOn    = `SET STATISTICS XML ON`
	statisticsOff   = `SET STATISTICS XML OFF`
)

// Gateway runs read-only queries against one database. It is safe for
// concurrent use; RunWithStats and RunWithPlan pin a connection for the
// duration of the call.
type Gateway struct {
	db      *sql.DB
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout bounds every gateway call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New wraps an open database handle.
func New(db *sql.DB, opts ...Option) *Gateway {
	g := &Gateway{db: db, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Open opens a connection pool from cfg. The pool connects lazily; call
// TestConnection to verify the server is reachable.
func Open(cfg config.DatabaseConfig, logger *slog.Logger) (*Gateway, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is empty")
	}
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlserver"
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, WithTimeout(cfg.QueryTimeout), WithLogger(logger)), nil
}

// Close closes the underlying pool.
func (g *Gateway) Close() error { return g.db.Close() }

func (g *Gateway) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

// TestConnection pings the server.
func (g *Gateway) TestConnection(ctx context.Context) error {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	if err := g.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// GetViewDefinition returns the stored CREATE VIEW text of viewName.
func (g *Gateway) GetViewDefinition(ctx context.Context, viewName string) (string, error) {
	quoted, err := QuoteObjectName(viewName)
	if err != nil {
		return "", err
	}
	ctx, cancel := g.bound(ctx)
	defer cancel()

	var definition sql.NullString
	if err := g.db.QueryRowContext(ctx, definitionQuery, quoted).Scan(&definition); err != nil {
		return "", fmt.Errorf("reading definition of %s: %w", quoted, err)
	}
	if !definition.Valid {
		return "", fmt.Errorf("%w: %s", ErrViewNotFound, quoted)
	}
	return definition.String, nil
}

// ComputeResultChecksum reads the full result set of viewName and returns
// an order-independent hash of it. Two result sets with the same columns
// and the same multiset of rows hash the same.
func (g *Gateway) ComputeResultChecksum(ctx context.Context, viewName string) (string, error) {
	quoted, err := QuoteObjectName(viewName)
	if err != nil {
		return "", err
	}
	ctx, cancel := g.bound(ctx)
	defer cancel()

	rows, err := g.db.QueryContext(ctx, selectAll(quoted))
	if err != nil {
		return "", fmt.Errorf("querying %s: %w", quoted, err)
	}
	defer rows.Close()

	sum, err := checksumRows(rows)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", quoted, err)
	}
	g.logger.Debug("result checksum computed", "view", quoted, "checksum", sum)
	return sum, nil
}

// RunWithStats executes viewName repetitions times on one connection and
// samples elapsed time, CPU time and reads for each run from the session
// counters.
func (g *Gateway) RunWithStats(ctx context.Context, viewName string, repetitions int) ([]dt.RunSample, error) {
	quoted, err := QuoteObjectName(viewName)
	if err != nil {
		return nil, err
	}
	if repetitions <= 0 {
		return nil, fmt.Errorf("repetitions must be positive, got %d", repetitions)
	}
	ctx, cancel := g.bound(ctx)
	defer cancel()

	conn, err := g.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	samples := make([]dt.RunSample, 0, repetitions)
	for run := 1; run <= repetitions; run++ {
		before, err := readCounters(ctx, conn)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		rowCount, err := drain(ctx, conn, selectAll(quoted))
		if err != nil {
			return nil, fmt.Errorf("run %d of %s: %w", run, quoted, err)
		}
		elapsed := time.Since(start)

		after, err := readCounters(ctx, conn)
		if err != nil {
			return nil, err
		}

		delta := after.minus(before)
		samples = append(samples, dt.RunSample{
			Run:             run,
			ExecutionTimeMs: elapsed.Milliseconds(),
			LogicalReads:    delta.logicalReads,
			PhysicalReads:   delta.reads,
			CPUTimeMs:       delta.cpuMs,
			RowCount:        rowCount,
			Timestamp:       g.now().UTC(),
		})
		g.logger.Debug("view run measured",
			"view", quoted,
			"run", run,
			"elapsed_ms", elapsed.Milliseconds(),
			"logical_reads", delta.logicalReads)
	}
	return samples, nil
}

// RunWithPlan executes viewName once with STATISTICS XML enabled and
// returns the actual execution plan document.
func (g *Gateway) RunWithPlan(ctx context.Context, viewName string) (string, error) {
	quoted, err := QuoteObjectName(viewName)
	if err != nil {
		return "", err
	}
	ctx, cancel := g.bound(ctx)
	defer cancel()

	conn, err := g.db.Conn(ctx)
	if err != nil {
		return "", fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, statisticsOn); err != nil {
		return "", fmt.Errorf("enabling statistics xml: %w", err)
	}
	defer func() {
		// The pooled connection must not keep returning plans.
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), statisticsOff); err != nil {
			g.logger.Warn("statistics xml not disabled", "error", err)
		}
	}()

	rows, err := conn.QueryContext(ctx, selectAll(quoted))
	if err != nil {
		return "", fmt.Errorf("querying %s: %w", quoted, err)
	}
	defer rows.Close()

	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("reading %s: %w", quoted, err)
	}
	if !rows.NextResultSet() || !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", fmt.Errorf("reading plan of %s: %w", quoted, err)
		}
		return "", fmt.Errorf("%w for %s", ErrNoPlan, quoted)
	}

	var plan string
	if err := rows.Scan(&plan); err != nil {
		return "", fmt.Errorf("scanning plan of %s: %w", quoted, err)
	}
	return plan, nil
}

func selectAll(quoted string) string {
	return "SELECT * FROM " + quoted
}

// drain runs query and counts its rows without keeping them.
func drain(ctx context.Context, conn *sql.Conn, query string) (int64, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var n int64
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}

type counters struct {
	cpuMs        int64
	logicalReads int64
	reads        int64
}

func (c counters) minus(o counters) counters {
	return counters{
		cpuMs:        c.cpuMs - o.cpuMs,
		logicalReads: c.logicalReads - o.logicalReads,
		reads:        c.reads - o.reads,
	}
}

func readCounters(ctx context.Context, conn *sql.Conn) (counters, error) {
	var c counters
	err := conn.QueryRowContext(ctx, countersQuery).Scan(&c.cpuMs, &c.logicalReads, &c.reads)
	if err != nil {
		return counters{}, fmt.Errorf("reading session counters: %w", err)
	}
	return c, nil
}
