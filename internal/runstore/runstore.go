// Package runstore durably records finished runs in Postgres, the way
// datastorage's connection layer in this codebase's lineage does for audit
// history that needs to survive a process restart — live_state.json (see
// internal/persistence) only ever holds the current run.
//
// This is optional: a process with no database.dsn configured runs with a
// nil *Store and every method becomes a no-op at the call site.
package runstore

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sportygroup/qa-goldenpath/internal/pipeline/model"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store records completed runs in a "run_records" table, provisioned by the
// embedded migrations below on first Open.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, applies any pending embedded migration, and verifies
// the result is reachable.
func Open(ctx context.Context, dsn string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	// Bug #200 in this codebase's lineage: pgx's default
	// QueryExecModeCacheStatement caches prepared statement plans that a
	// concurrent schema migration (e.g. a rolling deploy of this very
	// binary) can invalidate out from under a long-lived pool, surfacing as
	// SQLSTATE 0A000. DescribeExec still gets parameter OIDs (needed to
	// encode the JSONB run snapshot) but never caches the plan.
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{pool: pool}, nil
}

// applyMigrations runs every embedded *.sql file in lexicographic order that
// isn't already recorded in run_store_migrations, the same filename-order
// convention and tracking-table idea as the raw SQL migration engine this
// is grounded on, adapted to run off files embedded into the binary rather
// than read from a directory on disk.
func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS run_store_migrations (
			id         text PRIMARY KEY,
			applied_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var applied bool
		if err := pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM run_store_migrations WHERE id = $1)`, name,
		).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		body, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, string(body)); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO run_store_migrations (id) VALUES ($1)`, name,
		); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordRun upserts run's terminal snapshot. Only ever call this once a run
// has reached a terminal status (success, failed, degraded, interrupted);
// it is not meant to track in-flight progress, that's the registry's job.
func (s *Store) RecordRun(ctx context.Context, run *model.Run) error {
	if s == nil || s.pool == nil || run == nil {
		return nil
	}
	snapshot, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO run_records (id, correlation_id, country, status, started_at, duration, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			duration = EXCLUDED.duration,
			snapshot = EXCLUDED.snapshot
	`, run.ID, run.CorrelationID, run.Country, string(run.Status), run.StartedAt, run.Duration, snapshot)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}
