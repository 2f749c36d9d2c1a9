// Package db provides PostgreSQL persistence for jobs, journey activity,
// alert preferences, analyses and the notification log.
package db

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Ping verifies the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Migrate applies every embedded migration that has not been applied yet.
// Each file runs in its own transaction and is recorded in schema_migrations.
func (db *DB) Migrate(ctx context.Context) ([]string, error) {
	if _, err := db.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
		   name       TEXT PRIMARY KEY,
		   applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		 )`); err != nil {
		return nil, errors.Wrap(err, "failed to create schema_migrations")
	}

	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list migrations")
	}
	sort.Strings(names)

	var applied []string
	for _, name := range names {
		done, err := db.applyMigration(ctx, name)
		if err != nil {
			return applied, err
		}
		if done {
			applied = append(applied, name)
		}
	}
	return applied, nil
}

func (db *DB) applyMigration(ctx context.Context, name string) (bool, error) {
	sqlBytes, err := migrationFiles.ReadFile(name)
	if err != nil {
		return false, errors.Wrapf(err, "failed to read migration %s", name)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, errors.Wrap(err, "failed to begin migration transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return false, errors.Wrapf(err, "failed to record migration %s", name)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
		return false, errors.Wrapf(err, "failed to apply migration %s", name)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrapf(err, "failed to commit migration %s", name)
	}
	return true, nil
}

// isNoRows reports whether err is pgx's no-rows sentinel
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
