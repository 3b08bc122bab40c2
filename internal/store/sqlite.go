// Package store persists tool-call logs and workflow run summaries in
// SQLite so the pattern miner can learn from past executions.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/soyeahso/conductor/internal/logging"
)

const memoryPath = ":memory:"

// pragmas are applied to every new database handle, in order.
var pragmas = []struct {
	stmt string
	desc string
}{
	{"PRAGMA journal_mode=WAL", "enabling WAL"},
	{"PRAGMA busy_timeout=5000", "setting busy timeout"},
	{"PRAGMA synchronous=NORMAL", "setting synchronous mode"},
}

// DB is the call-log database.
type DB struct {
	sql  *sql.DB
	log  *logging.Logger
	path string
}

// Open opens the call-log database at path, creating the file and its
// directory as needed, and brings the schema up to date. ":memory:" gives
// a private in-memory database.
func Open(path string, log *logging.Logger) (*DB, error) {
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening call log %s: %w", path, err)
	}
	if path == memoryPath {
		// each connection would otherwise see its own empty database
		handle.SetMaxOpenConns(1)
	}
	for _, p := range pragmas {
		if _, err := handle.Exec(p.stmt); err != nil {
			handle.Close()
			return nil, fmt.Errorf("%s: %w", p.desc, err)
		}
	}

	db := &DB{sql: handle, log: log.Sub("store"), path: path}
	if err := db.migrate(context.Background()); err != nil {
		handle.Close()
		return nil, fmt.Errorf("migrating call log: %w", err)
	}
	db.log.Debug().Str("path", path).Msg("call log ready")
	return db, nil
}

// Path reports where the database lives.
func (db *DB) Path() string { return db.path }

// Close releases the database handle.
func (db *DB) Close() error {
	db.log.Debug().Str("path", db.path).Msg("call log closed")
	return db.sql.Close()
}

// SchemaVersion returns the highest applied migration, 0 for a fresh file.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := db.sql.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.sql.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// apply runs one migration and records it in the same transaction.
func (db *DB) apply(ctx context.Context, m migration) error {
	db.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("migrating call log")

	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		return fmt.Errorf("migration %d: recording version: %w", m.Version, err)
	}
	return tx.Commit()
}
