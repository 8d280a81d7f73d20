// Package storage implements Pyrewall's persistence layer: four logical
// sqlite databases (firewall, users, general_history, firewall_logs), opened
// with schema-migration-on-open semantics and short, retried transactions.
//
// The open sequence (WAL journal mode, a busy_timeout pragma, directory
// creation before open) is grounded on the teacher pack's
// tysonthomas9-beads/internal/storage/sqlite store, which opens
// github.com/ncruces/go-sqlite3 the same way.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver" // registers the "sqlite3" database/sql driver
	_ "github.com/ncruces/go-sqlite3/embed"  // embeds the sqlite3 WASM binary

	"github.com/Sachibara/Pyrewall/internal/errs"
)

// busyTimeout is the pragma value passed to sqlite; it is deliberately much
// larger than the application-level retry budget below so that sqlite's own
// internal wait is rarely what callers observe.
const busyTimeout = 2 * time.Second

// retryAttempts and retryDelay implement spec.md §4.1's "bounded retry on
// 'locked' errors (recommended: 5 retries at 150 ms)".
const (
	retryAttempts = 5
	retryDelay    = 150 * time.Millisecond
)

// openDB opens a single sqlite database file at path, creating its parent
// directory first, enabling WAL, and setting a busy timeout pragma.
func openDB(path string) (db *sql.DB, err error) {
	defer func() { err = errors.Annotate(err, "opening database %q: %w", path) }()

	if err = os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}

	timeoutMs := int64(busyTimeout / time.Millisecond)
	connStr := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)",
		path, timeoutMs,
	)

	db, err = sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}

	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("enabling WAL: %w", err)
	}

	if err = db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("pinging: %w", err)
	}

	return db, nil
}

// withRetry runs fn, making up to retryAttempts attempts with retryDelay
// between them while fn fails with a "database is locked/busy" error, per
// spec.md §4.1. Any other error is returned unchanged; exhaustion of the
// retry budget is returned annotated with errs.PersistenceLocked.
func withRetry(ctx context.Context, fn func() error) (err error) {
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !isLocked(err) {
			return err
		}

		log.Debug("storage: attempt %d/%d hit a locked database: %s", attempt+1, retryAttempts, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	return fmt.Errorf("%w: %w", errs.PersistenceLocked, err)
}

// isLocked reports whether err is sqlite's "database is locked" or
// "database is busy" result code.
func isLocked(err error) bool {
	var serr *sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}

	code := serr.Code()

	return code == sqlite3.BUSY || code == sqlite3.LOCKED
}

// ensureSchemaVersion best-effort applies the migration steps in migrations
// whose version is greater than the database's currently recorded version,
// recording each applied version in schema_migrations. Per spec.md §9's
// "Schema evolution" redesign note, this replaces the ad-hoc ADD COLUMN
// dance with an explicit versioned migration table.
func ensureSchemaVersion(db *sql.DB, dbName string, migrations []migration) (err error) {
	defer func() { err = errors.Annotate(err, "migrating %s: %w", dbName) }()

	if _, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			db_name TEXT NOT NULL,
			version INTEGER NOT NULL,
			applied_at TEXT NOT NULL,
			PRIMARY KEY (db_name, version)
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	current := 0
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations WHERE db_name = ?`, dbName)
	if err = row.Scan(&current); err != nil {
		return fmt.Errorf("reading current version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		if err = m.apply(db); err != nil {
			// PersistenceSchema per spec.md §7: best-effort ADD COLUMN-style
			// failures are logged and ignored, the affected feature degrades.
			log.Error("storage: %s: %s", errs.PersistenceSchema, err)

			continue
		}

		if _, err = db.Exec(
			`INSERT INTO schema_migrations (db_name, version, applied_at) VALUES (?, ?, ?)`,
			dbName, m.version, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("recording version %d: %w", m.version, err)
		}
	}

	return nil
}

// migration is one versioned schema step.
type migration struct {
	version int
	apply   func(db *sql.DB) error
}
