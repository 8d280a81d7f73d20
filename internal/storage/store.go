package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/AdguardTeam/golibs/errors"
)

// Database file names inside the persistence root, per spec.md §6.
const (
	firewallDBFile = "firewall.db"
	usersDBFile    = "users.db"
	historyDBFile  = "general_history.db"
	logsDBFile     = "firewall_logs.db"
)

// Store bundles the four logical databases described in spec.md §6.
type Store struct {
	Firewall *FirewallStore
	Users    *UserStore
	History  *HistoryStore
	Logs     *LogStore

	dbs []*sql.DB
}

// Open opens (creating if necessary) all four databases under root,
// applying schema migrations to each, per spec.md §4.1's
// schema-migration-on-open contract.
func Open(root string) (s *Store, err error) {
	defer func() { err = errors.Annotate(err, "opening store at %q: %w", root) }()

	firewallDB, err := openMigrated(filepath.Join(root, firewallDBFile), firewallMigrations)
	if err != nil {
		return nil, err
	}

	usersDB, err := openMigrated(filepath.Join(root, usersDBFile), usersMigrations)
	if err != nil {
		return nil, err
	}

	historyDB, err := openMigrated(filepath.Join(root, historyDBFile), historyMigrations)
	if err != nil {
		return nil, err
	}

	logsDB, err := openMigrated(filepath.Join(root, logsDBFile), logsMigrations)
	if err != nil {
		return nil, err
	}

	return &Store{
		Firewall: &FirewallStore{db: firewallDB},
		Users:    &UserStore{db: usersDB},
		History:  &HistoryStore{db: historyDB},
		Logs:     &LogStore{db: logsDB},
		dbs:      []*sql.DB{firewallDB, usersDB, historyDB, logsDB},
	}, nil
}

// openMigrated opens the sqlite file at path and applies migrations,
// identifying the database in schema_migrations by its base file name.
func openMigrated(path string, migrations []migration) (*sql.DB, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	if err = ensureSchemaVersion(db, filepath.Base(path), migrations); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

// Close closes all four underlying databases, returning the first error
// encountered (if any) after attempting to close every one.
func (s *Store) Close() (err error) {
	for _, db := range s.dbs {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing database: %w", cerr)
		}
	}

	return err
}

// execRetry runs a write statement inside withRetry.
func execRetry(ctx context.Context, db *sql.DB, query string, args ...any) error {
	return withRetry(ctx, func() error {
		_, err := db.ExecContext(ctx, query, args...)

		return err
	})
}
