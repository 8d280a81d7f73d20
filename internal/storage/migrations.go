package storage

import (
	"database/sql"
	"strings"
)

// firewallMigrations creates and evolves firewall.db's tables. Versions 2
// through 4 model spec.md §4.1's "additively add missing columns for BlockedIP
// (domain, expires_at, reason)" as explicit, idempotent migration steps
// instead of a runtime ADD COLUMN probe.
var firewallMigrations = []migration{
	{version: 1, apply: func(db *sql.DB) error {
		_, err := db.Exec(`
			CREATE TABLE IF NOT EXISTS blocked_domains (
				domain TEXT PRIMARY KEY
			);
			CREATE TABLE IF NOT EXISTS blocked_ips (
				ip TEXT PRIMARY KEY
			);
			CREATE TABLE IF NOT EXISTS firewall_rules (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ip TEXT NOT NULL,
				port TEXT NOT NULL,
				protocol TEXT NOT NULL,
				action TEXT NOT NULL,
				UNIQUE (ip, port, protocol, action)
			);
			CREATE TABLE IF NOT EXISTS app_signatures (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				app_name TEXT NOT NULL UNIQUE,
				pattern TEXT NOT NULL,
				ip_range TEXT NOT NULL DEFAULT '',
				protocol TEXT NOT NULL DEFAULT 'ANY'
			);
			CREATE TABLE IF NOT EXISTS blocked_devices (
				ip TEXT PRIMARY KEY,
				mac TEXT NOT NULL,
				date_blocked TEXT NOT NULL
			);
			CREATE TABLE IF NOT EXISTS live_devices (
				ip TEXT PRIMARY KEY,
				mac TEXT NOT NULL,
				vendor TEXT NOT NULL DEFAULT '',
				dev_type TEXT NOT NULL DEFAULT '',
				last_seen TEXT NOT NULL
			);
		`)

		return err
	}},
	{version: 2, apply: func(db *sql.DB) error {
		_, err := db.Exec(`ALTER TABLE blocked_ips ADD COLUMN domain TEXT NOT NULL DEFAULT ''`)

		return ignoreDuplicateColumn(err)
	}},
	{version: 3, apply: func(db *sql.DB) error {
		_, err := db.Exec(`ALTER TABLE blocked_ips ADD COLUMN expires_at TEXT`)

		return ignoreDuplicateColumn(err)
	}},
	{version: 4, apply: func(db *sql.DB) error {
		_, err := db.Exec(`ALTER TABLE blocked_ips ADD COLUMN reason TEXT NOT NULL DEFAULT ''`)

		return ignoreDuplicateColumn(err)
	}},
}

// usersMigrations creates and evolves users.db's tables, adding the "role"
// column called for by spec.md §4.1.
var usersMigrations = []migration{
	{version: 1, apply: func(db *sql.DB) error {
		_, err := db.Exec(`
			CREATE TABLE IF NOT EXISTS users (
				username TEXT PRIMARY KEY,
				password TEXT NOT NULL
			);
		`)

		return err
	}},
	{version: 2, apply: func(db *sql.DB) error {
		_, err := db.Exec(`ALTER TABLE users ADD COLUMN role TEXT NOT NULL DEFAULT 'user'`)

		return ignoreDuplicateColumn(err)
	}},
}

// historyMigrations creates general_history.db's tables, including the
// archive table called for by SPEC_FULL §3.
var historyMigrations = []migration{
	{version: 1, apply: func(db *sql.DB) error {
		_, err := db.Exec(`
			CREATE TABLE IF NOT EXISTS general_history (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				username TEXT NOT NULL,
				action TEXT NOT NULL,
				description TEXT NOT NULL,
				timestamp TEXT NOT NULL
			);
			CREATE TABLE IF NOT EXISTS general_history_archive (
				id INTEGER PRIMARY KEY,
				username TEXT NOT NULL,
				action TEXT NOT NULL,
				description TEXT NOT NULL,
				timestamp TEXT NOT NULL,
				archived_at TEXT NOT NULL
			);
		`)

		return err
	}},
}

// logsMigrations creates firewall_logs.db's tables.
var logsMigrations = []migration{
	{version: 1, apply: func(db *sql.DB) error {
		_, err := db.Exec(`
			CREATE TABLE IF NOT EXISTS drop_events (
				ip TEXT NOT NULL,
				count INTEGER NOT NULL,
				window_start TEXT NOT NULL,
				window_end TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_drop_events_ip ON drop_events(ip);
		`)

		return err
	}},
}

// ignoreDuplicateColumn swallows sqlite's "duplicate column name" error, the
// expected outcome when an ADD COLUMN migration runs against a database that
// already has the column (e.g. one bootstrapped by a newer schema version
// directly). Any other error is returned as-is.
func ignoreDuplicateColumn(err error) error {
	if err == nil {
		return nil
	}

	if strings.Contains(err.Error(), "duplicate column name") {
		return nil
	}

	return err
}
