package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AdguardTeam/golibs/errors"
)

// HistoryStore exposes the append-only HistoryEntry log and its archive, the
// contents of general_history.db.
type HistoryStore struct {
	db *sql.DB
}

// Append writes a new HistoryEntry, stamping it with the current UTC time.
func (hs *HistoryStore) Append(ctx context.Context, username, action, description string) error {
	return execRetry(ctx, hs.db, `
		INSERT INTO general_history (username, action, description, timestamp)
		VALUES (?, ?, ?, ?)
	`, username, action, description, time.Now().UTC().Format(time.RFC3339))
}

// Recent returns the most recent limit entries, newest first.
func (hs *HistoryStore) Recent(ctx context.Context, limit int) (entries []HistoryEntry, err error) {
	rows, err := hs.db.QueryContext(ctx, `
		SELECT id, username, action, description, timestamp
		FROM general_history ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		var (
			e  HistoryEntry
			ts string
		)

		if err = rows.Scan(&e.ID, &e.Username, &e.Action, &e.Description, &ts); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}

		if e.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// ArchiveOlderThan moves every entry older than cutoff into
// general_history_archive, stamping each with the archival time. It is
// intended to be called on a periodic cadence by internal/history.
func (hs *HistoryStore) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (archived int64, err error) {
	err = withRetry(ctx, func() error {
		tx, txErr := hs.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("beginning transaction: %w", txErr)
		}
		defer func() { _ = tx.Rollback() }()

		cutoffStr := cutoff.UTC().Format(time.RFC3339)
		archivedAt := time.Now().UTC().Format(time.RFC3339)

		res, txErr := tx.ExecContext(ctx, `
			INSERT INTO general_history_archive (id, username, action, description, timestamp, archived_at)
			SELECT id, username, action, description, timestamp, ?
			FROM general_history WHERE timestamp < ?
		`, archivedAt, cutoffStr)
		if txErr != nil {
			return fmt.Errorf("copying to archive: %w", txErr)
		}

		archived, txErr = res.RowsAffected()
		if txErr != nil {
			return fmt.Errorf("counting archived rows: %w", txErr)
		}

		if _, txErr = tx.ExecContext(ctx, `DELETE FROM general_history WHERE timestamp < ?`, cutoffStr); txErr != nil {
			return fmt.Errorf("deleting archived rows: %w", txErr)
		}

		if txErr = tx.Commit(); txErr != nil {
			return fmt.Errorf("committing: %w", txErr)
		}

		return nil
	})

	return archived, err
}
