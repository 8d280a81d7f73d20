package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AdguardTeam/golibs/errors"
)

// LogStore exposes the per-IP drop-event aggregates the packet filter
// flushes once a second, the contents of firewall_logs.db.
type LogStore struct {
	db *sql.DB
}

// RecordDrops appends one flushed aggregation window for ip.
func (ls *LogStore) RecordDrops(ctx context.Context, ev DropEvent) error {
	return execRetry(ctx, ls.db, `
		INSERT INTO drop_events (ip, count, window_start, window_end) VALUES (?, ?, ?, ?)
	`, ev.IP, ev.Count, ev.WindowStart.UTC().Format(time.RFC3339), ev.WindowEnd.UTC().Format(time.RFC3339))
}

// DropsSince returns every drop_events row with a window_start at or after
// since, oldest first.
func (ls *LogStore) DropsSince(ctx context.Context, since time.Time) (events []DropEvent, err error) {
	rows, err := ls.db.QueryContext(ctx, `
		SELECT ip, count, window_start, window_end FROM drop_events
		WHERE window_start >= ? ORDER BY window_start ASC
	`, since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("listing drop events: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		var (
			ev               DropEvent
			winStart, winEnd string
		)

		if err = rows.Scan(&ev.IP, &ev.Count, &winStart, &winEnd); err != nil {
			return nil, fmt.Errorf("scanning drop event: %w", err)
		}

		if ev.WindowStart, err = time.Parse(time.RFC3339, winStart); err != nil {
			return nil, fmt.Errorf("parsing window_start: %w", err)
		}

		if ev.WindowEnd, err = time.Parse(time.RFC3339, winEnd); err != nil {
			return nil, fmt.Errorf("parsing window_end: %w", err)
		}

		events = append(events, ev)
	}

	return events, rows.Err()
}

// PurgeOlderThan deletes every drop_events row with a window_end before
// cutoff, intended for periodic cleanup alongside HistoryStore.ArchiveOlderThan.
func (ls *LogStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) error {
	return execRetry(ctx, ls.db, `DELETE FROM drop_events WHERE window_end < ?`, cutoff.UTC().Format(time.RFC3339))
}
