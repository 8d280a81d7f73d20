// Package history runs the scheduled archiver that moves old
// HistoryEntry rows into the archive table, per SPEC_FULL.md §3. The
// ticker-driven background-loop shape follows internal/filter.Engine's
// maintain goroutine rather than the teacher's internal/schedule package,
// which turned out to model weekly time-of-day windows, not periodic
// tasks — see DESIGN.md.
package history

import (
	"context"
	"time"

	"github.com/AdguardTeam/golibs/log"

	"github.com/Sachibara/Pyrewall/internal/storage"
)

// DefaultRetention is how long a HistoryEntry survives before archival, per
// SPEC_FULL.md §3.
const DefaultRetention = 90 * 24 * time.Hour

// DefaultInterval is how often the archiver runs.
const DefaultInterval = 1 * time.Hour

// Archiver periodically moves HistoryEntry rows older than Retention into
// the archive table.
type Archiver struct {
	history   *storage.HistoryStore
	Retention time.Duration
	Interval  time.Duration
}

// New returns an Archiver with SPEC_FULL.md's default retention and
// interval; override the fields before calling Run to customize either.
func New(history *storage.HistoryStore) *Archiver {
	return &Archiver{
		history:   history,
		Retention: DefaultRetention,
		Interval:  DefaultInterval,
	}
}

// Run archives once immediately, then on every Interval tick, until ctx is
// canceled.
func (a *Archiver) Run(ctx context.Context) error {
	a.runOnce(ctx)

	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

func (a *Archiver) runOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-a.Retention)

	archived, err := a.history.ArchiveOlderThan(ctx, cutoff)
	if err != nil {
		log.Error("history: archiving entries older than %s: %s", cutoff, err)

		return
	}

	if archived > 0 {
		log.Info("history: archived %d entr(ies) older than %s", archived, cutoff)
	}
}
