package blocklist

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sachibara/Pyrewall/internal/storage"
)

type fakeReloader struct {
	notified int
}

func (f *fakeReloader) NotifyReload() { f.notified++ }

func newTestSyncer(t *testing.T, resolved map[string][]string, critical map[string]struct{}) (*Syncer, *storage.Store, *fakeReloader) {
	t.Helper()

	st, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	resolve := func(_ context.Context, domain string) (map[netip.Addr]struct{}, error) {
		out := make(map[netip.Addr]struct{})
		for _, ip := range resolved[domain] {
			out[netip.MustParseAddr(ip)] = struct{}{}
		}

		return out, nil
	}

	reloader := &fakeReloader{}
	syncer := New(st.Firewall, storage.NewCriticalSet(critical), resolve, reloader)

	return syncer, st, reloader
}

func TestSyncer_SyncBlockedIPs(t *testing.T) {
	ctx := context.Background()

	syncer, st, reloader := newTestSyncer(t, map[string][]string{
		"example.com": {"1.1.1.1", "2.2.2.2"},
	}, map[string]struct{}{"9.9.9.9": {}})

	require.NoError(t, st.Firewall.AddBlockedDomain(ctx, "example.com"))

	require.NoError(t, syncer.SyncBlockedIPs(ctx))

	rows, err := st.Firewall.BlockedIPs(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 1, reloader.notified)
}

func TestSyncer_AddTemporaryBlockIP_refusesCritical(t *testing.T) {
	ctx := context.Background()

	syncer, st, _ := newTestSyncer(t, nil, map[string]struct{}{"9.9.9.9": {}})

	require.NoError(t, syncer.AddTemporaryBlockIP(ctx, "9.9.9.9", "example.com", time.Minute))

	rows, err := st.Firewall.BlockedIPs(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSyncer_AddTemporaryBlockIP_setsExpiry(t *testing.T) {
	ctx := context.Background()

	syncer, st, _ := newTestSyncer(t, nil, nil)

	require.NoError(t, syncer.AddTemporaryBlockIP(ctx, "5.5.5.5", "example.com", time.Minute))

	rows, err := st.Firewall.BlockedIPs(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "auto-temp", rows[0].Reason)
	require.NotNil(t, rows[0].Expires)
}

func TestSyncer_CleanupExpired(t *testing.T) {
	ctx := context.Background()

	syncer, st, _ := newTestSyncer(t, nil, nil)

	require.NoError(t, syncer.AddTemporaryBlockIP(ctx, "5.5.5.5", "example.com", -time.Minute))
	require.NoError(t, syncer.CleanupExpired(ctx))

	rows, err := st.Firewall.BlockedIPs(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
