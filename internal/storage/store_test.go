package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return st
}

func TestOpen_createsSchema(t *testing.T) {
	dir := t.TempDir()

	st, err := Open(dir)
	require.NoError(t, err)
	defer st.Close()

	for _, name := range []string{firewallDBFile, usersDBFile, historyDBFile, logsDBFile} {
		_, statErr := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, statErr)
	}
}

func TestOpen_idempotent(t *testing.T) {
	dir := t.TempDir()

	st1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, st1.Close())

	// Re-opening must not fail migrations the second time around.
	st2, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, st2.Close())
}

func TestFirewallStore_blockedDomains(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Firewall.AddBlockedDomain(ctx, "example.com"))
	require.NoError(t, st.Firewall.AddBlockedDomain(ctx, "other.example"))

	got, err := st.Firewall.BlockedDomains(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"example.com", "other.example"}, got)

	require.NoError(t, st.Firewall.RemoveBlockedDomain(ctx, "example.com"))

	got, err = st.Firewall.BlockedDomains(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"other.example"}, got)
}

func TestFirewallStore_upsertBlockedIP_excludesCritical(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	critical := NewCriticalSet(map[string]struct{}{"10.0.0.1": {}})

	require.NoError(t, st.Firewall.UpsertBlockedIP(ctx, critical, BlockedIP{IP: "10.0.0.1"}))
	require.NoError(t, st.Firewall.UpsertBlockedIP(ctx, critical, BlockedIP{IP: "10.0.0.2"}))

	rows, err := st.Firewall.BlockedIPs(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "10.0.0.2", rows[0].IP)
}

func TestFirewallStore_replaceAuthoritativeBlockedIPs(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	critical := NewCriticalSet(map[string]struct{}{"10.0.0.9": {}})

	expires := time.Now().Add(time.Hour)
	require.NoError(t, st.Firewall.UpsertBlockedIP(ctx, critical, BlockedIP{
		IP: "10.0.0.5", Expires: &expires, Reason: "auto-temp",
	}))

	require.NoError(t, st.Firewall.ReplaceAuthoritativeBlockedIPs(ctx, critical, map[string]string{
		"1.1.1.1": "example.com",
		"10.0.0.9": "example.com",
	}))

	rows, err := st.Firewall.BlockedIPs(ctx)
	require.NoError(t, err)

	byIP := map[string]BlockedIP{}
	for _, r := range rows {
		byIP[r.IP] = r
	}

	assert.Contains(t, byIP, "1.1.1.1")
	assert.Contains(t, byIP, "10.0.0.5", "temporary rows must survive a replace")
	assert.NotContains(t, byIP, "10.0.0.9", "critical ip must never be inserted")
}

func TestFirewallStore_deleteExpiredBlockedIPs(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	critical := NewCriticalSet(nil)

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	require.NoError(t, st.Firewall.UpsertBlockedIP(ctx, critical, BlockedIP{IP: "1.2.3.4", Expires: &past}))
	require.NoError(t, st.Firewall.UpsertBlockedIP(ctx, critical, BlockedIP{IP: "5.6.7.8", Expires: &future}))

	require.NoError(t, st.Firewall.DeleteExpiredBlockedIPs(ctx, time.Now()))

	rows, err := st.Firewall.BlockedIPs(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "5.6.7.8", rows[0].IP)
}

func TestUserStore_crud(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	exists, err := st.Users.AnyUserExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, st.Users.CreateUser(ctx, User{Username: "alice", Password: "hash", Role: RoleUser}))

	exists, err = st.Users.AnyUserExists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	u, err := st.Users.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, u.Role)

	require.NoError(t, st.Users.UpdateUser(ctx, User{Username: "alice", Password: "hash2", Role: RoleAdmin}))
	u, err = st.Users.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hash2", u.Password)
	assert.Equal(t, RoleAdmin, u.Role)

	require.NoError(t, st.Users.DeleteUser(ctx, "alice"))
	exists, err = st.Users.AnyUserExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHistoryStore_appendAndArchive(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.History.Append(ctx, "admin", "login", "first login"))
	require.NoError(t, st.History.Append(ctx, "admin", "block", "blocked example.com"))

	entries, err := st.History.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "block", entries[0].Action, "Recent must be newest-first")

	archived, err := st.History.ArchiveOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, archived)

	entries, err = st.History.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBootstrap_seedsDefaultAdmin(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	st, err := Bootstrap(context.Background(), dir, func() time.Time { return now })
	require.NoError(t, err)
	defer st.Close()

	_, statErr := os.Stat(filepath.Join(dir, installMarkerFile))
	assert.NoError(t, statErr)

	exists, err := st.Users.AnyUserExists(context.Background())
	require.NoError(t, err)
	assert.True(t, exists)

	u, err := st.Users.UserByUsername(context.Background(), defaultUsername)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, u.Role)
	assert.NotEqual(t, defaultPassword, u.Password, "password must be stored hashed")
}

func TestBootstrap_relocatesStrayFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, firewallDBFile), []byte("stale"), 0o600))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st, err := Bootstrap(context.Background(), dir, func() time.Time { return now })
	require.NoError(t, err)
	defer st.Close()

	backupPath := filepath.Join(dir, "backup-20260101-000000", firewallDBFile)
	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, "stale", string(data))
}

func TestBootstrap_skipsOnSecondRun(t *testing.T) {
	dir := t.TempDir()
	now := time.Now

	st1, err := Bootstrap(context.Background(), dir, now)
	require.NoError(t, err)
	require.NoError(t, st1.Close())

	st2, err := Bootstrap(context.Background(), dir, now)
	require.NoError(t, err)
	defer st2.Close()

	exists, err := st2.Users.AnyUserExists(context.Background())
	require.NoError(t, err)
	assert.True(t, exists, "second bootstrap must not wipe the seeded admin")
}

func TestConsumeInstallMarker(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, installMarkerFile)
	require.NoError(t, os.WriteFile(marker, []byte("admin/password"), 0o600))

	require.NoError(t, ConsumeInstallMarker(dir))
	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err))

	// Second call on an already-consumed marker must not error.
	assert.NoError(t, ConsumeInstallMarker(dir))
}
