package filter

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sachibara/Pyrewall/internal/capture"
	"github.com/Sachibara/Pyrewall/internal/storage"
)

type fakeSyncer struct {
	tempBlocked []string
}

func (f *fakeSyncer) SyncBlockedIPs(context.Context) error { return nil }

func (f *fakeSyncer) AddTemporaryBlockIP(_ context.Context, ip, _ string, _ time.Duration) error {
	f.tempBlocked = append(f.tempBlocked, ip)

	return nil
}

func (f *fakeSyncer) CleanupExpired(context.Context) error { return nil }

func buildIPv4TCP(t *testing.T, dstIP string, dstPort uint16, payload []byte) []byte {
	t.Helper()

	// Minimal, correctly-shaped IPv4+TCP packet for gopacket to decode:
	// a 20-byte IPv4 header (no options) over a 20-byte TCP header (no
	// options) over payload.
	total := 20 + 20 + len(payload)
	buf := make([]byte, total)

	buf[0] = 0x45 // version 4, IHL 5
	buf[9] = 6    // protocol TCP
	buf[2] = byte(total >> 8)
	buf[3] = byte(total)
	copy(buf[16:20], mustParseIPv4(t, dstIP))

	tcp := buf[20:]
	tcp[2] = byte(dstPort >> 8)
	tcp[3] = byte(dstPort)
	tcp[12] = 0x50 // data offset 5 (no options)
	copy(tcp[20:], payload)

	return buf
}

func mustParseIPv4(t *testing.T, s string) []byte {
	t.Helper()

	ip := net.ParseIP(s).To4()
	require.NotNil(t, ip)

	return ip
}

func TestEngine_Run_ipDenyAndReinject(t *testing.T) {
	st, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.Firewall.UpsertBlockedIP(ctx, storage.NewCriticalSet(nil), storage.BlockedIP{IP: "10.0.0.1"}))

	handle := capture.NewFake()
	syncer := &fakeSyncer{}
	e := New(handle, st.Firewall, st.Logs, syncer)

	runCtx, cancel := context.WithCancel(context.Background())

	denied := buildIPv4TCP(t, "10.0.0.1", 443, []byte("GET / HTTP/1.1\r\nHost: whatever\r\n\r\n"))
	allowed := buildIPv4TCP(t, "10.0.0.2", 80, []byte("GET / HTTP/1.1\r\nHost: allowed.example\r\n\r\n"))

	done := make(chan error, 1)
	go func() { done <- e.Run(runCtx) }()

	// Give Run time to load the initial caches and reach its receive loop.
	time.Sleep(50 * time.Millisecond)

	handle.Inbound <- denied
	handle.Inbound <- allowed

	time.Sleep(100 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Len(t, handle.Reinjected, 1, "only the allowed packet should be reinjected")
	assert.Equal(t, allowed, handle.Reinjected[0])
}

// TestEngine_Run_closesHandleOnCancel guards against a real regression: on
// Windows, the capture handle's Recv is a blocking syscall that does not
// itself observe ctx cancellation, so Run must close the handle to wake a
// receive parked with nothing queued. This is exercised here via Fake,
// whose Recv does select on ctx.Done() directly, but the assertion is on
// Close having been called rather than on Recv's cancellation path, so it
// would also catch a future Run that drops the close-on-cancel goroutine.
func TestEngine_Run_closesHandleOnCancel(t *testing.T) {
	st, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	handle := capture.NewFake()
	e := New(handle, st.Firewall, st.Logs, &fakeSyncer{})

	runCtx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Run(runCtx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after ctx was canceled; handle close-on-cancel is likely broken")
	}

	assert.True(t, handle.IsClosed(), "Run must close the capture handle so a parked Recv unblocks")
}
