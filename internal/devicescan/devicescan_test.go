package devicescan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sachibara/Pyrewall/internal/storage"
)

const sampleArpOutput = `
Interface: 192.168.137.1 --- 0x7
  Internet Address      Physical Address      Type
  192.168.137.5         b8-27-eb-11-22-33      dynamic
  192.168.137.9         50-c7-bf-aa-bb-cc      dynamic
  192.168.137.10        not-a-mac-address      dynamic
`

func TestParseArpA(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	devices := parseArpA([]byte(sampleArpOutput), now)

	require.Len(t, devices, 2)

	assert.Equal(t, "192.168.137.5", devices[0].IP)
	assert.Equal(t, "b8:27:eb:11:22:33", devices[0].MAC)
	assert.Equal(t, "Raspberry Pi Foundation", devices[0].Vendor)
	assert.Equal(t, "pc", devices[0].DevType)
	assert.Equal(t, now, devices[0].LastSeen)

	assert.Equal(t, "TP-Link", devices[1].Vendor)
	assert.Equal(t, "router", devices[1].DevType)
}

func TestNormalizeMAC_rejectsMalformed(t *testing.T) {
	assert.Equal(t, "", normalizeMAC("not-a-mac-address"))
	assert.Equal(t, "", normalizeMAC("aa-bb-cc"))
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", normalizeMAC("AA-BB-CC-DD-EE-FF"))
}

func TestLookupVendor_unknownPrefix(t *testing.T) {
	assert.Equal(t, "Unknown", lookupVendor("ff:ff:ff:00:00:00"))
}

func TestGuessDevType_unknownVendor(t *testing.T) {
	assert.Equal(t, "unknown", guessDevType("Unknown"))
}

func TestScanner_RefreshAndDevices(t *testing.T) {
	orig := runCommand
	defer func() { runCommand = orig }()

	runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(sampleArpOutput), nil
	}

	s := New()
	require.NoError(t, s.Refresh(context.Background()))

	devices := s.Devices()
	require.Len(t, devices, 2)
}

func TestScanner_SyncToStore(t *testing.T) {
	orig := runCommand
	defer func() { runCommand = orig }()

	runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(sampleArpOutput), nil
	}

	st, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	s := New()
	ctx := context.Background()
	require.NoError(t, s.SyncToStore(ctx, st.Firewall))

	rows, err := st.Firewall.LiveDeviceSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
