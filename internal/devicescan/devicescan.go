// Package devicescan implements the ARP-table scanner that feeds the
// live-devices overview and backs device block/unblock host-side-effects,
// per SPEC_FULL.md §4.7. Grounded on the teacher's internal/arpdb: the same
// "shell out, parse fixed-width table" strategy, generalized with vendor
// and device-type lookups the teacher doesn't need.
package devicescan

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
)

// Device is one parsed ARP-table entry with vendor/type enrichment.
type Device struct {
	IP       string
	MAC      string
	Vendor   string
	DevType  string
	LastSeen time.Time
}

// runCommand is the function used to execute the "arp /a" scan; overridable
// in tests, the same seam the teacher's arpdb package leaves for its own
// aghosRunCommand substitution.
var runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Scanner refreshes and stores the current ARP-table snapshot.
type Scanner struct {
	mu      sync.RWMutex
	devices []Device
}

// New returns an empty Scanner; call Refresh to populate it.
func New() *Scanner {
	return &Scanner{}
}

// Refresh re-scans the ARP table by shelling "arp /a" and parsing its
// output, the same table format the teacher's arpdb_windows.go parses.
func (s *Scanner) Refresh(ctx context.Context) (err error) {
	defer func() { err = errors.Annotate(err, "devicescan: refreshing: %w") }()

	out, err := runCommand(ctx, "arp", "/a")
	if err != nil {
		return fmt.Errorf("running arp /a: %w", err)
	}

	now := time.Now().UTC()
	devices := parseArpA(out, now)

	s.mu.Lock()
	s.devices = devices
	s.mu.Unlock()

	log.Debug("devicescan: found %d device(s)", len(devices))

	return nil
}

// Devices returns the current snapshot.
func (s *Scanner) Devices() []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Device, len(s.devices))
	copy(out, s.devices)

	return out
}

// parseArpA parses "arp /a" output in the same fixed-width, 3-field-per-line
// shape as the teacher's arpdb_windows.go, enriching each entry with a
// vendor and device-type guess.
//
//	Interface: 192.168.137.1 --- 0x7
//	  Internet Address      Physical Address      Type
//	  192.168.137.5         0a-1b-2c-3d-4e-5f      dynamic
func parseArpA(out []byte, now time.Time) []Device {
	var devices []Device

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}

		ip, mac := fields[0], normalizeMAC(fields[1])
		if ip == "" || mac == "" {
			continue
		}

		vendor := lookupVendor(mac)

		devices = append(devices, Device{
			IP:       ip,
			MAC:      mac,
			Vendor:   vendor,
			DevType:  guessDevType(vendor),
			LastSeen: now,
		})
	}

	return devices
}

// normalizeMAC rewrites Windows arp's "0a-1b-2c-3d-4e-5f" hyphenated form to
// the conventional colon-separated, lowercase form. Anything that isn't six
// hex octets is rejected.
func normalizeMAC(raw string) string {
	parts := strings.Split(raw, "-")
	if len(parts) != 6 {
		return ""
	}

	for _, p := range parts {
		if len(p) != 2 {
			return ""
		}

		if _, err := hex.DecodeString(p); err != nil {
			return ""
		}
	}

	return strings.ToLower(strings.Join(parts, ":"))
}
