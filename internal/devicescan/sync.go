package devicescan

import (
	"context"

	"github.com/Sachibara/Pyrewall/internal/storage"
)

// SyncToStore refreshes the scanner and replaces the store's live-device
// snapshot with the result, the same "scan then atomically replace" shape
// blocklist.Syncer uses for BlockedIP rows.
func (s *Scanner) SyncToStore(ctx context.Context, firewall *storage.FirewallStore) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}

	devices := s.Devices()
	rows := make([]storage.LiveDeviceSnapshotRow, 0, len(devices))

	for _, d := range devices {
		rows = append(rows, storage.LiveDeviceSnapshotRow{
			IP:       d.IP,
			MAC:      d.MAC,
			Vendor:   d.Vendor,
			DevType:  d.DevType,
			LastSeen: d.LastSeen,
		})
	}

	return firewall.ReplaceLiveDeviceSnapshot(ctx, rows)
}

// ReapplyBlocks reapplies BlockDevice's host-side effects for every
// currently-blocked device, per spec.md §6: ARP entries and firewall rules
// do not survive a reboot, so they must be reconciled against the persisted
// BlockedDevice table on startup.
func ReapplyBlocks(ctx context.Context, firewall *storage.FirewallStore) error {
	devices, err := firewall.BlockedDevices(ctx)
	if err != nil {
		return err
	}

	for _, d := range devices {
		if err := BlockDevice(ctx, d.IP); err != nil {
			return err
		}
	}

	return nil
}
