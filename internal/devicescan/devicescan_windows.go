//go:build windows

package devicescan

import (
	"context"
	"fmt"

	"github.com/AdguardTeam/golibs/log"
)

// blockRuleName follows spec.md §6's naming convention exactly, so rules
// created by Pyrewall are trivially identifiable (and removable) via
// "netsh advfirewall firewall show rule name=...".
func blockRuleName(ip, direction string) string {
	return fmt.Sprintf("Pyrewall_Block_%s_%s", ip, direction)
}

// BlockDevice applies the host-side effects of blocking a device by IP, per
// spec.md §6: a static null-MAC ARP entry (forces ARP resolution failures
// for that IP) plus inbound/outbound netsh advfirewall rules.
func BlockDevice(ctx context.Context, ip string) error {
	if _, err := runCommand(ctx, "arp", "-s", ip, "00-00-00-00-00-00"); err != nil {
		log.Error("devicescan: adding static arp entry for %s: %s", ip, err)
	}

	for _, dir := range []string{"IN", "OUT"} {
		args := []string{
			"advfirewall", "firewall", "add", "rule",
			"name=" + blockRuleName(ip, dir),
			"dir=" + dir,
			"action=block",
			"remoteip=" + ip,
		}

		if _, err := runCommand(ctx, "netsh", args...); err != nil {
			return fmt.Errorf("devicescan: adding firewall rule for %s (%s): %w", ip, dir, err)
		}
	}

	return nil
}

// UnblockDevice reverses BlockDevice: removes the static ARP entry and both
// netsh rules.
func UnblockDevice(ctx context.Context, ip string) error {
	if _, err := runCommand(ctx, "arp", "-d", ip); err != nil {
		log.Error("devicescan: removing static arp entry for %s: %s", ip, err)
	}

	for _, dir := range []string{"IN", "OUT"} {
		args := []string{
			"advfirewall", "firewall", "delete", "rule",
			"name=" + blockRuleName(ip, dir),
		}

		if _, err := runCommand(ctx, "netsh", args...); err != nil {
			log.Error("devicescan: removing firewall rule for %s (%s): %s", ip, dir, err)
		}
	}

	return nil
}
