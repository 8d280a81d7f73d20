// Package blocklist implements the blocklist-to-BlockedIP sync described in
// spec.md §4.3: resolving every admin-managed BlockedDomain to its current
// IPv4 set and keeping that set authoritative in internal/storage, on top of
// the internal/resolver fan-out and filtered through the critical-protection
// set from internal/netutil.
package blocklist

import (
	"context"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"

	"github.com/Sachibara/Pyrewall/internal/storage"
)

// resolveFunc resolves a single domain to its IPv4 set; satisfied by
// (*resolver.Resolver).Resolve.
type resolveFunc func(ctx context.Context, domain string) (map[netip.Addr]struct{}, error)

// Reloader is notified after a successful sync so the filter engine can pick
// up the new authoritative set, per spec.md §4.3 step 5. Satisfied by
// internal/controller.
type Reloader interface {
	NotifyReload()
}

// Syncer implements sync_blocked_ips, add_temporary_block_ip, and
// cleanup_expired exactly as specified in spec.md §4.3.
type Syncer struct {
	firewall *storage.FirewallStore
	critical storage.CriticalSet
	resolve  resolveFunc
	reload   Reloader
}

// New builds a Syncer. resolve is typically (*resolver.Resolver).Resolve;
// it is taken as a function value so tests can stub it without depending on
// internal/resolver's net.DefaultResolver.
func New(
	firewall *storage.FirewallStore,
	critical storage.CriticalSet,
	resolve func(ctx context.Context, domain string) (map[netip.Addr]struct{}, error),
	reload Reloader,
) *Syncer {
	return &Syncer{firewall: firewall, critical: critical, resolve: resolve, reload: reload}
}

// SyncBlockedIPs implements spec.md §4.3's sync_blocked_ips: resolves every
// BlockedDomain, replaces the authoritative BlockedIP rows with the union of
// results (excluding the critical-protection set), and signals the filter
// engine to reload.
func (s *Syncer) SyncBlockedIPs(ctx context.Context) (err error) {
	defer func() { err = errors.Annotate(err, "syncing blocked ips: %w") }()

	domains, err := s.firewall.BlockedDomains(ctx)
	if err != nil {
		return err
	}

	resolved := make(map[string]string, len(domains))

	for _, domain := range domains {
		ips, rerr := s.resolve(ctx, domain)
		if rerr != nil {
			// resolve itself only fails on a dead context; abort the whole
			// sync rather than commit a partial set.
			return rerr
		}

		for ip := range ips {
			resolved[ip.String()] = domain
		}
	}

	if err = s.firewall.ReplaceAuthoritativeBlockedIPs(ctx, s.critical, resolved); err != nil {
		return err
	}

	log.Info("blocklist: synced %d domain(s) to %d ip(s)", len(domains), len(resolved))

	if s.reload != nil {
		s.reload.NotifyReload()
	}

	return nil
}

// AddTemporaryBlockIP upserts a BlockedIP row with expires_at = now + ttl
// and reason "auto-temp", refusing silently if ip is in the
// critical-protection set, per spec.md §4.3.
func (s *Syncer) AddTemporaryBlockIP(ctx context.Context, ip, domain string, ttl time.Duration) error {
	if s.critical.IsCritical(ip) {
		return nil
	}

	expires := time.Now().UTC().Add(ttl)

	return s.firewall.UpsertBlockedIP(ctx, s.critical, storage.BlockedIP{
		IP:      ip,
		Domain:  domain,
		Expires: &expires,
		Reason:  "auto-temp",
	})
}

// CleanupExpired deletes every BlockedIP row whose expires_at has passed,
// per spec.md §4.3. Intended to run on a >=60s cadence from the filter
// engine's background maintenance loop.
func (s *Syncer) CleanupExpired(ctx context.Context) error {
	return s.firewall.DeleteExpiredBlockedIPs(ctx, time.Now().UTC())
}
