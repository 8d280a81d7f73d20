package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AdguardTeam/golibs/errors"
)

// FirewallStore exposes CRUD for BlockedDomain, BlockedIP, FirewallRule,
// AppSignature, BlockedDevice, and the live-device snapshot — the contents
// of firewall.db.
type FirewallStore struct {
	db *sql.DB
}

// CriticalSet is the set of IPs that must never be written to BlockedIP, per
// spec.md §3. Every write path below checks against it.
type CriticalSet interface {
	// IsCritical reports whether ip is protected.
	IsCritical(ip string) bool
}

// staticCriticalSet adapts a map[string]struct{} (as produced by
// internal/netutil.CriticalSet) to the CriticalSet interface.
type staticCriticalSet map[string]struct{}

// IsCritical implements the CriticalSet interface for staticCriticalSet.
func (s staticCriticalSet) IsCritical(ip string) bool {
	_, ok := s[ip]

	return ok
}

// NewCriticalSet adapts a critical-IP set, as produced by
// internal/netutil.CriticalSet, to the CriticalSet interface.
func NewCriticalSet(ips map[string]struct{}) CriticalSet {
	return staticCriticalSet(ips)
}

// AddBlockedDomain inserts d (already normalized) into the blocked-domain
// set. Duplicates are collapsed silently, per spec.md §3.
func (fs *FirewallStore) AddBlockedDomain(ctx context.Context, domain string) error {
	return execRetry(ctx, fs.db,
		`INSERT INTO blocked_domains (domain) VALUES (?) ON CONFLICT (domain) DO NOTHING`, domain)
}

// RemoveBlockedDomain deletes domain from the blocked-domain set.
func (fs *FirewallStore) RemoveBlockedDomain(ctx context.Context, domain string) error {
	return execRetry(ctx, fs.db, `DELETE FROM blocked_domains WHERE domain = ?`, domain)
}

// BlockedDomains returns every normalized domain in the blocked-domain set.
func (fs *FirewallStore) BlockedDomains(ctx context.Context) (domains []string, err error) {
	rows, err := fs.db.QueryContext(ctx, `SELECT domain FROM blocked_domains ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("listing blocked domains: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		var d string
		if err = rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scanning domain: %w", err)
		}

		domains = append(domains, d)
	}

	return domains, rows.Err()
}

// UpsertBlockedIP inserts or updates a BlockedIP row, refusing silently (as
// spec.md §4.3 requires for add_temporary_block_ip) if ip is in critical.
func (fs *FirewallStore) UpsertBlockedIP(ctx context.Context, critical CriticalSet, row BlockedIP) error {
	if critical.IsCritical(row.IP) {
		return nil
	}

	var expiresAt any
	if row.Expires != nil {
		expiresAt = row.Expires.UTC().Format(time.RFC3339)
	}

	return execRetry(ctx, fs.db, `
		INSERT INTO blocked_ips (ip, domain, expires_at, reason)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (ip) DO UPDATE SET
			domain = excluded.domain,
			expires_at = excluded.expires_at,
			reason = excluded.reason
	`, row.IP, row.Domain, expiresAt, row.Reason)
}

// ReplaceAuthoritativeBlockedIPs atomically deletes every authoritative
// (expires_at IS NULL) row and inserts resolved in its place, excluding
// anything in critical, per spec.md §4.3 step 3.
func (fs *FirewallStore) ReplaceAuthoritativeBlockedIPs(
	ctx context.Context,
	critical CriticalSet,
	resolved map[string]string, // ip -> origin domain
) error {
	return withRetry(ctx, func() error {
		tx, txErr := fs.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("beginning transaction: %w", txErr)
		}
		defer func() { _ = tx.Rollback() }()

		if _, txErr = tx.ExecContext(ctx, `DELETE FROM blocked_ips WHERE expires_at IS NULL`); txErr != nil {
			return fmt.Errorf("clearing authoritative rows: %w", txErr)
		}

		stmt, txErr := tx.PrepareContext(ctx, `
			INSERT INTO blocked_ips (ip, domain, expires_at, reason)
			VALUES (?, ?, NULL, 'authoritative')
			ON CONFLICT (ip) DO UPDATE SET domain = excluded.domain
		`)
		if txErr != nil {
			return fmt.Errorf("preparing insert: %w", txErr)
		}
		defer stmt.Close()

		for ip, domain := range resolved {
			if critical.IsCritical(ip) {
				continue
			}

			if _, txErr = stmt.ExecContext(ctx, ip, domain); txErr != nil {
				return fmt.Errorf("inserting %s: %w", ip, txErr)
			}
		}

		if txErr = tx.Commit(); txErr != nil {
			return fmt.Errorf("committing: %w", txErr)
		}

		return nil
	})
}

// RemoveBlockedIPsForDomain deletes every BlockedIP row whose origin domain
// is domain, called when a BlockedDomain is removed.
func (fs *FirewallStore) RemoveBlockedIPsForDomain(ctx context.Context, domain string) error {
	return execRetry(ctx, fs.db, `DELETE FROM blocked_ips WHERE domain = ?`, domain)
}

// DeleteExpiredBlockedIPs removes every row whose expires_at has passed as
// of now, per spec.md §4.3's cleanup_expired.
func (fs *FirewallStore) DeleteExpiredBlockedIPs(ctx context.Context, now time.Time) error {
	return execRetry(ctx, fs.db,
		`DELETE FROM blocked_ips WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		now.UTC().Format(time.RFC3339))
}

// BlockedIPs returns every row currently in blocked_ips.
func (fs *FirewallStore) BlockedIPs(ctx context.Context) (rows []BlockedIP, err error) {
	dbRows, err := fs.db.QueryContext(ctx, `SELECT ip, domain, expires_at, reason FROM blocked_ips`)
	if err != nil {
		return nil, fmt.Errorf("listing blocked ips: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, dbRows.Close()) }()

	for dbRows.Next() {
		var (
			row       BlockedIP
			expiresAt sql.NullString
		)

		if err = dbRows.Scan(&row.IP, &row.Domain, &expiresAt, &row.Reason); err != nil {
			return nil, fmt.Errorf("scanning blocked ip: %w", err)
		}

		if expiresAt.Valid {
			t, perr := time.Parse(time.RFC3339, expiresAt.String)
			if perr == nil {
				row.Expires = &t
			}
		}

		rows = append(rows, row)
	}

	return rows, dbRows.Err()
}

// FirewallRules returns every admin-managed rule, kept as metadata per
// DESIGN.md Open Question 1.
func (fs *FirewallStore) FirewallRules(ctx context.Context) (rules []FirewallRule, err error) {
	dbRows, err := fs.db.QueryContext(ctx, `SELECT id, ip, port, protocol, action FROM firewall_rules`)
	if err != nil {
		return nil, fmt.Errorf("listing firewall rules: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, dbRows.Close()) }()

	for dbRows.Next() {
		var r FirewallRule
		if err = dbRows.Scan(&r.ID, &r.IP, &r.Port, &r.Protocol, &r.Action); err != nil {
			return nil, fmt.Errorf("scanning firewall rule: %w", err)
		}

		rules = append(rules, r)
	}

	return rules, dbRows.Err()
}

// AddFirewallRule inserts a new admin-managed rule, enforcing tuple
// uniqueness per spec.md §3.
func (fs *FirewallStore) AddFirewallRule(ctx context.Context, r FirewallRule) error {
	return execRetry(ctx, fs.db, `
		INSERT INTO firewall_rules (ip, port, protocol, action)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (ip, port, protocol, action) DO NOTHING
	`, r.IP, r.Port, r.Protocol, r.Action)
}

// RemoveFirewallRule deletes a rule by ID.
func (fs *FirewallStore) RemoveFirewallRule(ctx context.Context, id int64) error {
	return execRetry(ctx, fs.db, `DELETE FROM firewall_rules WHERE id = ?`, id)
}

// AppSignatures returns every admin-managed application signature.
func (fs *FirewallStore) AppSignatures(ctx context.Context) (sigs []AppSignature, err error) {
	dbRows, err := fs.db.QueryContext(ctx,
		`SELECT id, app_name, pattern, ip_range, protocol FROM app_signatures`)
	if err != nil {
		return nil, fmt.Errorf("listing app signatures: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, dbRows.Close()) }()

	for dbRows.Next() {
		var sig AppSignature
		if err = dbRows.Scan(&sig.ID, &sig.AppName, &sig.Pattern, &sig.IPRange, &sig.Protocol); err != nil {
			return nil, fmt.Errorf("scanning app signature: %w", err)
		}

		sigs = append(sigs, sig)
	}

	return sigs, dbRows.Err()
}

// AddAppSignature inserts a new application signature; app_name is unique.
func (fs *FirewallStore) AddAppSignature(ctx context.Context, sig AppSignature) error {
	return execRetry(ctx, fs.db, `
		INSERT INTO app_signatures (app_name, pattern, ip_range, protocol)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (app_name) DO UPDATE SET
			pattern = excluded.pattern,
			ip_range = excluded.ip_range,
			protocol = excluded.protocol
	`, sig.AppName, sig.Pattern, sig.IPRange, sig.Protocol)
}

// RemoveAppSignature deletes a signature by app name.
func (fs *FirewallStore) RemoveAppSignature(ctx context.Context, appName string) error {
	return execRetry(ctx, fs.db, `DELETE FROM app_signatures WHERE app_name = ?`, appName)
}

// BlockDevice records a BlockedDevice, unique by IP per spec.md §3.
func (fs *FirewallStore) BlockDevice(ctx context.Context, d BlockedDevice) error {
	return execRetry(ctx, fs.db, `
		INSERT INTO blocked_devices (ip, mac, date_blocked)
		VALUES (?, ?, ?)
		ON CONFLICT (ip) DO UPDATE SET mac = excluded.mac, date_blocked = excluded.date_blocked
	`, d.IP, d.MAC, d.DateBlocked.UTC().Format(time.RFC3339))
}

// UnblockDevice removes a BlockedDevice by IP.
func (fs *FirewallStore) UnblockDevice(ctx context.Context, ip string) error {
	return execRetry(ctx, fs.db, `DELETE FROM blocked_devices WHERE ip = ?`, ip)
}

// BlockedDevices returns every blocked device.
func (fs *FirewallStore) BlockedDevices(ctx context.Context) (devices []BlockedDevice, err error) {
	dbRows, err := fs.db.QueryContext(ctx, `SELECT ip, mac, date_blocked FROM blocked_devices`)
	if err != nil {
		return nil, fmt.Errorf("listing blocked devices: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, dbRows.Close()) }()

	for dbRows.Next() {
		var (
			d    BlockedDevice
			date string
		)

		if err = dbRows.Scan(&d.IP, &d.MAC, &date); err != nil {
			return nil, fmt.Errorf("scanning blocked device: %w", err)
		}

		if d.DateBlocked, err = time.Parse(time.RFC3339, date); err != nil {
			return nil, fmt.Errorf("parsing date_blocked: %w", err)
		}

		devices = append(devices, d)
	}

	return devices, dbRows.Err()
}

// ReplaceLiveDeviceSnapshot atomically replaces the entire live-devices
// table with rows, per spec.md §3's "table fully replaced on each scan".
func (fs *FirewallStore) ReplaceLiveDeviceSnapshot(ctx context.Context, rows []LiveDeviceSnapshotRow) error {
	return withRetry(ctx, func() error {
		tx, txErr := fs.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("beginning transaction: %w", txErr)
		}
		defer func() { _ = tx.Rollback() }()

		if _, txErr = tx.ExecContext(ctx, `DELETE FROM live_devices`); txErr != nil {
			return fmt.Errorf("clearing live_devices: %w", txErr)
		}

		stmt, txErr := tx.PrepareContext(ctx, `
			INSERT INTO live_devices (ip, mac, vendor, dev_type, last_seen)
			VALUES (?, ?, ?, ?, ?)
		`)
		if txErr != nil {
			return fmt.Errorf("preparing insert: %w", txErr)
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, txErr = stmt.ExecContext(ctx, row.IP, row.MAC, row.Vendor, row.DevType,
				row.LastSeen.UTC().Format(time.RFC3339)); txErr != nil {
				return fmt.Errorf("inserting %s: %w", row.IP, txErr)
			}
		}

		if txErr = tx.Commit(); txErr != nil {
			return fmt.Errorf("committing: %w", txErr)
		}

		return nil
	})
}

// LiveDeviceSnapshot returns the current device overview.
func (fs *FirewallStore) LiveDeviceSnapshot(ctx context.Context) (rows []LiveDeviceSnapshotRow, err error) {
	dbRows, err := fs.db.QueryContext(ctx, `SELECT ip, mac, vendor, dev_type, last_seen FROM live_devices`)
	if err != nil {
		return nil, fmt.Errorf("listing live devices: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, dbRows.Close()) }()

	for dbRows.Next() {
		var (
			row      LiveDeviceSnapshotRow
			lastSeen string
		)

		if err = dbRows.Scan(&row.IP, &row.MAC, &row.Vendor, &row.DevType, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning live device: %w", err)
		}

		if row.LastSeen, err = time.Parse(time.RFC3339, lastSeen); err != nil {
			return nil, fmt.Errorf("parsing last_seen: %w", err)
		}

		rows = append(rows, row)
	}

	return rows, dbRows.Err()
}
