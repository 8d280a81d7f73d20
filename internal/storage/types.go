package storage

import "time"

// BlockedDomain is an administrator-defined hostname pattern, normalized per
// spec.md §3: lowercase, no scheme/path/port, at least one dot, no
// whitespace.
type BlockedDomain struct {
	Domain string
}

// BlockedIP is a per-IPv4 deny entry.  Authoritative rows (derived from a
// BlockedDomain by the blocklist sync) have a nil Expires; temporary rows
// observed at runtime carry a TTL.
type BlockedIP struct {
	IP      string
	Domain  string // origin domain, empty for manually-added rows
	Expires *time.Time
	Reason  string
}

// Protocol is a FirewallRule/AppSignature transport protocol.
type Protocol string

// Recognized protocols, per spec.md §3.
const (
	ProtocolTCP  Protocol = "TCP"
	ProtocolUDP  Protocol = "UDP"
	ProtocolICMP Protocol = "ICMP"
	ProtocolAny  Protocol = "ANY"
)

// Action is a FirewallRule disposition.
type Action string

// Recognized actions, per spec.md §3.
const (
	ActionBlock Action = "BLOCK"
	ActionAllow Action = "ALLOW"
)

// FirewallRule is an admin-managed (IP, port, protocol) → action tuple. It is
// not consumed by the packet pipeline; see DESIGN.md Open Question 1.
type FirewallRule struct {
	ID       int64
	IP       string
	Port     string // numeric, or "ANY"
	Protocol Protocol
	Action   Action
}

// AppSignature is an admin-defined glob pattern over Host/SNI used to
// identify application traffic, per spec.md §3.
type AppSignature struct {
	ID       int64
	AppName  string
	Pattern  string
	IPRange  string
	Protocol Protocol
}

// BlockedDevice is a device the admin has blocked at the host/ARP/OS-firewall
// level (spec.md §3, §6). Not consumed by the capture engine.
type BlockedDevice struct {
	IP          string
	MAC         string
	DateBlocked time.Time
}

// LiveDeviceSnapshotRow is one row of the ephemeral, fully-replaced-on-scan
// device overview table.
type LiveDeviceSnapshotRow struct {
	IP       string
	MAC      string
	Vendor   string
	DevType  string
	LastSeen time.Time
}

// Role is a User's privilege level.
type Role string

// Recognized roles, per spec.md §3.
const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is an administration-surface account. Login/role enforcement itself
// is out of scope for the core (spec.md §1); this is storage only.
type User struct {
	Username string
	Password string // "iterations$salt_hex$hash_hex", see internal/credential
	Role     Role
}

// HistoryEntry is one append-only user-activity record.
type HistoryEntry struct {
	ID          int64
	Username    string
	Action      string
	Description string
	Timestamp   time.Time
}

// DropEvent is an aggregated per-IP drop counter flushed by the packet
// filter every second, per spec.md §4.5 and SPEC_FULL §3.
type DropEvent struct {
	IP          string
	Count       int64
	WindowStart time.Time
	WindowEnd   time.Time
}
