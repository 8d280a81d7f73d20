// Package netutil provides the small set of network helpers shared by the
// persistence, blocklist, and filter layers: the critical-protection set, the
// domain-name normalizer, and default-gateway discovery.
package netutil

import (
	"fmt"
	"net"
	"strings"
)

// wellKnownResolvers is the fixed list of public DNS resolvers that must
// never be blocked, per spec.md §3.
var wellKnownResolvers = []string{
	"8.8.8.8",
	"1.1.1.1",
	"9.9.9.9",
	"208.67.222.222",
}

// CriticalSet computes the set of IPv4 addresses that must never appear in
// BlockedIP: loopback, 0.0.0.0, the detected default gateway, and the
// well-known public resolvers.
//
// gatewayFunc is injectable for tests; production callers should pass
// DefaultGateway.
func CriticalSet(gatewayFunc func() (net.IP, error)) map[string]struct{} {
	set := make(map[string]struct{}, len(wellKnownResolvers)+3)

	set["127.0.0.1"] = struct{}{}
	set["0.0.0.0"] = struct{}{}
	for _, ip := range wellKnownResolvers {
		set[ip] = struct{}{}
	}

	if gatewayFunc == nil {
		gatewayFunc = DefaultGateway
	}

	if gw, err := gatewayFunc(); err == nil && gw != nil {
		set[gw.String()] = struct{}{}
	}

	return set
}

// IsCritical reports whether ip is a member of set, comparing the normalized
// dotted-quad string form.
func IsCritical(set map[string]struct{}, ip string) bool {
	_, ok := set[ip]

	return ok
}

// NormalizeDomain reduces a free-form hostname-ish input (a bare hostname, a
// URL, a "host:port/path" string) to Pyrewall's canonical BlockedDomain form:
// lowercase, no scheme, no path, no port, at least one dot, no whitespace.
// It returns an error if the result doesn't look like a domain.
func NormalizeDomain(raw string) (domain string, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("normalize domain: empty input")
	}

	if strings.ContainsAny(s, " \t\r\n") {
		return "", fmt.Errorf("normalize domain: %q contains whitespace", raw)
	}

	// Strip a scheme, if present.
	if i := strings.Index(s, "://"); i != -1 {
		s = s[i+len("://"):]
	}

	// Cut any path/query.
	if i := strings.IndexAny(s, "/?#"); i != -1 {
		s = s[:i]
	}

	// Cut a trailing port.
	if i := strings.LastIndex(s, ":"); i != -1 {
		s = s[:i]
	}

	s = strings.ToLower(s)
	s = strings.TrimSuffix(s, ".")

	if !strings.Contains(s, ".") {
		return "", fmt.Errorf("normalize domain: %q is not a domain", raw)
	}

	if s == "" || strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return "", fmt.Errorf("normalize domain: %q is not a domain", raw)
	}

	for _, r := range s {
		isAllowed := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '-' || r == '*'
		if !isAllowed {
			return "", fmt.Errorf("normalize domain: %q contains invalid character %q", raw, r)
		}
	}

	return s, nil
}

// MatchesDomain reports whether host h matches blocklist entry d, per the
// rule shared by the DNS proxy and the packet filter: h == d, or h ends with
// "."+d. A wildcard entry "*.x" matches only proper subdomains of x, never x
// itself.
func MatchesDomain(h, d string) bool {
	h = strings.ToLower(strings.TrimSuffix(h, "."))
	d = strings.ToLower(d)

	if rest, ok := strings.CutPrefix(d, "*."); ok {
		return strings.HasSuffix(h, "."+rest)
	}

	return h == d || strings.HasSuffix(h, "."+d)
}
