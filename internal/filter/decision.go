// Package filter implements Pyrewall's per-packet decision pipeline and the
// long-lived loop that drives it over an internal/capture.Handle, per
// spec.md §4.5.
package filter

import (
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/Sachibara/Pyrewall/internal/netutil"
)

// tempBlockTTL is the TTL applied to IPs blocked as a side effect of a
// domain or application-signature match, per spec.md §4.5 steps 6-7.
const tempBlockTTL = 300 * time.Second

// dohFragments is the fixed fragment list spec.md §4.5 step 5 hard-drops
// DNS-over-HTTPS on.
var dohFragments = []string{
	"dns.google",
	"cloudflare-dns.com",
	"mozilla.cloudflare-dns.com",
	"one.one.one.one",
}

// signature is a loaded, glob-compiled AppSignature.
type signature struct {
	appName string
	pattern glob.Glob
}

// snapshot is the filter engine's read-only view of its caches for one
// decide() call, refreshed by the background maintenance loop.
type snapshot struct {
	blockedIPs map[string]struct{}
	domains    map[string]struct{}
	signatures []signature
}

// outcome is what decide() decided to do with one packet.
type outcome struct {
	drop bool

	// tempBlockIP/tempBlockDomain are set when the decision also requires
	// inserting a temporary BlockedIP row (steps 6-7).
	tempBlockIP     string
	tempBlockDomain string
}

// decide runs spec.md §4.5's eight-step decision pipeline against one
// parsed packet. It has no side effects of its own: callers apply outcome
// (reinject, drop-count, temp-block) and own all I/O.
func decide(pkt parsedPacket, snap snapshot) outcome {
	// 1. IP-level deny.
	if _, blocked := snap.blockedIPs[pkt.dstIP]; blocked {
		return outcome{drop: true}
	}

	// 2. QUIC hard-drop.
	if pkt.protocol == "UDP" && pkt.dstPort == 443 {
		return outcome{drop: true}
	}

	host, hasHost := extractHost(pkt.payload)

	// 4. Domain match, with substring fallback when no host was extracted.
	domainMatch := false

	if hasHost {
		domainMatch = matchesAnyDomain(host, snap.domains)
	} else {
		domainMatch = substringScan(pkt.payload, snap.domains)
	}

	// 5. DoH hard-drop.
	if containsAnyFold(pkt.payload, dohFragments) {
		return outcome{drop: true}
	}

	// 6. Application match.
	if hasHost {
		for _, sig := range snap.signatures {
			if sig.pattern.Match(host) {
				o := outcome{drop: true}
				if pkt.dstIP != "" {
					o.tempBlockIP = pkt.dstIP
				}

				return o
			}
		}
	}

	// 7. Domain side-effect.
	if domainMatch {
		return outcome{drop: true, tempBlockIP: pkt.dstIP, tempBlockDomain: host}
	}

	// 8. Default.
	return outcome{}
}

// matchesAnyDomain reports whether h matches any cached blocked domain, per
// spec.md §4.4/§4.5's shared suffix-match rule.
func matchesAnyDomain(h string, domains map[string]struct{}) bool {
	for d := range domains {
		if netutil.MatchesDomain(h, d) {
			return true
		}
	}

	return false
}

// substringScan implements spec.md §4.5 step 4's fallback: a
// case-insensitive substring scan of the payload for each blocked domain.
// Provisional: it is approximate, and fires on any payload that merely
// contains a blocked domain's text, including unrelated binary data.
func substringScan(payload []byte, domains map[string]struct{}) bool {
	if len(domains) == 0 {
		return false
	}

	lower := strings.ToLower(string(payload))

	for d := range domains {
		if strings.Contains(lower, strings.ToLower(d)) {
			return true
		}
	}

	return false
}

// containsAnyFold reports whether payload (case-insensitively) contains any
// of fragments.
func containsAnyFold(payload []byte, fragments []string) bool {
	lower := strings.ToLower(string(payload))

	for _, f := range fragments {
		if strings.Contains(lower, f) {
			return true
		}
	}

	return false
}
