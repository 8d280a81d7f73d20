// Package dnsproxy implements Pyrewall's DNS-layer enforcement: a UDP
// listener on :53 that answers NXDOMAIN for policy-blocked names and
// forwards everything else upstream verbatim, per spec.md §4.4.
//
// The listener is a hand-managed net.PacketConn loop with a 1s read
// deadline rather than a full server framework, grounded on the polling
// shutdown pattern in the pack's grimm-is-flywall HA heartbeat service
// (SetReadDeadline before every ReadFromUDP so a context cancellation is
// noticed promptly), and on the wire codec the teacher's own DNS stack
// builds on: github.com/miekg/dns's Msg/Pack/Unpack.
package dnsproxy

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"github.com/miekg/dns"

	"github.com/Sachibara/Pyrewall/internal/errs"
	"github.com/Sachibara/Pyrewall/internal/netutil"
)

// pollInterval is the read-deadline the listener loop polls at so shutdown
// is noticed within ~1s, per spec.md §4.4.
const pollInterval = 1 * time.Second

// upstreamTimeout bounds each forwarded query, per spec.md §4.4.
const upstreamTimeout = 2 * time.Second

// maxPacketSize is the UDP read buffer size; large enough for any plain DNS
// message (EDNS0 options excepted, which this proxy doesn't negotiate).
const maxPacketSize = 4096

// DomainLister supplies the current BlockedDomain set; satisfied by
// (*storage.FirewallStore).BlockedDomains.
type DomainLister interface {
	BlockedDomains(ctx context.Context) ([]string, error)
}

// Proxy is the DNS-layer blocking proxy described in spec.md §4.4.
type Proxy struct {
	// ListenAddr is the UDP address to bind, e.g. "0.0.0.0:53".
	ListenAddr string

	// Upstream is the resolver forwarded queries are relayed to, e.g.
	// "8.8.8.8:53".
	Upstream string

	// Domains supplies the authoritative blocked-domain set for
	// RefreshFromDB.
	Domains DomainLister

	mu    sync.RWMutex
	cache map[string]struct{} // normalized domain -> present
}

// RefreshFromDB reloads the in-memory blocked-domain cache from Domains; with
// no Domains set the cache is left empty. Safe to call concurrently with
// Serve's lookups; the swap happens under a write lock held only for the
// duration of the map replacement.
func (p *Proxy) RefreshFromDB(ctx context.Context) error {
	var domains []string
	if p.Domains != nil {
		var err error
		if domains, err = p.Domains.BlockedDomains(ctx); err != nil {
			return err
		}
	}

	next := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		next[d] = struct{}{}
	}

	p.mu.Lock()
	p.cache = next
	p.mu.Unlock()

	return nil
}

// isBlocked implements spec.md §4.4's matching rule: q (already trailing-dot
// stripped and lowercased) is blocked iff some cached d equals q or is a
// suffix of q at a label boundary; a cached "*.d" matches only subdomains of
// d, not d itself (see netutil.MatchesDomain).
func (p *Proxy) isBlocked(q string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for d := range p.cache {
		if netutil.MatchesDomain(q, d) {
			return true
		}
	}

	return false
}

// Serve binds ListenAddr and runs the listener loop until ctx is canceled.
// A privilege-denied bind error is logged and Serve returns nil (the proxy
// simply never starts serving); any other bind error is logged and
// returned, per spec.md §4.4's bind-failure policy.
func (p *Proxy) Serve(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", p.ListenAddr)
	if err != nil {
		if isPermissionDenied(err) {
			log.Error("dnsproxy: %s: %s", errs.BindPrivilege, err)

			return nil
		}

		log.Error("dnsproxy: bind %s: %s", p.ListenAddr, err)

		return err
	}
	defer conn.Close()

	log.Info("dnsproxy: listening on %s", p.ListenAddr)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, maxPacketSize)

	for {
		if err = conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return err
		}

		n, addr, readErr := conn.ReadFrom(buf)
		if readErr != nil {
			if ctx.Err() != nil {
				return nil
			}

			var netErr net.Error
			if errors.As(readErr, &netErr) && netErr.Timeout() {
				continue
			}

			log.Error("dnsproxy: read: %s", readErr)

			continue
		}

		query := make([]byte, n)
		copy(query, buf[:n])

		go p.handle(conn, addr, query)
	}
}

// handle answers a single query, running detached from the listener loop
// per spec.md §4.4's "per-query handling runs in a detached task".
func (p *Proxy) handle(conn net.PacketConn, addr net.Addr, query []byte) {
	msg := new(dns.Msg)
	if err := msg.Unpack(query); err != nil {
		log.Debug("dnsproxy: %s: %s", errs.ParseMalformed, err)

		return
	}

	if len(msg.Question) == 0 {
		return
	}

	name := strings.ToLower(strings.TrimSuffix(msg.Question[0].Name, "."))

	var resp []byte

	if p.isBlocked(name) {
		resp = blockedResponse(msg)
	} else {
		resp = p.forward(query, msg)
	}

	if resp == nil {
		return
	}

	if _, err := conn.WriteTo(resp, addr); err != nil {
		log.Debug("dnsproxy: writing response to %s: %s", addr, err)
	}
}

// blockedResponse builds the NXDOMAIN reply specified in spec.md §4.4.
func blockedResponse(req *dns.Msg) []byte {
	resp := new(dns.Msg)
	resp.SetRcode(req, dns.RcodeNameError)
	resp.Authoritative = true
	resp.RecursionAvailable = true

	packed, err := resp.Pack()
	if err != nil {
		log.Debug("dnsproxy: packing blocked response: %s", err)

		return nil
	}

	return packed
}

// forward relays query to Upstream verbatim and returns the verbatim
// response, per spec.md §4.4. A failure is logged and yields no response
// (the client will retry or time out on its own).
func (p *Proxy) forward(query []byte, req *dns.Msg) []byte {
	upstream := p.Upstream
	if upstream == "" {
		upstream = "8.8.8.8:53"
	}

	conn, err := net.DialTimeout("udp", upstream, upstreamTimeout)
	if err != nil {
		log.Debug("dnsproxy: dialing upstream %s: %s", upstream, err)

		return nil
	}
	defer conn.Close()

	if err = conn.SetDeadline(time.Now().Add(upstreamTimeout)); err != nil {
		return nil
	}

	if _, err = conn.Write(query); err != nil {
		log.Debug("dnsproxy: forwarding query for %q: %s", req.Question[0].Name, err)

		return nil
	}

	buf := make([]byte, maxPacketSize)

	n, err := conn.Read(buf)
	if err != nil {
		log.Debug("dnsproxy: reading upstream response for %q: %s", req.Question[0].Name, err)

		return nil
	}

	resp := make([]byte, n)
	copy(resp, buf[:n])

	return resp
}

// isPermissionDenied reports whether err indicates a bind failure due to
// insufficient privileges (binding :53 unprivileged).
func isPermissionDenied(err error) bool {
	msg := err.Error()

	return strings.Contains(msg, "permission denied") || strings.Contains(msg, "access is denied")
}
