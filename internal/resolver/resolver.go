// Package resolver implements Pyrewall's synchronous domain-to-IPv4
// resolver: a fixed fan-out of conventional subdomain variants resolved
// concurrently through a bounded worker pool, merging results and silently
// dropping per-variant failures, per spec.md §4.2.
package resolver

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sachibara/Pyrewall/internal/errs"
)

// variants is the fixed list of conventional subdomain prefixes expanded
// against every resolved domain, per spec.md §4.2. The empty prefix
// resolves the bare domain itself.
var variants = []string{"", "www.", "m.", "api.", "cdn.", "video.", "static.", "media."}

// DefaultWorkers is the default bounded worker-pool size, per spec.md §4.2.
const DefaultWorkers = 4

// DefaultDeadline bounds the overall call, per spec.md §4.2's "must return
// within ~5s on typical networks".
const DefaultDeadline = 5 * time.Second

// Resolver resolves a domain to the union of IPv4 addresses its conventional
// subdomain variants resolve to.
type Resolver struct {
	// Lookup is the per-name lookup function; net.DefaultResolver.LookupIP
	// in production, overridable in tests.
	Lookup func(ctx context.Context, host string) ([]net.IP, error)

	// Workers bounds fan-out concurrency. Zero means DefaultWorkers.
	Workers int

	// Deadline bounds the overall Resolve call. Zero means DefaultDeadline.
	Deadline time.Duration
}

// New returns a Resolver backed by the OS resolver.
func New(workers int, deadline time.Duration) *Resolver {
	return &Resolver{
		Lookup: func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip4", host)
		},
		Workers:  workers,
		Deadline: deadline,
	}
}

// Resolve expands domain to its conventional subdomain variants and resolves
// each with bounded parallelism, merging every IPv4 address found. A variant
// that fails to resolve is dropped silently (errs.ResolverTransient); Resolve
// itself only fails if the context is already done before any lookup starts.
// domain is not validated: a malformed name simply resolves to nothing.
func (r *Resolver) Resolve(ctx context.Context, domain string) (map[netip.Addr]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	workers := r.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	deadline := r.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[netip.Addr]struct{})
	)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for _, variant := range variants {
		host := variant + domain

		group.Go(func() error {
			ips, err := r.Lookup(gctx, host)
			if err != nil {
				log.Debug("resolver: %s: %s", host, errs.ResolverTransient)

				return nil
			}

			mu.Lock()
			defer mu.Unlock()

			for _, ip := range ips {
				addr, ok := netip.AddrFromSlice(ip.To4())
				if !ok {
					continue
				}

				results[addr] = struct{}{}
			}

			return nil
		})
	}

	// errgroup.Group never returns an error here: every goroutine above
	// returns nil unconditionally, per the "silently dropped" contract.
	_ = group.Wait()

	return results, nil
}
