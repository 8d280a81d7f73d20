package filter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"github.com/gobwas/glob"

	"github.com/Sachibara/Pyrewall/internal/capture"
	"github.com/Sachibara/Pyrewall/internal/errs"
	"github.com/Sachibara/Pyrewall/internal/storage"
)

// Periodic cadences from spec.md §4.5's "Background maintenance".
const (
	reloadListsInterval   = 3 * time.Second
	reloadSigsInterval    = 60 * time.Second
	resyncDomainsInterval = 300 * time.Second
	sweepExpiredInterval  = 60 * time.Second
	flushCountersInterval = 1 * time.Second
)

// Re-inject backoff parameters, per spec.md §4.5.
const (
	backoffStart      = 50 * time.Millisecond
	backoffMultiplier = 1.3
	backoffMax        = 1 * time.Second
	backoffLogEvery   = 50
)

// Syncer is the subset of internal/blocklist.Syncer the engine drives
// directly from its own maintenance loop (domain side-effects and the
// periodic resync/cleanup).
type Syncer interface {
	SyncBlockedIPs(ctx context.Context) error
	AddTemporaryBlockIP(ctx context.Context, ip, domain string, ttl time.Duration) error
	CleanupExpired(ctx context.Context) error
}

// Engine is the long-lived packet-filter thread described in spec.md §4.5.
// It owns the blocked-domain/IP/signature caches exclusively; nothing else
// reads or writes them.
type Engine struct {
	handle   capture.Handle
	firewall *storage.FirewallStore
	logs     *storage.LogStore
	syncer   Syncer

	reloadCh chan struct{}
	// stopping is set once Run's shutdown goroutine starts closing
	// handle, so reinject can stop retrying a Send that is about to
	// start failing for good.
	stopping atomic.Bool
	ready    atomic.Bool

	mu   sync.RWMutex
	snap snapshot

	dropsMu sync.Mutex
	drops   map[string]int64
}

// New builds an Engine bound to handle. Caches are empty until the first
// background reload completes.
func New(handle capture.Handle, firewall *storage.FirewallStore, logs *storage.LogStore, syncer Syncer) *Engine {
	return &Engine{
		handle:   handle,
		firewall: firewall,
		logs:     logs,
		syncer:   syncer,
		reloadCh: make(chan struct{}, 1),
		drops:    make(map[string]int64),
	}
}

// SetSyncer binds the blocklist syncer the maintenance loop drives. It
// exists to break the construction cycle between Engine (which needs a
// Syncer) and blocklist.Syncer (which needs Engine as its Reloader): build
// the Engine with a nil Syncer, build the blocklist.Syncer with the Engine
// as its Reloader, then call SetSyncer before Run. Not safe to call
// concurrently with Run.
func (e *Engine) SetSyncer(syncer Syncer) {
	e.syncer = syncer
}

// NotifyReload sets the reload signal the maintenance loop checks, per
// spec.md §4.6's notify_reload. Safe to call from any goroutine.
func (e *Engine) NotifyReload() {
	select {
	case e.reloadCh <- struct{}{}:
	default:
	}
}

// IsReady reports whether the engine has completed its first cache load and
// is actively consuming packets, per spec.md §4.6's is_ready.
func (e *Engine) IsReady() bool {
	return e.ready.Load()
}

// Run drives the receive/decide/act loop and the background maintenance
// goroutines until ctx is canceled. e.handle.Recv blocks on a kernel
// syscall that does not itself observe ctx, so a dedicated goroutine closes
// the handle on cancellation to unblock it, mirroring how
// internal/dnsproxy.Proxy.Serve closes its listener on ctx.Done(). Run
// returns once the capture handle is closed and every maintenance goroutine
// has exited.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := e.reloadLists(ctx); err != nil {
		log.Error("filter: initial reload: %s", err)
	}

	if err := e.reloadSignatures(ctx); err != nil {
		log.Error("filter: initial signature reload: %s", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		e.maintain(ctx)
	}()

	go func() {
		defer wg.Done()

		<-ctx.Done()

		// Set before Close so reinject's in-flight backoff retries stop
		// spinning once the handle is on its way out from under them.
		e.stopping.Store(true)

		if err := e.handle.Close(); err != nil {
			log.Debug("filter: closing capture handle: %s", err)
		}
	}()

	e.ready.Store(true)

	err := e.receiveLoop(ctx)

	cancel()
	wg.Wait()

	e.flushCounters(context.Background())

	log.Info("filter: stopped")

	return err
}

// receiveLoop implements the decide/act half of spec.md §4.5: receive, run
// the decision pipeline, and either drop (counting it and applying any
// side-effect temp block) or re-inject.
func (e *Engine) receiveLoop(ctx context.Context) error {
	backoff := backoffStart
	consecutiveFailures := 0

	for {
		raw, err := e.handle.Recv(ctx)
		if err != nil {
			if errs.IsExpected(err) {
				return nil
			}

			log.Error("filter: receive: %s", err)

			return err
		}

		pkt, ok := parsePacket(raw)
		if !ok {
			e.reinject(raw, &backoff, &consecutiveFailures)

			continue
		}

		e.mu.RLock()
		snap := e.snap
		e.mu.RUnlock()

		d := decide(pkt, snap)

		if !d.drop {
			e.reinject(raw, &backoff, &consecutiveFailures)

			continue
		}

		e.countDrop(pkt.dstIP)

		if d.tempBlockIP != "" {
			if err = e.syncer.AddTemporaryBlockIP(ctx, d.tempBlockIP, d.tempBlockDomain, tempBlockTTL); err != nil {
				log.Debug("filter: temp-blocking %s: %s", d.tempBlockIP, err)
			}
		}
	}
}

// reinject re-sends raw unmodified, applying spec.md §4.5's re-inject
// failure backoff on consecutive errors.
func (e *Engine) reinject(raw []byte, backoff *time.Duration, failures *int) {
	if err := e.handle.Send(raw); err != nil {
		*failures++

		if e.stopping.Load() {
			// The handle is closing (or closed) as part of shutdown; a
			// Send failure here is expected, and backing off would just
			// delay Run's return.
			return
		}

		if *failures%backoffLogEvery == 0 {
			log.Error("filter: %s (%d consecutive failures)", errs.ReinjectTransient, *failures)
		}

		time.Sleep(*backoff)

		*backoff = time.Duration(float64(*backoff) * backoffMultiplier)
		if *backoff > backoffMax {
			*backoff = backoffMax
		}

		return
	}

	*failures = 0
	*backoff = backoffStart
}

// countDrop increments the per-IP aggregated drop counter flushed every 1s,
// per spec.md §4.5 step 1.
func (e *Engine) countDrop(ip string) {
	if ip == "" {
		return
	}

	e.dropsMu.Lock()
	e.drops[ip]++
	e.dropsMu.Unlock()
}

// maintain runs the background reload/resync/sweep/flush cadences of
// spec.md §4.5.
func (e *Engine) maintain(ctx context.Context) {
	listsTicker := time.NewTicker(reloadListsInterval)
	defer listsTicker.Stop()

	sigsTicker := time.NewTicker(reloadSigsInterval)
	defer sigsTicker.Stop()

	resyncTicker := time.NewTicker(resyncDomainsInterval)
	defer resyncTicker.Stop()

	sweepTicker := time.NewTicker(sweepExpiredInterval)
	defer sweepTicker.Stop()

	flushTicker := time.NewTicker(flushCountersInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-e.reloadCh:
			if err := e.reloadLists(ctx); err != nil {
				log.Error("filter: reload on signal: %s", err)
			}

		case <-listsTicker.C:
			if err := e.reloadLists(ctx); err != nil {
				log.Error("filter: periodic reload: %s", err)
			}

		case <-sigsTicker.C:
			if err := e.reloadSignatures(ctx); err != nil {
				log.Error("filter: signature reload: %s", err)
			}

		case <-resyncTicker.C:
			if err := e.syncer.SyncBlockedIPs(ctx); err != nil {
				log.Error("filter: periodic resync: %s", err)
			}

		case <-sweepTicker.C:
			if err := e.syncer.CleanupExpired(ctx); err != nil {
				log.Error("filter: sweeping expired rows: %s", err)
			}

		case <-flushTicker.C:
			e.flushCounters(ctx)
		}
	}
}

// reloadLists refreshes the blocked-domain and blocked-IP caches.
func (e *Engine) reloadLists(ctx context.Context) error {
	domains, err := e.firewall.BlockedDomains(ctx)
	if err != nil {
		return err
	}

	rows, err := e.firewall.BlockedIPs(ctx)
	if err != nil {
		return err
	}

	domainSet := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		domainSet[d] = struct{}{}
	}

	ipSet := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		ipSet[r.IP] = struct{}{}
	}

	e.mu.Lock()
	e.snap.domains = domainSet
	e.snap.blockedIPs = ipSet
	e.mu.Unlock()

	return nil
}

// reloadSignatures refreshes the application-signature cache, compiling
// each pattern as a glob.
func (e *Engine) reloadSignatures(ctx context.Context) error {
	rows, err := e.firewall.AppSignatures(ctx)
	if err != nil {
		return err
	}

	sigs := make([]signature, 0, len(rows))

	for _, row := range rows {
		g, gerr := glob.Compile(row.Pattern)
		if gerr != nil {
			log.Debug("filter: compiling signature %q pattern %q: %s", row.AppName, row.Pattern, gerr)

			continue
		}

		sigs = append(sigs, signature{appName: row.AppName, pattern: g})
	}

	e.mu.Lock()
	e.snap.signatures = sigs
	e.mu.Unlock()

	return nil
}

// flushCounters writes every accumulated per-IP drop counter to LogStore as
// a single window and resets the accumulator.
func (e *Engine) flushCounters(ctx context.Context) {
	e.dropsMu.Lock()
	drops := e.drops
	e.drops = make(map[string]int64)
	e.dropsMu.Unlock()

	if len(drops) == 0 {
		return
	}

	now := time.Now().UTC()
	start := now.Add(-flushCountersInterval)

	for ip, count := range drops {
		if err := e.logs.RecordDrops(ctx, storage.DropEvent{
			IP: ip, Count: count, WindowStart: start, WindowEnd: now,
		}); err != nil {
			log.Debug("filter: recording drop counter for %s: %s", ip, err)
		}
	}
}
