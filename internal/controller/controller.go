// Package controller implements Pyrewall's process-wide singleton described
// in spec.md §4.6: the only place that wires the packet filter and DNS
// proxy together and exposes start/stop/readiness to the (external)
// administration surface.
package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/log"
)

// readinessPollInterval is the granularity pollReady checks the filter
// engine's readiness at.
const readinessPollInterval = 100 * time.Millisecond

// ReloadSink is anything that must be told to reload when notify_reload is
// called: the filter engine and the DNS proxy. Satisfied by
// (*filter.Engine).NotifyReload and a (*dnsproxy.Proxy) adapter around
// RefreshFromDB.
type ReloadSink interface {
	NotifyReload()
}

// Runnable is a long-lived component the controller drives on its own
// goroutine: internal/filter.Engine.Run or internal/dnsproxy.Proxy.Serve.
type Runnable interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a plain function, such as (*dnsproxy.Proxy).Serve, to
// the Runnable interface.
type RunnerFunc func(ctx context.Context) error

// Run implements the Runnable interface for RunnerFunc.
func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// dnsRefresher adapts internal/dnsproxy.Proxy.RefreshFromDB to the
// ReloadSink interface.
type dnsRefresher struct {
	refresh func(ctx context.Context) error
}

// NotifyReload implements the ReloadSink interface for dnsRefresher. A
// refresh failure is logged and otherwise ignored, per spec.md §4.6's
// "safe to call from any thread" contract (notify_reload itself must not
// fail).
func (d dnsRefresher) NotifyReload() {
	if err := d.refresh(context.Background()); err != nil {
		log.Error("controller: refreshing dns cache: %s", err)
	}
}

// NewDNSReloadSink wraps refresh (typically (*dnsproxy.Proxy).RefreshFromDB)
// as a ReloadSink.
func NewDNSReloadSink(refresh func(ctx context.Context) error) ReloadSink {
	return dnsRefresher{refresh: refresh}
}

// Controller is the process-wide singleton of spec.md §4.6.
type Controller struct {
	filter Runnable
	dns    Runnable
	sinks  []ReloadSink

	mu      sync.Mutex
	cancel  context.CancelFunc
	doneCh  chan struct{}
	running atomic.Bool
	ready   atomic.Bool
}

var (
	instance     *Controller
	instanceOnce sync.Once
)

// Get returns the process-wide Controller, constructing it on first call
// with filter and dns as the components it drives and sinks as the targets
// of notify_reload.
func Get(filter, dns Runnable, sinks ...ReloadSink) *Controller {
	instanceOnce.Do(func() {
		instance = &Controller{filter: filter, dns: dns, sinks: sinks}
	})

	return instance
}

// IsReadyReporter is implemented by components that can report readiness
// independent of goroutine liveness, such as internal/filter.Engine (ready
// only once the kernel handle is open).
type IsReadyReporter interface {
	IsReady() bool
}

// Start is idempotent: if the controller is already running, it returns
// immediately. Otherwise it spawns a helper goroutine that starts the filter
// engine and DNS proxy, returning immediately itself. Both components are
// constructed by the caller before Get; Start does not construct them, so
// anything slow done during construction (such as opening the kernel
// handle) happens on the caller's goroutine.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.doneCh = make(chan struct{})
	c.running.Store(true)

	go c.run(ctx)
}

// run drives both long-lived components until ctx is canceled. The DNS
// proxy has its own context, canceled only once the filter engine's Run has
// returned, so the proxy is always stopped last.
func (c *Controller) run(ctx context.Context) {
	defer close(c.doneCh)
	defer c.running.Store(false)
	defer c.ready.Store(false)

	dnsCtx, dnsCancel := context.WithCancel(context.Background())
	defer dnsCancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer dnsCancel()

		if r, ok := c.filter.(IsReadyReporter); ok {
			go c.pollReady(ctx, r)
		} else {
			c.ready.Store(true)
		}

		if err := c.filter.Run(ctx); err != nil {
			log.Error("controller: filter engine stopped: %s", err)
		}
	}()

	go func() {
		defer wg.Done()

		if err := c.dns.Run(dnsCtx); err != nil {
			log.Error("controller: dns proxy stopped: %s", err)
		}
	}()

	wg.Wait()
}

// pollReady sets the ready flag once r reports readiness, per spec.md
// §4.6's "sets an internal ready flag only once the kernel handle is open".
func (c *Controller) pollReady(ctx context.Context, r IsReadyReporter) {
	ticker := time.NewTicker(readinessPollInterval)
	defer ticker.Stop()

	for {
		if r.IsReady() {
			c.ready.Store(true)

			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop signals the filter engine to stop; the DNS proxy is stopped after the
// filter engine's Run has returned (see run). If wait is true, it blocks
// until the run goroutines exit or timeout elapses, returning whether they
// exited in time.
func (c *Controller) Stop(wait bool, timeout time.Duration) bool {
	c.mu.Lock()
	cancel := c.cancel
	done := c.doneCh
	c.mu.Unlock()

	if cancel == nil {
		return true
	}

	cancel()

	if !wait {
		return true
	}

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// IsRunning reports whether the controller's goroutines are active.
func (c *Controller) IsRunning() bool {
	return c.running.Load()
}

// IsReady reports whether the filter engine has finished opening its
// kernel handle.
func (c *Controller) IsReady() bool {
	return c.ready.Load()
}

// NotifyReload sets the filter's reload event and refreshes the DNS proxy's
// cache, per spec.md §4.6. Safe to call from any goroutine.
func (c *Controller) NotifyReload() {
	for _, sink := range c.sinks {
		sink.NotifyReload()
	}
}
