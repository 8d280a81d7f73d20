// Command pyrewall is Pyrewall's process entry point: it loads
// configuration, bootstraps persistence, and wires the resolver, blocklist
// syncer, DNS proxy, packet-capture handle, and filter engine through
// internal/controller, following the teacher's internal/home.Main bootstrap
// shape (signal handling, first-run detection, then run).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdguardTeam/golibs/log"

	"github.com/Sachibara/Pyrewall/internal/blocklist"
	"github.com/Sachibara/Pyrewall/internal/capture"
	"github.com/Sachibara/Pyrewall/internal/config"
	"github.com/Sachibara/Pyrewall/internal/controller"
	"github.com/Sachibara/Pyrewall/internal/devicescan"
	"github.com/Sachibara/Pyrewall/internal/dnsproxy"
	"github.com/Sachibara/Pyrewall/internal/filter"
	"github.com/Sachibara/Pyrewall/internal/history"
	"github.com/Sachibara/Pyrewall/internal/netutil"
	"github.com/Sachibara/Pyrewall/internal/resolver"
	"github.com/Sachibara/Pyrewall/internal/storage"
)

// deviceScanInterval is how often the live-device overview is refreshed.
const deviceScanInterval = 30 * time.Second

func main() {
	opts := loadOptions()
	if opts.verbose {
		log.SetLevel(log.DEBUG)
	}

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.Verbose {
		log.SetLevel(log.DEBUG)
	}

	if opts.workDir != "" {
		cfg.DBDir = opts.workDir
	}

	if opts.checkConfig {
		log.Info("pyrewall: configuration file is OK")

		return
	}

	if opts.consumeMark {
		if err = storage.ConsumeInstallMarker(cfg.DBRoot()); err != nil {
			log.Fatal(err)
		}

		return
	}

	if opts.serviceCtl != "" {
		log.Info("pyrewall: service control is handled by the installer, not this binary")

		return
	}

	run(cfg)
}

func run(cfg *config.Config) {
	root := cfg.DBRoot()

	st, err := storage.Bootstrap(context.Background(), root, time.Now)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	critical := storage.NewCriticalSet(netutil.CriticalSet(nil))

	res := resolver.New(cfg.ResolverWorkers, cfg.UpstreamTimeout*2)

	captureFilter := cfg.CaptureFilter
	if captureFilter == "" {
		captureFilter = capture.Filter
	}

	handle, err := capture.Open(captureFilter)
	if err != nil {
		log.Fatal(err)
	}
	// filter.Engine.Run closes handle itself once its context is
	// canceled, to unblock the kernel Recv call; this defer only covers
	// the case where Run never gets a chance to (an error before
	// ctrl.Start, or a panic). Handle.Close is idempotent.
	defer handle.Close()

	fe := filter.New(handle, st.Firewall, st.Logs, nil)

	syncer := blocklist.New(st.Firewall, critical, res.Resolve, fe)
	fe.SetSyncer(syncer)

	proxy := &dnsproxy.Proxy{
		ListenAddr: cfg.DNSListenAddr,
		Upstream:   cfg.UpstreamDNS,
		Domains:    st.Firewall,
	}

	ctrl := controller.Get(fe, controller.RunnerFunc(proxy.Serve), fe, controller.NewDNSReloadSink(proxy.RefreshFromDB))
	ctrl.Start()

	scanner := devicescan.New()

	if err = devicescan.ReapplyBlocks(context.Background(), st.Firewall); err != nil {
		log.Error("pyrewall: reapplying device blocks: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	archiver := history.New(st.History)
	go func() {
		if rerr := archiver.Run(ctx); rerr != nil {
			log.Error("pyrewall: history archiver: %s", rerr)
		}
	}()

	go runDeviceScanLoop(ctx, scanner, st.Firewall)

	if err = syncer.SyncBlockedIPs(context.Background()); err != nil {
		log.Error("pyrewall: initial blocklist sync: %s", err)
	}

	waitForShutdownSignal()

	cancel()
	ctrl.Stop(true, 5*time.Second)
}

// runDeviceScanLoop periodically refreshes the live-device overview, per
// SPEC_FULL.md §4.7.
func runDeviceScanLoop(ctx context.Context, scanner *devicescan.Scanner, firewall *storage.FirewallStore) {
	ticker := time.NewTicker(deviceScanInterval)
	defer ticker.Stop()

	for {
		if err := scanner.SyncToStore(ctx, firewall); err != nil {
			log.Error("pyrewall: device scan: %s", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func waitForShutdownSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Info("pyrewall: received signal %s, shutting down", sig)
}
