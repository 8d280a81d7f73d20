package main

import (
	"flag"
	"fmt"
	"os"
)

// options are Pyrewall's command-line flags, a deliberately small,
// hand-rolled set in the teacher's internal/home/options.go style rather
// than a heavier flag library, per spec.md §6.
type options struct {
	configFile  string
	workDir     string
	verbose     bool
	checkConfig bool
	consumeMark bool
	serviceCtl  string
}

func loadOptions() options {
	var o options

	flag.StringVar(&o.configFile, "config", "", "Path to the YAML config file.")
	flag.StringVar(&o.configFile, "c", "", "Shorthand for -config.")
	flag.StringVar(&o.workDir, "work-dir", "", "Path to the working directory (overrides config db_dir; PYREWALL_DB_DIR, if set, still takes precedence).")
	flag.BoolVar(&o.verbose, "verbose", false, "Enable debug-level logging.")
	flag.BoolVar(&o.verbose, "v", false, "Shorthand for -verbose.")
	flag.BoolVar(&o.checkConfig, "check-config", false, "Validate the config file and exit.")
	flag.BoolVar(&o.consumeMark, "consume-install-marker", false, "Remove the install-complete marker and exit, forcing re-bootstrap on next start.")
	flag.StringVar(&o.serviceCtl, "service", "", "Service control action: install, uninstall, start, stop, status.")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Pyrewall: a host-based next-generation firewall.\n\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	return o
}
