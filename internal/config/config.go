// Package config loads Pyrewall's YAML settings file, following the same
// file-plus-environment-override convention the teacher uses for its own
// config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"gopkg.in/yaml.v3"
)

// envDBDir is the environment variable that overrides the persistence root
// directory, per spec.md §6.
const envDBDir = "PYREWALL_DB_DIR"

// defaultPackagedDBDir is the fallback persistence root in packaged mode.
const defaultPackagedDBDir = `%LOCALAPPDATA%\Pyrewall\db`

// Config is Pyrewall's runtime configuration.
type Config struct {
	// Verbose enables debug-level logging.
	Verbose bool `yaml:"verbose"`

	// DBDir is the persistence root directory.  Empty means "compute the
	// default" (see DBRoot).
	DBDir string `yaml:"db_dir"`

	// DNSListenAddr is the address the DNS proxy binds to, e.g. "0.0.0.0:53".
	DNSListenAddr string `yaml:"dns_listen_addr"`

	// UpstreamDNS is the upstream resolver the DNS proxy forwards
	// non-blocked queries to.
	UpstreamDNS string `yaml:"upstream_dns"`

	// UpstreamTimeout bounds each forwarded DNS query.
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`

	// ResolverWorkers bounds the resolver's fan-out concurrency.
	ResolverWorkers int `yaml:"resolver_workers"`

	// CaptureFilter overrides the fixed capture expression of spec.md §4.5.
	// It is set only from the config file; there is no command-line flag
	// for it.
	CaptureFilter string `yaml:"capture_filter"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DNSListenAddr:   "0.0.0.0:53",
		UpstreamDNS:     "8.8.8.8:53",
		UpstreamTimeout: 2 * time.Second,
		ResolverWorkers: 4,
		CaptureFilter: "(inbound or outbound) and " +
			"(tcp.DstPort == 80 or tcp.DstPort == 443 or udp.DstPort == 443)",
	}
}

// Load reads the YAML settings file at path, falling back to Default values
// for any field the file doesn't set.  A missing file is not an error: it
// just yields Default().
func Load(path string) (cfg *Config, err error) {
	defer func() { err = errors.Annotate(err, "loading config %q: %w", path) }()

	cfg = Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	} else if err != nil {
		return nil, err
	}

	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	return cfg, nil
}

// DBRoot returns the persistence root directory, honoring the
// PYREWALL_DB_DIR environment variable and then cfg.DBDir before falling
// back to the packaged-mode default.
func (cfg *Config) DBRoot() (dir string) {
	if v := os.Getenv(envDBDir); v != "" {
		return v
	}

	if cfg.DBDir != "" {
		return cfg.DBDir
	}

	return os.ExpandEnv(defaultPackagedDBDir)
}

// InstallMarkerPath returns the path of the ".install_complete" marker file
// inside the persistence root.
func (cfg *Config) InstallMarkerPath() string {
	return filepath.Join(cfg.DBRoot(), ".install_complete")
}
