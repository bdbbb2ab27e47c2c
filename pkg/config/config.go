// Package config provides TOML configuration loading for bambu-bridge.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"bambu-bridge/pkg/logger"
)

// Environment variables that override the config file.
const (
	EnvSourceIface = "SOURCE_IFACE"
	EnvTargetIface = "TARGET_IFACE"
	EnvLogLevel    = "LOG_LEVEL"
)

// Defaults match a printer VLAN 50 bridged to a client VLAN 10.
const (
	DefaultSourceIface  = "lan1.50"
	DefaultTargetIface  = "lan1.10"
	DefaultPollTimeout  = "500ms"
	DefaultBufferSizeMB = 2
)

// Config is the top-level configuration structure.
type Config struct {
	Bridge  BridgeConfig  `toml:"bridge"`
	Capture CaptureConfig `toml:"capture"`
}

// BridgeConfig names the interface pair and the default verbosity.
type BridgeConfig struct {
	SourceIface string `toml:"source_iface"`
	TargetIface string `toml:"target_iface"`
	LogLevel    string `toml:"log_level"`
}

// CaptureConfig tunes the raw capture on the source interface.
type CaptureConfig struct {
	PollTimeout  string `toml:"poll_timeout"`
	BufferSizeMB int    `toml:"buffer_size_mb"`
	KernelFilter *bool  `toml:"kernel_filter"`
}

// ParsePollTimeout parses the capture poll timeout string to a time.Duration.
func (c *CaptureConfig) ParsePollTimeout() (time.Duration, error) {
	if c.PollTimeout == "" {
		return 500 * time.Millisecond, nil
	}
	d, err := time.ParseDuration(c.PollTimeout)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("poll_timeout must be positive, got %s", c.PollTimeout)
	}
	return d, nil
}

// UseKernelFilter reports whether the BPF prefilter should be attached.
func (c *CaptureConfig) UseKernelFilter() bool {
	return c.KernelFilter == nil || *c.KernelFilter
}

// Load reads and parses a TOML config file, applying environment overrides
// and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the resolved configuration.
func (cfg *Config) Validate() error {
	if cfg.Bridge.SourceIface == cfg.Bridge.TargetIface {
		return fmt.Errorf("source_iface and target_iface must differ (both %q)", cfg.Bridge.SourceIface)
	}
	if _, err := cfg.Capture.ParsePollTimeout(); err != nil {
		return fmt.Errorf("parsing poll_timeout: %w", err)
	}
	if cfg.Capture.BufferSizeMB < 1 {
		return fmt.Errorf("buffer_size_mb must be at least 1, got %d", cfg.Capture.BufferSizeMB)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvSourceIface); v != "" {
		cfg.Bridge.SourceIface = v
	}
	if v := os.Getenv(EnvTargetIface); v != "" {
		cfg.Bridge.TargetIface = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Bridge.LogLevel = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Bridge.SourceIface == "" {
		cfg.Bridge.SourceIface = DefaultSourceIface
	}
	if cfg.Bridge.TargetIface == "" {
		cfg.Bridge.TargetIface = DefaultTargetIface
	}
	if cfg.Bridge.LogLevel == "" {
		cfg.Bridge.LogLevel = logger.Normal.String()
	}
	if cfg.Capture.PollTimeout == "" {
		cfg.Capture.PollTimeout = DefaultPollTimeout
	}
	if cfg.Capture.BufferSizeMB == 0 {
		cfg.Capture.BufferSizeMB = DefaultBufferSizeMB
	}
}

// ResolveVerbosity picks the output level. Command-line flags take
// precedence over the configured log level; unknown levels mean normal.
func ResolveVerbosity(quiet, verbose bool, logLevel string) logger.Verbosity {
	switch {
	case quiet:
		return logger.Quiet
	case verbose:
		return logger.Verbose
	}
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "quiet":
		return logger.Quiet
	case "verbose", "debug":
		return logger.Verbose
	default:
		return logger.Normal
	}
}
