// Package config loads the braccio daemon configuration.
//
// The daemon reads an optional YAML file and then applies BRACCIO_*
// environment overrides. The arm identity itself (name and address) is not
// part of this file; it lives in the arm config store under ConfigDir.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-braccio/internal/log"
)

// Defaults for the daemon.
const (
	DefaultListen         = ":8080"
	DefaultConfigDir      = "config/braccio"
	DefaultLogLevel       = "info"
	DefaultTick           = 20 * time.Millisecond
	DefaultCommandTimeout = 10 * time.Second
	DefaultConnectTimeout = 5 * time.Second
	DefaultWriteTimeout   = time.Second
	DefaultStopTimeout    = 5 * time.Second
	DefaultScanTimeout    = 5 * time.Second
	DefaultScanPrefix     = "ADA"
)

// Config is the daemon configuration.
type Config struct {
	Listen    string `yaml:"listen"`
	ConfigDir string `yaml:"config_dir"`
	LogLevel  string `yaml:"log_level"`

	// Autostart starts the driver at boot when an arm is configured.
	Autostart bool `yaml:"autostart"`

	Driver DriverConfig `yaml:"driver"`
	Scan   ScanConfig   `yaml:"scan"`
}

// DriverConfig tunes the connection driver.
type DriverConfig struct {
	Tick           time.Duration `yaml:"tick"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
}

// ScanConfig tunes BLE discovery.
type ScanConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Prefix  string        `yaml:"prefix"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Listen:    DefaultListen,
		ConfigDir: DefaultConfigDir,
		LogLevel:  DefaultLogLevel,
		Autostart: true,
		Driver: DriverConfig{
			Tick:           DefaultTick,
			CommandTimeout: DefaultCommandTimeout,
			ConnectTimeout: DefaultConnectTimeout,
			WriteTimeout:   DefaultWriteTimeout,
			StopTimeout:    DefaultStopTimeout,
		},
		Scan: ScanConfig{
			Timeout: DefaultScanTimeout,
			Prefix:  DefaultScanPrefix,
		},
	}
}

// Load reads the YAML file at path on top of DefaultConfig and applies
// environment overrides. An empty path or a missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// defaults only
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	ApplyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from BRACCIO_LISTEN, BRACCIO_CONFIG_DIR and
// BRACCIO_LOG_LEVEL when they are set.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("BRACCIO_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("BRACCIO_CONFIG_DIR"); v != "" {
		cfg.ConfigDir = v
	}
	if v := os.Getenv("BRACCIO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.ConfigDir == "" {
		return fmt.Errorf("config_dir is required")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Driver.Tick <= 0 {
		return fmt.Errorf("driver.tick must be positive, got %s", c.Driver.Tick)
	}
	if c.Driver.CommandTimeout <= 0 {
		return fmt.Errorf("driver.command_timeout must be positive, got %s", c.Driver.CommandTimeout)
	}
	if c.Driver.ConnectTimeout <= 0 || c.Driver.WriteTimeout <= 0 {
		return fmt.Errorf("driver connect and write timeouts must be positive")
	}
	if c.Driver.StopTimeout <= 0 {
		return fmt.Errorf("driver.stop_timeout must be positive, got %s", c.Driver.StopTimeout)
	}
	if c.Scan.Timeout <= 0 {
		return fmt.Errorf("scan.timeout must be positive, got %s", c.Scan.Timeout)
	}
	return nil
}
