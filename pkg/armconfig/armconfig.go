// Package armconfig persists the identity of the configured arm.
//
// The arm config is a small JSON document stored as config.json inside a
// directory owned by the daemon. A missing file means "not configured".
package armconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileName is the name of the config file inside the store directory.
const FileName = "config.json"

// Transport kinds.
const (
	TransportBLE    = "ble"
	TransportSerial = "serial"
)

// DefaultBaudRate is used for serial links when none is configured.
const DefaultBaudRate = 115200

// ErrNotConfigured is returned by Load when no config has been saved.
var ErrNotConfigured = errors.New("armconfig: arm not configured")

// ArmConfig identifies the arm to connect to.
// A value is never mutated after it is loaded; reconfiguring replaces it.
type ArmConfig struct {
	Name    string `json:"name"`
	Address string `json:"address"`

	// Transport is "ble" (default) or "serial".
	Transport string `json:"transport,omitempty"`

	// BaudRate applies to serial links only.
	BaudRate int `json:"baud_rate,omitempty"`
}

// Kind returns the transport kind with the default applied.
func (c ArmConfig) Kind() string {
	if c.Transport == "" {
		return TransportBLE
	}
	return strings.ToLower(c.Transport)
}

// Baud returns the serial baud rate with the default applied.
func (c ArmConfig) Baud() int {
	if c.BaudRate <= 0 {
		return DefaultBaudRate
	}
	return c.BaudRate
}

// Validate checks that the config names a reachable peer.
func (c ArmConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(c.Address) == "" {
		return fmt.Errorf("address is required")
	}
	switch c.Kind() {
	case TransportBLE, TransportSerial:
	default:
		return fmt.Errorf("transport must be %q or %q, got %q", TransportBLE, TransportSerial, c.Transport)
	}
	if c.BaudRate < 0 {
		return fmt.Errorf("baud_rate must not be negative")
	}
	return nil
}

// Store loads and saves the arm config under a directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a store rooted at dir. The directory is created lazily on
// the first Save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the full path of the config file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Load reads the saved config. It returns ErrNotConfigured when no file exists.
func (s *Store) Load() (ArmConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return ArmConfig{}, ErrNotConfigured
	}
	if err != nil {
		return ArmConfig{}, fmt.Errorf("read arm config: %w", err)
	}

	var cfg ArmConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ArmConfig{}, fmt.Errorf("parse arm config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return ArmConfig{}, fmt.Errorf("invalid arm config: %w", err)
	}
	return cfg, nil
}

// Save validates and writes cfg, replacing any previous config.
func (s *Store) Save(cfg ArmConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid arm config: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode arm config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	// write-then-rename so a crash never leaves a half-written file
	tmp := s.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write arm config: %w", err)
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write arm config: %w", err)
	}
	return nil
}

// Reset deletes the saved config. Resetting an unconfigured store is a no-op.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove arm config: %w", err)
	}
	return nil
}
