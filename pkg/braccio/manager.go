package braccio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"github.com/teslashibe/go-braccio/pkg/armconfig"
)

// TransportFactory builds the link for an arm config.
type TransportFactory func(cfg armconfig.ArmConfig) (Transport, error)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Driver         DriverConfig
	CommandTimeout time.Duration
	Logger         *slog.Logger
}

// Manager owns the persisted arm config and the driver built from it.
// At most one driver exists at a time.
type Manager struct {
	store   *armconfig.Store
	factory TransportFactory
	opts    ManagerOptions
	logger  *slog.Logger

	mu     sync.RWMutex
	cfg    *armconfig.ArmConfig
	driver *Driver
	arm    *Arm
}

// NewManager loads any saved config from store. An unreadable config is
// logged and treated as absent so it can be replaced through SaveConfig.
func NewManager(store *armconfig.Store, factory TransportFactory, opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Manager{
		store:   store,
		factory: factory,
		opts:    opts,
		logger:  opts.Logger,
	}

	cfg, err := store.Load()
	switch {
	case err == nil:
		m.cfg = &cfg
	case errors.Is(err, armconfig.ErrNotConfigured):
	default:
		m.logger.Warn("ignoring arm config", "path", store.Path(), "error", err)
	}
	return m
}

// Configured reports whether an arm config is loaded.
func (m *Manager) Configured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg != nil
}

// Config returns the loaded arm config.
func (m *Manager) Config() (armconfig.ArmConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.cfg == nil {
		return armconfig.ArmConfig{}, false
	}
	return *m.cfg, true
}

// Running reports whether a driver loop is alive.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.driver != nil && m.driver.Running()
}

// Connected reports whether the driver has a live link.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.driver != nil && m.driver.Connected()
}

// Arm returns the facade of the current driver, or nil when none is running.
func (m *Manager) Arm() *Arm {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.arm
}

// Start builds a driver for the loaded config and starts it, replacing any
// running driver.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked()
}

func (m *Manager) startLocked() error {
	if err := m.stopLocked(); err != nil {
		return err
	}
	if m.cfg == nil {
		return ErrNotConfigured
	}
	cfg := *m.cfg

	t, err := m.factory(cfg)
	if err != nil {
		return fmt.Errorf("create %s transport: %w", cfg.Kind(), err)
	}

	d := NewDriver(cfg, t, m.opts.Driver, m.logger)
	if err := d.Start(); err != nil {
		return err
	}

	m.driver = d
	m.arm = NewArm(d, m.opts.CommandTimeout, m.logger)
	m.logger.Info("arm started", "name", cfg.Name, "address", cfg.Address, "transport", cfg.Kind())
	return nil
}

// Stop stops the running driver, if any.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked()
}

func (m *Manager) stopLocked() error {
	if m.driver == nil {
		return nil
	}
	d := m.driver
	m.driver = nil
	m.arm = nil

	if err := d.Stop(); err != nil {
		return fmt.Errorf("stop driver: %w", err)
	}
	m.logger.Info("arm stopped", "name", d.Config().Name)
	return nil
}

// SaveConfig persists cfg and makes it current. A running driver is
// restarted against the new config.
func (m *Manager) SaveConfig(cfg armconfig.ArmConfig) error {
	if err := m.store.Save(cfg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg = &cfg
	if m.driver != nil {
		return m.startLocked()
	}
	return nil
}

// ResetConfig stops the driver and deletes the saved config.
func (m *Manager) ResetConfig() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.stopLocked(); err != nil {
		return err
	}
	if err := m.store.Reset(); err != nil {
		return err
	}
	m.cfg = nil
	return nil
}

// Move delegates to the current Arm.
func (m *Manager) Move(ctx context.Context, x, y, z float64, timeout time.Duration) Result {
	a := m.Arm()
	if a == nil {
		return Result{Status: StatusNotConfigured}
	}
	return a.Move(ctx, x, y, z, timeout)
}

// Wrist delegates to the current Arm.
func (m *Manager) Wrist(ctx context.Context, o WristOrientation) Result {
	a := m.Arm()
	if a == nil {
		return Result{Status: StatusNotConfigured}
	}
	return a.Wrist(ctx, o)
}

// Gripper delegates to the current Arm.
func (m *Manager) Gripper(ctx context.Context, g GripperState) Result {
	a := m.Arm()
	if a == nil {
		return Result{Status: StatusNotConfigured}
	}
	return a.Gripper(ctx, g)
}

// Home delegates to the current Arm.
func (m *Manager) Home(ctx context.Context) Result {
	a := m.Arm()
	if a == nil {
		return Result{Status: StatusNotConfigured}
	}
	return a.Home(ctx)
}

// On delegates to the current Arm.
func (m *Manager) On(ctx context.Context) Result {
	a := m.Arm()
	if a == nil {
		return Result{Status: StatusNotConfigured}
	}
	return a.On(ctx)
}

// Off delegates to the current Arm.
func (m *Manager) Off(ctx context.Context) Result {
	a := m.Arm()
	if a == nil {
		return Result{Status: StatusNotConfigured}
	}
	return a.Off(ctx)
}

// Snapshot is a point-in-time view of the manager for status displays.
type Snapshot struct {
	Configured bool                 `json:"configured"`
	Config     *armconfig.ArmConfig `json:"config,omitempty"`
	Running    bool                 `json:"running"`
	Connected  bool                 `json:"connected"`
	Status     Status               `json:"status"`
	Position   *Position            `json:"position,omitempty"`
	Target     *Target              `json:"target,omitempty"`
	Driver     *DriverStats         `json:"driver,omitempty"`
}

// Target is a Cartesian target in millimetres.
type Target struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func targetOf(v r3.Vector) *Target {
	return &Target{X: v.X, Y: v.Y, Z: v.Z}
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{Configured: m.cfg != nil}
	if m.cfg != nil {
		cfg := *m.cfg
		s.Config = &cfg
	}
	if m.driver != nil {
		stats := m.driver.Stats()
		s.Running = m.driver.Running()
		s.Connected = stats.Connected
		s.Status = m.driver.Status()
		s.Driver = &stats
	}
	if m.arm != nil {
		pos := m.arm.Position()
		s.Position = &pos
		s.Target = targetOf(m.arm.Target())
	}
	return s
}
