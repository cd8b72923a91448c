package braccio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-braccio/pkg/armconfig"
)

// Driver defaults.
const (
	DefaultTick           = 20 * time.Millisecond
	DefaultConnectTimeout = 5 * time.Second
	DefaultWriteTimeout   = time.Second
	DefaultStopTimeout    = 5 * time.Second
)

// DriverConfig tunes the driver loop.
type DriverConfig struct {
	// Tick is the loop period and the reconnect cadence.
	Tick time.Duration

	// ConnectTimeout bounds how long the loop waits on Transport.Connect.
	// The bound holds even for transports that ignore their context.
	ConnectTimeout time.Duration

	// WriteTimeout bounds how long the loop waits on a single chunk write.
	WriteTimeout time.Duration

	// StopTimeout bounds how long Stop waits for the loop to exit.
	StopTimeout time.Duration

	// ChunkSize is the largest write; 0 means MaxChunkSize.
	ChunkSize int
}

// DefaultDriverConfig returns a DriverConfig with sensible defaults.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Tick:           DefaultTick,
		ConnectTimeout: DefaultConnectTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		StopTimeout:    DefaultStopTimeout,
		ChunkSize:      MaxChunkSize,
	}
}

func (c DriverConfig) withDefaults() DriverConfig {
	def := DefaultDriverConfig()
	if c.Tick <= 0 {
		c.Tick = def.Tick
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = def.StopTimeout
	}
	if c.ChunkSize <= 0 || c.ChunkSize > MaxChunkSize {
		c.ChunkSize = def.ChunkSize
	}
	return c
}

// State is the driver's link state.
type State int32

const (
	StateStopped State = iota
	StateDisconnected
	StateConnecting
	StateIdle
	StateSending
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateStopped; st <= StateStopping; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown driver state %q", b)
}

var errStopping = errors.New("driver stopping")

// Driver owns the link to one arm. After Start, a single goroutine connects,
// reconnects, and drains the command queue once per tick. Other goroutines
// interact with it only through Enqueue and the status slot.
type Driver struct {
	cfg       armconfig.ArmConfig
	dcfg      DriverConfig
	transport Transport
	logger    *slog.Logger

	queue *Queue
	slot  *statusSlot

	state     atomic.Int32
	connected atomic.Bool
	running   atomic.Bool
	started   atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// inflight is a Connect that outlived its timeout. Only the loop
	// goroutine touches it.
	inflight chan error

	// Stats
	connectAttempts atomic.Int64
	connections     atomic.Int64
	commandsSent    atomic.Int64
	chunksWritten   atomic.Int64
	writeErrors     atomic.Int64
	notifications   atomic.Int64
	protocolErrors  atomic.Int64
}

// NewDriver creates a driver for cfg over transport. Call Start to run it.
func NewDriver(cfg armconfig.ArmConfig, transport Transport, dcfg DriverConfig, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{
		cfg:       cfg,
		dcfg:      dcfg.withDefaults(),
		transport: transport,
		logger:    logger.With("arm", cfg.Name, "address", cfg.Address),
		queue:     NewQueue(),
		slot:      newStatusSlot(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the driver goroutine. A driver runs at most once.
func (d *Driver) Start() error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrDriverRunning
	}
	d.running.Store(true)
	d.setState(StateDisconnected)

	go d.run()
	return nil
}

// Stop asks the loop to exit and waits up to StopTimeout for it. A chunk
// write already in progress completes; no further command is dequeued.
func (d *Driver) Stop() error {
	if !d.started.Load() {
		return nil
	}
	d.stopOnce.Do(func() { close(d.stop) })

	select {
	case <-d.done:
		return nil
	case <-time.After(d.dcfg.StopTimeout):
		return fmt.Errorf("driver for %s did not stop within %s", d.cfg.Name, d.dcfg.StopTimeout)
	}
}

// Done is closed when the loop has exited.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// Config returns the arm config the driver was built with.
func (d *Driver) Config() armconfig.ArmConfig {
	return d.cfg
}

// Tick returns the loop period.
func (d *Driver) Tick() time.Duration {
	return d.dcfg.Tick
}

// State returns the current link state.
func (d *Driver) State() State {
	return State(d.state.Load())
}

// Connected reports whether the link is up.
func (d *Driver) Connected() bool {
	return d.connected.Load()
}

// Running reports whether the loop is alive.
func (d *Driver) Running() bool {
	return d.running.Load()
}

// Enqueue queues cmd for dispatch.
func (d *Driver) Enqueue(cmd Command) {
	d.queue.Enqueue(cmd)
}

// Pending returns the number of queued commands.
func (d *Driver) Pending() int {
	return d.queue.Len()
}

// Status returns the current status slot value.
func (d *Driver) Status() Status {
	st, _ := d.slot.Load()
	return st
}

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
}

func (d *Driver) stopping() bool {
	select {
	case <-d.stop:
		return true
	default:
		return false
	}
}

// sleep waits one tick. It returns false if a stop was requested.
func (d *Driver) sleep() bool {
	t := time.NewTimer(d.dcfg.Tick)
	defer t.Stop()

	select {
	case <-d.stop:
		return false
	case <-t.C:
		return true
	}
}

func (d *Driver) run() {
	defer func() {
		d.connected.Store(false)
		d.running.Store(false)
		d.setState(StateStopped)
		d.abandonConnect()
		close(d.done)
		d.logger.Info("driver stopped")
	}()

	d.logger.Info("driver started", "tick", d.dcfg.Tick)

	for !d.stopping() {
		d.setState(StateConnecting)
		if err := d.connect(); err != nil {
			if errors.Is(err, errStopping) {
				return
			}
			// devices advertise intermittently; just try again next tick
			d.logger.Debug("connect failed", "error", err)
			d.setState(StateDisconnected)
			if !d.sleep() {
				return
			}
			continue
		}

		d.connected.Store(true)
		d.connections.Add(1)
		d.setState(StateIdle)
		d.logger.Info("arm connected")

		if stopped := d.serve(); stopped {
			d.setState(StateStopping)
			d.disconnect()
			return
		}

		d.connected.Store(false)
		d.setState(StateDisconnected)
		d.logger.Warn("arm link lost, reconnecting")
		d.disconnect()

		if !d.sleep() {
			return
		}
	}
}

// connect runs Transport.Connect on its own goroutine and waits at most
// ConnectTimeout for it. A connect that is still running when the wait gives
// up is picked up again by the next attempt instead of starting another one.
func (d *Driver) connect() error {
	d.connectAttempts.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), d.dcfg.ConnectTimeout)
	defer cancel()

	attempt := d.inflight
	d.inflight = nil
	if attempt == nil {
		attempt = make(chan error, 1)
		go func() { attempt <- d.transport.Connect(ctx, d.handleNotification) }()
	}

	select {
	case err := <-attempt:
		if err != nil {
			return fmt.Errorf("connect %s: %w", d.cfg.Address, err)
		}
		return nil
	case <-ctx.Done():
		d.inflight = attempt
		return fmt.Errorf("connect %s: %w", d.cfg.Address, ctx.Err())
	case <-d.stop:
		d.inflight = attempt
		return errStopping
	}
}

// abandonConnect tears down a connect that completes after the loop exited.
func (d *Driver) abandonConnect() {
	attempt := d.inflight
	if attempt == nil {
		return
	}
	d.inflight = nil

	go func() {
		if err := <-attempt; err == nil {
			d.disconnect()
		}
	}()
}

// write sends one chunk and waits at most WriteTimeout for it.
func (d *Driver) write(chunk []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.dcfg.WriteTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- d.transport.Write(ctx, chunk) }()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) disconnect() {
	if err := d.transport.Disconnect(); err != nil {
		d.logger.Debug("disconnect failed", "error", err)
	}
}

// serve runs the connected part of the loop until the link drops or a stop
// is requested. It reports whether it exited because of a stop.
func (d *Driver) serve() (stopped bool) {
	for d.transport.Connected() {
		if d.stopping() {
			return true
		}

		if cmd, ok := d.queue.TryDequeue(); ok {
			if err := d.dispatch(cmd); err != nil {
				if errors.Is(err, errStopping) {
					return true
				}
				d.writeErrors.Add(1)
				d.logger.Warn("command write failed", "command", cmd.ID, "kind", cmd.Kind, "error", err)
				return false
			}
		}

		if !d.sleep() {
			return true
		}
	}
	return false
}

// dispatch marks cmd as executing and writes its frame chunk by chunk.
func (d *Driver) dispatch(cmd Command) error {
	d.slot.Begin(cmd.ID)
	d.setState(StateSending)
	defer d.setState(StateIdle)

	frame := Encode(cmd)
	d.logger.Debug("dispatching command", "command", cmd.ID, "kind", cmd.Kind, "frame", string(frame))

	for i, chunk := range Chunk(frame, d.dcfg.ChunkSize) {
		if i > 0 && d.stopping() {
			return errStopping
		}

		if err := d.write(chunk); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		d.chunksWritten.Add(1)
	}

	d.commandsSent.Add(1)
	return nil
}

// handleNotification stores every decodable status as it arrives.
func (d *Driver) handleNotification(data []byte) {
	d.notifications.Add(1)

	st, err := DecodeStatus(data)
	if err != nil {
		d.protocolErrors.Add(1)
		d.logger.Warn("bad status notification", "error", err)
		return
	}

	d.slot.Store(st)
	d.logger.Debug("status notification", "status", st)
}

// Stats returns driver statistics.
func (d *Driver) Stats() DriverStats {
	return DriverStats{
		State:           d.State(),
		Connected:       d.Connected(),
		Pending:         d.queue.Len(),
		ConnectAttempts: d.connectAttempts.Load(),
		Connections:     d.connections.Load(),
		CommandsSent:    d.commandsSent.Load(),
		ChunksWritten:   d.chunksWritten.Load(),
		WriteErrors:     d.writeErrors.Load(),
		Notifications:   d.notifications.Load(),
		ProtocolErrors:  d.protocolErrors.Load(),
	}
}

// DriverStats contains driver statistics.
type DriverStats struct {
	State           State `json:"state"`
	Connected       bool  `json:"connected"`
	Pending         int   `json:"pending"`
	ConnectAttempts int64 `json:"connect_attempts"`
	Connections     int64 `json:"connections"`
	CommandsSent    int64 `json:"commands_sent"`
	ChunksWritten   int64 `json:"chunks_written"`
	WriteErrors     int64 `json:"write_errors"`
	Notifications   int64 `json:"notifications"`
	ProtocolErrors  int64 `json:"protocol_errors"`
}
