package braccio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"github.com/teslashibe/go-braccio/pkg/kinematics"
)

// DefaultCommandTimeout is how long a call waits for a terminal status.
const DefaultCommandTimeout = 10 * time.Second

// Result is the outcome of one Arm call.
type Result struct {
	OK      bool          `json:"ok"`
	Status  Status        `json:"status"`
	Elapsed time.Duration `json:"elapsed"`
}

// Err maps the result onto the package's error values. It returns nil for
// a successful call.
func (r Result) Err() error {
	switch r.Status {
	case StatusOK:
		return nil
	case StatusOutOfRange:
		return ErrOutOfRange
	case StatusTimeout:
		return ErrTimeout
	case StatusNotConfigured:
		return ErrNotConfigured
	case StatusNotConnected:
		return ErrNotConnected
	case StatusError1, StatusError2:
		return &DeviceError{Status: r.Status}
	}
	return fmt.Errorf("%w: %s", ErrUnknownStatus, r.Status)
}

// Arm is the blocking command API for one arm. Calls are serialized: a
// call returns only after the arm reports a terminal status or the call
// times out, and the next call waits for it.
type Arm struct {
	driver  *Driver
	timeout time.Duration
	logger  *slog.Logger

	call sync.Mutex

	mu     sync.RWMutex
	pos    Position
	target r3.Vector
}

// NewArm returns a facade over d. A timeout <= 0 selects
// DefaultCommandTimeout.
func NewArm(d *Driver, timeout time.Duration, logger *slog.Logger) *Arm {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Arm{
		driver:  d,
		timeout: timeout,
		logger:  logger.With("arm", d.Config().Name),
		pos:     InitialPosition(),
	}
}

// Position returns the last commanded joint position.
func (a *Arm) Position() Position {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pos
}

// Target returns the last requested Cartesian target.
func (a *Arm) Target() r3.Vector {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.target
}

// IsConnected reports whether the driver has a live link.
func (a *Arm) IsConnected() bool {
	return a.driver.Connected()
}

// IsRunning reports whether the driver loop is alive.
func (a *Arm) IsRunning() bool {
	return a.driver.Running()
}

// Move solves (x, y, z) and drives the arm there, keeping the current
// wrist rotation and gripper state. Unreachable targets fail with
// StatusOutOfRange without touching the link.
func (a *Arm) Move(ctx context.Context, x, y, z float64, timeout time.Duration) Result {
	a.call.Lock()
	defer a.call.Unlock()

	return a.moveTo(ctx, r3.Vector{X: x, Y: y, Z: z}, timeout)
}

// X moves along x, keeping the other two axes of the last target.
func (a *Arm) X(ctx context.Context, v float64) Result {
	a.call.Lock()
	defer a.call.Unlock()

	t := a.Target()
	t.X = v
	return a.moveTo(ctx, t, 0)
}

// Y moves along y, keeping the other two axes of the last target.
func (a *Arm) Y(ctx context.Context, v float64) Result {
	a.call.Lock()
	defer a.call.Unlock()

	t := a.Target()
	t.Y = v
	return a.moveTo(ctx, t, 0)
}

// Z moves along z, keeping the other two axes of the last target.
func (a *Arm) Z(ctx context.Context, v float64) Result {
	a.call.Lock()
	defer a.call.Unlock()

	t := a.Target()
	t.Z = v
	return a.moveTo(ctx, t, 0)
}

func (a *Arm) moveTo(ctx context.Context, target r3.Vector, timeout time.Duration) Result {
	sol, err := kinematics.SolveVector(target)
	if err != nil {
		a.logger.Debug("target out of range", "x", target.X, "y", target.Y, "z", target.Z)
		return Result{Status: StatusOutOfRange}
	}
	if !a.driver.Connected() {
		return Result{Status: StatusNotConnected}
	}

	a.mu.Lock()
	a.pos.Base = sol.Base
	a.pos.Shoulder = sol.Shoulder
	a.pos.Elbow = sol.Elbow
	a.pos.Wrist = sol.Wrist
	a.target = target
	pos := a.pos
	a.mu.Unlock()

	return a.send(ctx, Move(pos), timeout)
}

// Wrist sets the wrist rotation and resends the current position.
func (a *Arm) Wrist(ctx context.Context, o WristOrientation) Result {
	a.call.Lock()
	defer a.call.Unlock()

	if !a.driver.Connected() {
		return Result{Status: StatusNotConnected}
	}

	a.mu.Lock()
	a.pos.Rotation = o
	pos := a.pos
	a.mu.Unlock()

	return a.send(ctx, Move(pos), 0)
}

// Gripper sets the gripper state and resends the current position.
func (a *Arm) Gripper(ctx context.Context, g GripperState) Result {
	a.call.Lock()
	defer a.call.Unlock()

	if !a.driver.Connected() {
		return Result{Status: StatusNotConnected}
	}

	a.mu.Lock()
	a.pos.Gripper = g
	pos := a.pos
	a.mu.Unlock()

	return a.send(ctx, Move(pos), 0)
}

// Home sends the arm to its rest pose.
func (a *Arm) Home(ctx context.Context) Result {
	a.call.Lock()
	defer a.call.Unlock()
	return a.send(ctx, Home(), 0)
}

// On energizes the servos.
func (a *Arm) On(ctx context.Context) Result {
	a.call.Lock()
	defer a.call.Unlock()
	return a.send(ctx, PowerOn(), 0)
}

// Off releases the servos.
func (a *Arm) Off(ctx context.Context) Result {
	a.call.Lock()
	defer a.call.Unlock()
	return a.send(ctx, PowerOff(), 0)
}

// send enqueues cmd and blocks until the driver has dispatched it and the
// status slot holds a terminal status for it, or until the timeout elapses
// or ctx is done. Callers hold a.call.
func (a *Arm) send(ctx context.Context, cmd Command, timeout time.Duration) Result {
	if !a.driver.Connected() {
		return Result{Status: StatusNotConnected}
	}
	if timeout <= 0 {
		timeout = a.timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slot := a.driver.slot
	slot.Clear()

	start := time.Now()
	a.driver.Enqueue(cmd)

	for {
		// statuses that arrive before cmd is dispatched are replies to an
		// earlier command and read as StatusNone here
		st, changed := slot.LoadFor(cmd.ID)
		if st.Terminal() {
			slot.Clear()
			res := Result{OK: st == StatusOK, Status: st, Elapsed: time.Since(start)}
			a.logger.Debug("command resolved", "command", cmd.ID, "kind", cmd.Kind, "status", st, "elapsed", res.Elapsed)
			return res
		}

		select {
		case <-changed:
		case <-ctx.Done():
			// a command that never left the queue must not run later
			unsent := a.driver.queue.Remove(cmd.ID)
			slot.Clear()
			res := Result{Status: StatusTimeout, Elapsed: time.Since(start)}
			a.logger.Warn("command timed out", "command", cmd.ID, "kind", cmd.Kind, "unsent", unsent, "elapsed", res.Elapsed)
			return res
		}
	}
}
