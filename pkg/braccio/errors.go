package braccio

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-braccio/pkg/kinematics"
)

// Sentinel errors for common error conditions.
var (
	// ErrOutOfRange is returned for targets the arm cannot reach.
	ErrOutOfRange = kinematics.ErrOutOfRange

	// ErrTimeout is returned when no terminal status arrived in time.
	ErrTimeout = errors.New("braccio: timed out waiting for the arm")

	// ErrNotConfigured is returned when no arm has been configured.
	ErrNotConfigured = errors.New("braccio: arm not configured")

	// ErrNotConnected is returned when the link is not established.
	ErrNotConnected = errors.New("braccio: arm not connected")

	// ErrUnknownStatus is returned for status codes the protocol does not define.
	ErrUnknownStatus = errors.New("braccio: unknown status code")

	// ErrDriverRunning is returned when starting a driver twice.
	ErrDriverRunning = errors.New("braccio: driver already running")
)

// DeviceError is a fault reported by the arm itself.
type DeviceError struct {
	Status Status
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("braccio: device error %s (code %s)", e.Status, e.Status.Code())
}

// ProtocolError wraps a malformed message received from the arm.
type ProtocolError struct {
	Raw []byte
	Err error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("braccio: protocol error on %q: %v", e.Raw, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}
