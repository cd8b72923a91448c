// Package braccio drives a Braccio robotic arm over a byte-oriented link.
//
// Callers use Arm, a blocking facade: each call enqueues one Command and waits
// for the arm to report a terminal Status. A Driver goroutine owns the link,
// drains the queue on a fixed tick and stores status notifications as they
// arrive. Manager wraps the two with config-driven start/stop.
package braccio

import (
	"fmt"

	"github.com/google/uuid"
)

// WristOrientation is the wrist rotation servo position. The value is the
// wire code.
type WristOrientation int

const (
	WristHorizontal WristOrientation = 90
	WristVertical   WristOrientation = 0
)

func (w WristOrientation) String() string {
	switch w {
	case WristHorizontal:
		return "horizontal"
	case WristVertical:
		return "vertical"
	}
	return fmt.Sprintf("wrist(%d)", int(w))
}

// ParseWrist parses "horizontal" or "vertical".
func ParseWrist(s string) (WristOrientation, error) {
	switch s {
	case "horizontal":
		return WristHorizontal, nil
	case "vertical":
		return WristVertical, nil
	}
	return 0, fmt.Errorf("unknown wrist orientation %q", s)
}

// GripperState is the gripper servo position. The value is the wire code.
type GripperState int

const (
	GripperOpen  GripperState = 0
	GripperClose GripperState = 73
)

func (g GripperState) String() string {
	switch g {
	case GripperOpen:
		return "open"
	case GripperClose:
		return "close"
	}
	return fmt.Sprintf("gripper(%d)", int(g))
}

// ParseGripper parses "open" or "close".
func ParseGripper(s string) (GripperState, error) {
	switch s {
	case "open":
		return GripperOpen, nil
	case "close", "closed":
		return GripperClose, nil
	}
	return 0, fmt.Errorf("unknown gripper state %q", s)
}

// Position is a full joint target: four angles in degrees plus the two
// discrete end-effector states.
type Position struct {
	Base     int              `json:"base"`
	Shoulder int              `json:"shoulder"`
	Elbow    int              `json:"elbow"`
	Wrist    int              `json:"wrist"`
	Rotation WristOrientation `json:"wrist_rotation"`
	Gripper  GripperState     `json:"gripper"`
}

// InitialPosition is the last-commanded state of a fresh Arm.
func InitialPosition() Position {
	return Position{Rotation: WristHorizontal, Gripper: GripperClose}
}

// CommandKind identifies a command on the wire by its one-byte tag.
type CommandKind byte

const (
	KindMove     CommandKind = 'P'
	KindHome     CommandKind = 'H'
	KindPowerOn  CommandKind = '1'
	KindPowerOff CommandKind = '0'
)

func (k CommandKind) String() string {
	switch k {
	case KindMove:
		return "move"
	case KindHome:
		return "home"
	case KindPowerOn:
		return "on"
	case KindPowerOff:
		return "off"
	}
	return fmt.Sprintf("kind(%q)", byte(k))
}

// Command is one request for the arm. It is created by the facade and
// consumed exactly once by the driver.
type Command struct {
	ID       string
	Kind     CommandKind
	Position Position // only meaningful for KindMove
}

// Move returns a command that drives every joint to p.
func Move(p Position) Command {
	return Command{ID: uuid.NewString(), Kind: KindMove, Position: p}
}

// Home returns a command that sends the arm to its rest pose.
func Home() Command {
	return Command{ID: uuid.NewString(), Kind: KindHome}
}

// PowerOn returns a command that energizes the servos.
func PowerOn() Command {
	return Command{ID: uuid.NewString(), Kind: KindPowerOn}
}

// PowerOff returns a command that releases the servos.
func PowerOff() Command {
	return Command{ID: uuid.NewString(), Kind: KindPowerOff}
}
