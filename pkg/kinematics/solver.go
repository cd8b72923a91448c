// Package kinematics converts Cartesian targets into Braccio joint angles.
//
// The solver models the arm as a base rotation plus a planar
// shoulder/elbow/wrist chain with fixed link lengths. Compensation terms for
// radial undershoot, backlash and servo mount misalignment are folded in, so
// the numbers it produces are tuned for the physical arm rather than an ideal
// model. Coordinates are millimetres from the base; y must be non-negative.
package kinematics

import (
	"errors"
	"math"

	"github.com/golang/geo/r3"
)

// Link geometry in millimetres.
const (
	ShoulderHeight = 71.5     // l0: shoulder pivot above the base plate
	UpperArm       = 125.0    // l1
	Forearm        = 125.0    // l2
	Hand           = 60 + 132 // l3: wrist to gripper tip
)

// Compensation constants.
const (
	RadialCompensation = 1.02 // radial undershoot, +2%
	BacklashOffset     = 15.0 // mm added to the target height
	MountOffset        = 5.0  // degrees added to elbow and wrist
)

// Mechanical servo range in degrees, inclusive.
const (
	MinAngle = 0
	MaxAngle = 180
)

// ErrOutOfRange is returned when a target cannot be reached.
var ErrOutOfRange = errors.New("kinematics: target out of range")

// Solution holds joint angles in whole degrees and the target that produced
// them. Z is the height after backlash compensation.
type Solution struct {
	Base     int
	Shoulder int
	Elbow    int
	Wrist    int

	X, Y, Z float64
}

// Solve computes joint angles for the target (x, y, z).
// It is pure: identical inputs always give identical outputs.
func Solve(x, y, z float64) (Solution, error) {
	z += BacklashOffset

	if y < 0 || math.IsNaN(x) || math.IsNaN(y) || math.IsNaN(z) {
		return Solution{}, ErrOutOfRange
	}

	r := r3.Vector{X: x, Y: y, Z: z - ShoulderHeight}.Norm() * RadialCompensation

	var base float64
	switch {
	case y == 0 && x <= 0:
		base = 180
	case y == 0:
		base = 0
	default:
		base = 90 - degrees(math.Atan(x/y))
	}

	cosAlpha := (r - Forearm) / (UpperArm + Hand)
	if cosAlpha < -1 || cosAlpha > 1 {
		return Solution{}, ErrOutOfRange
	}
	alpha1 := math.Acos(cosAlpha)

	// level-wrist pose, corrected for the unequal upper arm and hand lengths
	shoulder := degrees(alpha1)
	alpha3 := math.Sin((math.Sin(alpha1)*Hand - math.Sin(alpha1)*UpperArm) / Forearm)
	elbow := (90 - degrees(alpha1)) + degrees(alpha3)
	wrist := (90 - degrees(alpha1)) - degrees(alpha3)

	// The length correction pushes the wrist negative for near and far
	// targets; fall back to the uncorrected pose there.
	if wrist <= 0 {
		shoulder = degrees(alpha1 + math.Sin((Hand-UpperArm)/r))
		elbow = 90 - degrees(alpha1)
		wrist = 90 - degrees(alpha1)
	}

	if z != ShoulderHeight {
		shoulder += degrees(math.Atan((z - ShoulderHeight) / r))
	}

	elbow += MountOffset
	wrist += MountOffset

	s := Solution{X: x, Y: y, Z: z}
	for _, a := range []struct {
		dst *int
		v   float64
	}{
		{&s.Base, base},
		{&s.Shoulder, shoulder},
		{&s.Elbow, elbow},
		{&s.Wrist, wrist},
	} {
		deg, ok := toServo(a.v)
		if !ok {
			return Solution{}, ErrOutOfRange
		}
		*a.dst = deg
	}

	return s, nil
}

// SolveVector is Solve for an r3 vector.
func SolveVector(target r3.Vector) (Solution, error) {
	return Solve(target.X, target.Y, target.Z)
}

// InRange reports whether deg is inside the servo range.
func InRange(deg int) bool {
	return deg >= MinAngle && deg <= MaxAngle
}

// toServo rounds half to even and checks the servo range.
func toServo(v float64) (int, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	deg := int(math.RoundToEven(v))
	return deg, InRange(deg)
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
