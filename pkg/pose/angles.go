package pose

import (
	"fmt"
	"math"
	"strings"
)

// GimbalMode selects how MatrixToAngle detects gimbal lock.
type GimbalMode int

const (
	// GimbalTolerance treats |R[2][0]| within Epsilon of 1 as gimbal lock.
	GimbalTolerance GimbalMode = iota

	// GimbalCompat reproduces the historical check `R[2][0] != 1 || R[2][0] != -1`.
	// That condition holds for every value, so the lock branch is never taken.
	GimbalCompat
)

// DefaultEpsilon is the gimbal lock tolerance used by DefaultGimbal.
const DefaultEpsilon = 1e-9

func (m GimbalMode) String() string {
	switch m {
	case GimbalTolerance:
		return "tolerance"
	case GimbalCompat:
		return "compat"
	default:
		return fmt.Sprintf("GimbalMode(%d)", int(m))
	}
}

// ParseGimbalMode parses "tolerance" or "compat". An empty string is tolerance.
func ParseGimbalMode(s string) (GimbalMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tolerance":
		return GimbalTolerance, nil
	case "compat", "legacy":
		return GimbalCompat, nil
	}
	return 0, fmt.Errorf("pose: unknown gimbal mode %q", s)
}

// Gimbal is the gimbal lock policy for rotation to Euler conversion.
type Gimbal struct {
	Mode    GimbalMode
	Epsilon float64
}

// DefaultGimbal returns the tolerance policy with DefaultEpsilon.
func DefaultGimbal() Gimbal {
	return Gimbal{Mode: GimbalTolerance, Epsilon: DefaultEpsilon}
}

// MatrixToAngle converts a rotation matrix to Euler angles using DefaultGimbal.
func MatrixToAngle(r Mat3) (Angles, error) {
	return DefaultGimbal().Angles(r)
}

// Angles converts r to (yaw, pitch, roll) with yaw = asin(R[2][0]).
//
// r is assumed to be a rotation and is not checked beyond its domain: a NaN
// entry, or |R[2][0]| > 1 outside the lock tolerance, returns ErrDomain.
// At gimbal lock roll is fixed to zero.
func (g Gimbal) Angles(r Mat3) (Angles, error) {
	for i := range r {
		for j := range r[i] {
			if math.IsNaN(r[i][j]) {
				return Angles{}, fmt.Errorf("%w: R[%d][%d] is NaN", ErrDomain, i, j)
			}
		}
	}

	r20 := r[2][0]
	if g.locked(r20) {
		return lockedAngles(r), nil
	}
	if math.Abs(r20) > 1 {
		return Angles{}, fmt.Errorf("%w: asin(%g)", ErrDomain, r20)
	}

	x := math.Asin(r20)
	c := math.Cos(x)
	return Angles{
		Yaw:   x,
		Pitch: math.Atan2(r[2][1]/c, r[2][2]/c),
		Roll:  math.Atan2(r[1][0]/c, r[0][0]/c),
	}, nil
}

func (g Gimbal) locked(r20 float64) bool {
	if g.Mode == GimbalCompat {
		return false
	}
	eps := math.Max(g.Epsilon, 0)
	return math.Abs(math.Abs(r20)-1) <= eps
}

func lockedAngles(r Mat3) Angles {
	var a Angles
	if r[2][0] < 0 {
		a.Yaw = math.Pi / 2
		a.Pitch = a.Roll + math.Atan2(r[0][1], r[0][2])
	} else {
		a.Yaw = -math.Pi / 2
		a.Pitch = -a.Roll + math.Atan2(-r[0][1], -r[0][2])
	}
	return a
}

// RotationFromAngles builds the rotation MatrixToAngle inverts away from gimbal
// lock: R = Rz(roll) * Ry(-yaw) * Rx(pitch), so R[2][0] = sin(yaw).
func RotationFromAngles(a Angles) Mat3 {
	sx, cx := math.Sincos(a.Yaw)
	sy, cy := math.Sincos(a.Pitch)
	sz, cz := math.Sincos(a.Roll)
	return Mat3{
		{cz * cx, cz*-sx*sy - sz*cy, cz*-sx*cy + sz*sy},
		{sz * cx, sz*-sx*sy + cz*cy, sz*-sx*cy - cz*sy},
		{sx, cx * sy, cx * cy},
	}
}
