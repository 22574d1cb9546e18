// Package pose recovers a head pose from the affine camera parameters regressed
// by a 3DDFA-style face alignment model.
//
// The model emits a standardized parameter vector. ParsePose undoes the
// standardization with the training Stats, reshapes the first CameraParams
// values into a 3x4 weak-perspective camera matrix, splits that matrix into
// scale, rotation and translation, and reads yaw, pitch and roll off the
// rotation.
//
// Everything in this package is a pure function of its inputs and is safe to
// call from any number of goroutines.
package pose

import "math"

// CameraParams is the number of leading parameters that form the 3x4 camera matrix.
const CameraParams = 12

// Mat34 is a 3x4 affine camera matrix in row-major order.
type Mat34 [3][4]float64

// Mat3 is a 3x3 rotation matrix in row-major order.
type Mat3 [3][3]float64

// Vec3 is a 3D translation.
type Vec3 [3]float64

// NewMat34 reshapes the first CameraParams values of v into a 3x4 matrix, row by row.
func NewMat34(v []float64) (Mat34, error) {
	var p Mat34
	if len(v) < CameraParams {
		return p, shapeError("camera matrix needs %d values, got %d", CameraParams, len(v))
	}
	for i := 0; i < 3; i++ {
		copy(p[i][:], v[i*4:i*4+4])
	}
	return p, nil
}

// Compose joins a rotation and a translation column into [R | t].
func Compose(r Mat3, t Vec3) Mat34 {
	var p Mat34
	for i := 0; i < 3; i++ {
		copy(p[i][:3], r[i][:])
		p[i][3] = t[i]
	}
	return p
}

// Scaled returns [s*R | t] for the rotation part of p.
func (p Mat34) Scaled(s float64) Mat34 {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			p[i][j] *= s
		}
	}
	return p
}

// Angles holds Euler angles in radians.
// Yaw is rotation about the vertical axis, Pitch about the lateral axis and
// Roll about the forward axis.
type Angles struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// Degrees returns the same angles converted to degrees.
func (a Angles) Degrees() Angles {
	const k = 180 / math.Pi
	return Angles{Yaw: a.Yaw * k, Pitch: a.Pitch * k, Roll: a.Roll * k}
}

// Result is the full output of ParsePose.
type Result struct {
	// Camera is [R | t3d], without the scale.
	Camera Mat34 `json:"camera"`

	// Pose is (yaw, pitch, roll) read off Rotation.
	Pose Angles `json:"pose"`

	// Scale is the mean norm of the first two rows of Affine.
	Scale float64 `json:"scale"`

	Rotation    Mat3 `json:"rotation"`
	Translation Vec3 `json:"translation"`

	// Affine is the denormalized camera matrix the pose was decomposed from.
	Affine Mat34 `json:"affine"`
}
