package pose

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Decompose splits a weak-perspective camera matrix P = [s*R | t] into its
// isotropic scale, rotation and translation.
//
// The scale is the mean of the norms of the first two rows; the two focal
// lengths of the affine camera are assumed to be close. The third rotation
// row is rebuilt as the cross product of the first two unit rows, so row 2
// of p is never read. If the first two rows are parallel the third row is
// zero and the result is not a rotation; that case is returned as is.
func Decompose(p Mat34) (s float64, r Mat3, t Vec3, err error) {
	t = Vec3{p[0][3], p[1][3], p[2][3]}

	row1 := r3.Vec{X: p[0][0], Y: p[0][1], Z: p[0][2]}
	row2 := r3.Vec{X: p[1][0], Y: p[1][1], Z: p[1][2]}

	n1, n2 := r3.Norm(row1), r3.Norm(row2)
	if n1 == 0 || n2 == 0 {
		return 0, r, t, fmt.Errorf("%w: row norms %g and %g", ErrDegenerate, n1, n2)
	}
	s = (n1 + n2) / 2

	u1 := r3.Scale(1/n1, row1)
	u2 := r3.Scale(1/n2, row2)
	u3 := r3.Cross(u1, u2)

	r = Mat3{
		{u1.X, u1.Y, u1.Z},
		{u2.X, u2.Y, u2.Z},
		{u3.X, u3.Y, u3.Z},
	}
	return s, r, t, nil
}
