package pose

import (
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch is returned when a vector is too short or its length
	// does not match the normalization statistics.
	ErrShapeMismatch = errors.New("pose: shape mismatch")

	// ErrDegenerate is returned when a camera matrix row has zero norm.
	ErrDegenerate = errors.New("pose: degenerate camera matrix")

	// ErrDomain is returned when a rotation entry is outside the domain of asin or is NaN.
	ErrDomain = errors.New("pose: value out of domain")
)

func shapeError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrShapeMismatch, fmt.Sprintf(format, args...))
}
