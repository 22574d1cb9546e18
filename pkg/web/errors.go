package web

import (
	"fmt"

	"github.com/teslashibe/headpose/pkg/pose"
)

func shapeErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", pose.ErrShapeMismatch, fmt.Sprintf(format, args...))
}
