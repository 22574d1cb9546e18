package pose

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Stats holds the per-dimension mean and standard deviation the parameter
// vector was standardized with at training time.
//
// A Stats is immutable once built; NewStats copies its inputs and the
// accessors return copies.
type Stats struct {
	mean []float64
	std  []float64
}

// NewStats validates and copies mean and std.
func NewStats(mean, std []float64) (*Stats, error) {
	if len(mean) != len(std) {
		return nil, shapeError("mean has %d values, std has %d", len(mean), len(std))
	}
	if len(mean) < CameraParams {
		return nil, shapeError("statistics need at least %d dimensions, got %d", CameraParams, len(mean))
	}
	if err := checkFinite("mean", mean); err != nil {
		return nil, err
	}
	if err := checkFinite("std", std); err != nil {
		return nil, err
	}
	return &Stats{
		mean: append([]float64(nil), mean...),
		std:  append([]float64(nil), std...),
	}, nil
}

// Len returns the number of parameter dimensions.
func (s *Stats) Len() int { return len(s.mean) }

// Mean returns a copy of the per-dimension means.
func (s *Stats) Mean() []float64 { return append([]float64(nil), s.mean...) }

// Std returns a copy of the per-dimension standard deviations.
func (s *Stats) Std() []float64 { return append([]float64(nil), s.std...) }

// Denormalize returns param*std + mean. param is not modified.
func (s *Stats) Denormalize(param []float64) ([]float64, error) {
	if len(param) < CameraParams {
		return nil, shapeError("parameter vector needs at least %d values, got %d", CameraParams, len(param))
	}
	if len(param) != len(s.mean) {
		return nil, shapeError("parameter vector has %d values, statistics have %d", len(param), len(s.mean))
	}
	out := make([]float64, len(param))
	floats.MulTo(out, param, s.std)
	floats.Add(out, s.mean)
	return out, nil
}

func checkFinite(name string, v []float64) error {
	if floats.HasNaN(v) {
		return fmt.Errorf("pose: %s contains NaN", name)
	}
	for i, x := range v {
		if math.IsInf(x, 0) {
			return fmt.Errorf("pose: %s[%d] is infinite", name, i)
		}
	}
	return nil
}
