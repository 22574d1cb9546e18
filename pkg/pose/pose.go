package pose

import "errors"

// Estimator turns standardized parameter vectors into poses.
// It is immutable and safe for concurrent use.
type Estimator struct {
	stats  *Stats
	gimbal Gimbal
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithGimbal sets the gimbal lock policy.
func WithGimbal(g Gimbal) Option {
	return func(e *Estimator) {
		e.gimbal = g
	}
}

// NewEstimator creates an Estimator over stats.
func NewEstimator(stats *Stats, opts ...Option) (*Estimator, error) {
	if stats == nil {
		return nil, errors.New("pose: nil statistics")
	}
	e := &Estimator{stats: stats, gimbal: DefaultGimbal()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Stats returns the normalization statistics.
func (e *Estimator) Stats() *Stats { return e.stats }

// Gimbal returns the gimbal lock policy.
func (e *Estimator) Gimbal() Gimbal { return e.gimbal }

// ParsePose denormalizes param, decomposes its camera matrix and converts the
// rotation to Euler angles.
func (e *Estimator) ParsePose(param []float64) (Result, error) {
	denorm, err := e.stats.Denormalize(param)
	if err != nil {
		return Result{}, err
	}
	affine, err := NewMat34(denorm)
	if err != nil {
		return Result{}, err
	}

	s, r, t, err := Decompose(affine)
	if err != nil {
		return Result{}, err
	}
	angles, err := e.gimbal.Angles(r)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Camera:      Compose(r, t),
		Pose:        angles,
		Scale:       s,
		Rotation:    r,
		Translation: t,
		Affine:      affine,
	}, nil
}

// ParsePose is Estimator.ParsePose with the default gimbal policy.
func ParsePose(param []float64, stats *Stats) (Result, error) {
	e, err := NewEstimator(stats)
	if err != nil {
		return Result{}, err
	}
	return e.ParsePose(param)
}
