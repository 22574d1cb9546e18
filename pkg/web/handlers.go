package web

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/headpose/pkg/pose"
	"github.com/teslashibe/headpose/pkg/protocol"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// requestID tags each request with an ID and logs it once handled
func (s *Server) requestID(c *fiber.Ctx) error {
	id := c.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Locals("request_id", id)
	c.Set(RequestIDHeader, id)

	start := time.Now()
	err := c.Next()
	s.log.Debug("request",
		"id", id,
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"took", time.Since(start),
	)
	return err
}

func requestIDFrom(c *fiber.Ctx) string {
	id, _ := c.Locals("request_id").(string)
	return id
}

// handleError renders errors as protocol.ErrorData
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	code := protocol.ErrorCode(err)

	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		code = protocol.CodeBadRequest
	}
	if status >= fiber.StatusInternalServerError {
		s.log.Error("request failed", "path", c.Path(), "err", err)
	}
	return c.Status(status).JSON(protocol.ErrorData{
		ID:      requestIDFrom(c),
		Code:    code,
		Message: err.Error(),
	})
}

// statusFor maps pose errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, pose.ErrShapeMismatch):
		return fiber.StatusBadRequest
	case errors.Is(err, pose.ErrDegenerate), errors.Is(err, pose.ErrDomain):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

func badRequest(err error) error {
	return fiber.NewError(fiber.StatusBadRequest, err.Error())
}

// HealthResponse is returned by GET /api/health
type HealthResponse struct {
	Status    string  `json:"status"`
	Uptime    float64 `json:"uptime_seconds"`
	Dims      int     `json:"dims"`
	Gimbal    string  `json:"gimbal"`
	Estimates uint64  `json:"estimates"`
	Failures  uint64  `json:"failures"`
	Sessions  int     `json:"sessions"`
	Watchers  int     `json:"watchers"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "ok",
		Uptime:    time.Since(s.started).Seconds(),
		Dims:      s.estimator.Stats().Len(),
		Gimbal:    s.estimator.Gimbal().Mode.String(),
		Estimates: s.estimates.Load(),
		Failures:  s.failures.Load(),
		Sessions:  s.sessions.Count(),
		Watchers:  s.watchers.ClientCount(),
	})
}

// ParamsResponse is returned by GET /api/params
type ParamsResponse struct {
	Dims int       `json:"dims"`
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

func (s *Server) handleParams(c *fiber.Ctx) error {
	stats := s.estimator.Stats()
	return c.JSON(ParamsResponse{Dims: stats.Len(), Mean: stats.Mean(), Std: stats.Std()})
}

// PoseRequest is the body of POST /api/pose
type PoseRequest struct {
	ID     string    `json:"id,omitempty"`
	Params []float64 `json:"params"`
}

func (s *Server) handlePose(c *fiber.Ctx) error {
	var req PoseRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	if req.ID == "" {
		req.ID = requestIDFrom(c)
	}

	res, err := s.estimator.ParsePose(req.Params)
	if err != nil {
		s.failures.Add(1)
		return err
	}
	s.estimates.Add(1)

	data := protocol.NewPoseData(req.ID, "", res)
	s.publish(data)
	return c.JSON(data)
}

// DecomposeRequest is the body of POST /api/decompose
type DecomposeRequest struct {
	Camera [][]float64 `json:"camera"`
}

// DecomposeResponse is returned by POST /api/decompose
type DecomposeResponse struct {
	Scale       float64   `json:"scale"`
	Rotation    pose.Mat3 `json:"rotation"`
	Translation pose.Vec3 `json:"translation"`
}

func (s *Server) handleDecompose(c *fiber.Ctx) error {
	var req DecomposeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	p, err := toMat34(req.Camera)
	if err != nil {
		return err
	}

	scale, r, t, err := pose.Decompose(p)
	if err != nil {
		return err
	}
	return c.JSON(DecomposeResponse{Scale: scale, Rotation: r, Translation: t})
}

// AnglesRequest is the body of POST /api/angles.
// Mode and Epsilon override the service's gimbal policy when set.
type AnglesRequest struct {
	Rotation [][]float64 `json:"rotation"`
	Mode     string      `json:"mode,omitempty"`
	Epsilon  *float64    `json:"epsilon,omitempty"`
}

// AnglesResponse is returned by POST /api/angles
type AnglesResponse struct {
	Radians pose.Angles `json:"radians"`
	Degrees pose.Angles `json:"degrees"`
	Gimbal  string      `json:"gimbal"`
}

func (s *Server) handleAngles(c *fiber.Ctx) error {
	var req AnglesRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	r, err := toMat3(req.Rotation)
	if err != nil {
		return err
	}

	g := s.estimator.Gimbal()
	if req.Mode != "" {
		if g.Mode, err = pose.ParseGimbalMode(req.Mode); err != nil {
			return badRequest(err)
		}
	}
	if req.Epsilon != nil {
		g.Epsilon = *req.Epsilon
	}

	a, err := g.Angles(r)
	if err != nil {
		return err
	}
	return c.JSON(AnglesResponse{Radians: a, Degrees: a.Degrees(), Gimbal: g.Mode.String()})
}

func toMat34(rows [][]float64) (pose.Mat34, error) {
	var p pose.Mat34
	if len(rows) != 3 {
		return p, shapeErr("camera must have 3 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if len(row) != 4 {
			return p, shapeErr("camera row %d must have 4 columns, got %d", i, len(row))
		}
		copy(p[i][:], row)
	}
	return p, nil
}

func toMat3(rows [][]float64) (pose.Mat3, error) {
	var r pose.Mat3
	if len(rows) != 3 {
		return r, shapeErr("rotation must have 3 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if len(row) != 3 {
			return r, shapeErr("rotation row %d must have 3 columns, got %d", i, len(row))
		}
		copy(r[i][:], row)
	}
	return r, nil
}
