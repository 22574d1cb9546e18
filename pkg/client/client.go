// Package client talks to a headpose service over REST or a websocket session.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/teslashibe/headpose/internal/httpc"
	"github.com/teslashibe/headpose/pkg/pose"
	"github.com/teslashibe/headpose/pkg/protocol"
	"github.com/teslashibe/headpose/pkg/web"
)

// Client is a headpose service client. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the shared httpc client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// New creates a client for the service at baseURL, e.g. http://localhost:8090.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpc.Client,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a failure reported by the service.
// It unwraps to the matching pose sentinel error, so errors.Is works across the wire.
type APIError struct {
	StatusCode int
	protocol.ErrorData
}

func (e *APIError) Error() string {
	return "headpose: " + e.ErrorData.Error()
}

func (e *APIError) Unwrap() error {
	return sentinel(e.Code)
}

func sentinel(code string) error {
	switch code {
	case protocol.CodeShape:
		return pose.ErrShapeMismatch
	case protocol.CodeDegenerate:
		return pose.ErrDegenerate
	case protocol.CodeDomain:
		return pose.ErrDomain
	}
	return nil
}

// Estimate computes the pose of a standardized parameter vector remotely.
func (c *Client) Estimate(ctx context.Context, params []float64) (*protocol.PoseData, error) {
	var out protocol.PoseData
	if err := c.post(ctx, "/api/pose", web.PoseRequest{Params: params}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Decompose splits a camera matrix remotely.
func (c *Client) Decompose(ctx context.Context, p pose.Mat34) (*web.DecomposeResponse, error) {
	rows := make([][]float64, 3)
	for i := range p {
		rows[i] = p[i][:]
	}
	var out web.DecomposeResponse
	if err := c.post(ctx, "/api/decompose", web.DecomposeRequest{Camera: rows}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Angles converts a rotation matrix remotely with the service's gimbal policy.
func (c *Client) Angles(ctx context.Context, r pose.Mat3) (*web.AnglesResponse, error) {
	rows := make([][]float64, 3)
	for i := range r {
		rows[i] = r[i][:]
	}
	var out web.AnglesResponse
	if err := c.post(ctx, "/api/angles", web.AnglesRequest{Rotation: rows}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns the service health report.
func (c *Client) Health(ctx context.Context) (*web.HealthResponse, error) {
	var out web.HealthResponse
	if err := httpc.GetJSON(ctx, c.http, c.baseURL+"/api/health", &out); err != nil {
		return nil, apiError(err)
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	return apiError(httpc.PostJSON(ctx, c.http, c.baseURL+path, in, out))
}

// apiError turns service error bodies into *APIError.
func apiError(err error) error {
	var se *httpc.StatusError
	if !errors.As(err, &se) {
		return err
	}
	var data protocol.ErrorData
	if json.Unmarshal(se.Body, &data) != nil || data.Code == "" {
		return err
	}
	return &APIError{StatusCode: se.StatusCode, ErrorData: data}
}
