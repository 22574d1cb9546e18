package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/headpose/pkg/pose"
)

// NewEstimateMessage creates an estimate request
func NewEstimateMessage(id string, params []float64) (*Message, error) {
	return NewMessage(TypeEstimate, EstimateData{ID: id, Params: params})
}

// NewPoseMessage creates a pose reply
func NewPoseMessage(id, session string, res pose.Result) (*Message, error) {
	return NewMessage(TypePose, NewPoseData(id, session, res))
}

// NewPoseData wraps a result with its degree angles.
func NewPoseData(id, session string, res pose.Result) PoseData {
	return PoseData{
		ID:      id,
		Session: session,
		Result:  res,
		Degrees: res.Pose.Degrees(),
	}
}

// NewErrorMessage creates an error reply classified from err
func NewErrorMessage(id string, err error) (*Message, error) {
	return NewMessage(TypeError, ErrorData{ID: id, Code: ErrorCode(err), Message: err.Error()})
}

// ErrorCode classifies err into one of the Code constants.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, pose.ErrShapeMismatch):
		return CodeShape
	case errors.Is(err, pose.ErrDegenerate):
		return CodeDegenerate
	case errors.Is(err, pose.ErrDomain):
		return CodeDomain
	default:
		return CodeInternal
	}
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// GetEstimateData extracts estimate data
func (m *Message) GetEstimateData() (*EstimateData, error) {
	if m.Type != TypeEstimate {
		return nil, fmt.Errorf("message type is %s, not estimate", m.Type)
	}
	var data EstimateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPoseData extracts pose data
func (m *Message) GetPoseData() (*PoseData, error) {
	if m.Type != TypePose {
		return nil, fmt.Errorf("message type is %s, not pose", m.Type)
	}
	var data PoseData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts error data
func (m *Message) GetErrorData() (*ErrorData, error) {
	if m.Type != TypeError {
		return nil, fmt.Errorf("message type is %s, not error", m.Type)
	}
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data
func (m *Message) GetPingData() (*PingData, error) {
	if m.Type != TypePing {
		return nil, fmt.Errorf("message type is %s, not ping", m.Type)
	}
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data
func (m *Message) GetPongData() (*PongData, error) {
	if m.Type != TypePong {
		return nil, fmt.Errorf("message type is %s, not pong", m.Type)
	}
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
