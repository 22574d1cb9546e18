// Package protocol defines the websocket messages exchanged between pose
// clients and the headpose service.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/headpose/pkg/pose"
)

// MessageType identifies the type of websocket message
type MessageType string

const (
	// Client → Service
	TypeEstimate MessageType = "estimate" // Parameter vector to evaluate

	// Service → Client
	TypePose  MessageType = "pose"  // Estimate result
	TypeError MessageType = "error" // Estimate or protocol failure

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the envelope for all websocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a message stamped with the current time
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into v
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// EstimateData asks for the pose of one parameter vector.
// ID is echoed back in the matching PoseData or ErrorData.
type EstimateData struct {
	ID     string    `json:"id"`
	Params []float64 `json:"params"`
}

// PoseData is the result of an estimate.
type PoseData struct {
	ID      string      `json:"id"`
	Session string      `json:"session,omitempty"`
	Result  pose.Result `json:"result"`
	Degrees pose.Angles `json:"degrees"`
}

// Error codes carried by ErrorData.
const (
	CodeBadRequest = "bad_request"
	CodeShape      = "shape_mismatch"
	CodeDegenerate = "degenerate"
	CodeDomain     = "domain"
	CodeInternal   = "internal"
)

// ErrorData reports a failed estimate.
type ErrorData struct {
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorData) Error() string {
	return e.Code + ": " + e.Message
}

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains the pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
