package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/headpose/pkg/pose"
	"github.com/teslashibe/headpose/pkg/protocol"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	const dims = 16
	mean := make([]float64, dims)
	std := make([]float64, dims)
	for i := range std {
		std[i] = 1
	}
	stats, err := pose.NewStats(mean, std)
	if err != nil {
		t.Fatal(err)
	}
	e, err := pose.NewEstimator(stats)
	if err != nil {
		t.Fatal(err)
	}
	return NewServer("0", e)
}

func paramsFor(a pose.Angles, scale float64) []float64 {
	p := pose.Compose(pose.RotationFromAngles(a), pose.Vec3{1, 2, 3}).Scaled(scale)
	v := make([]float64, 16)
	for i := 0; i < 3; i++ {
		copy(v[i*4:], p[i][:])
	}
	return v
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	var h HealthResponse
	if code := doJSON(t, s, "GET", "/api/health", nil, &h); code != 200 {
		t.Fatalf("status = %d", code)
	}
	if h.Status != "ok" || h.Dims != 16 || h.Gimbal != "tolerance" {
		t.Errorf("health = %+v", h)
	}
}

func TestParams(t *testing.T) {
	s := newServer(t)
	var p ParamsResponse
	if code := doJSON(t, s, "GET", "/api/params", nil, &p); code != 200 {
		t.Fatalf("status = %d", code)
	}
	if p.Dims != 16 || len(p.Mean) != 16 || p.Std[15] != 1 {
		t.Errorf("params = %+v", p)
	}
}

func TestPose(t *testing.T) {
	s := newServer(t)
	want := pose.Angles{Yaw: -0.3, Pitch: 0.1, Roll: 0.6}

	var got protocol.PoseData
	code := doJSON(t, s, "POST", "/api/pose", PoseRequest{ID: "abc", Params: paramsFor(want, 0.01)}, &got)
	if code != 200 {
		t.Fatalf("status = %d", code)
	}
	if got.ID != "abc" {
		t.Errorf("id = %q, want abc", got.ID)
	}
	if !near(got.Result.Pose.Yaw, want.Yaw) || !near(got.Result.Pose.Pitch, want.Pitch) || !near(got.Result.Pose.Roll, want.Roll) {
		t.Errorf("pose = %+v, want %+v", got.Result.Pose, want)
	}
	if !near(got.Result.Scale, 0.01) {
		t.Errorf("scale = %v, want 0.01", got.Result.Scale)
	}
	if !near(got.Degrees.Roll, want.Roll*180/math.Pi) {
		t.Errorf("degrees = %+v", got.Degrees)
	}
}

func TestPose_GeneratesID(t *testing.T) {
	s := newServer(t)
	data, _ := json.Marshal(PoseRequest{Params: paramsFor(pose.Angles{}, 1)})
	req := httptest.NewRequest("POST", "/api/pose", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, "from-header")

	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatal(err)
	}
	var got protocol.PoseData
	json.NewDecoder(resp.Body).Decode(&got)
	if got.ID != "from-header" || resp.Header.Get(RequestIDHeader) != "from-header" {
		t.Errorf("id = %q, header = %q", got.ID, resp.Header.Get(RequestIDHeader))
	}
}

func TestPose_Errors(t *testing.T) {
	s := newServer(t)
	tests := []struct {
		name   string
		params []float64
		status int
		code   string
	}{
		{"short", make([]float64, 5), 400, protocol.CodeShape},
		{"wrong length", make([]float64, 20), 400, protocol.CodeShape},
		{"degenerate", make([]float64, 16), 422, protocol.CodeDegenerate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e protocol.ErrorData
			code := doJSON(t, s, "POST", "/api/pose", PoseRequest{Params: tt.params}, &e)
			if code != tt.status || e.Code != tt.code {
				t.Errorf("status = %d code = %q, want %d %q", code, e.Code, tt.status, tt.code)
			}
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/pose", bytes.NewReader([]byte("{")))
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.App().Test(req)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != 400 {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	var h HealthResponse
	doJSON(t, s, "GET", "/api/health", nil, &h)
	if h.Failures != 3 || h.Estimates != 0 {
		t.Errorf("health counters = %+v", h)
	}
}

func TestDecompose(t *testing.T) {
	s := newServer(t)
	body := DecomposeRequest{Camera: [][]float64{
		{2, 0, 0, 5},
		{0, 2, 0, 6},
		{0, 0, 2, 7},
	}}
	var got DecomposeResponse
	if code := doJSON(t, s, "POST", "/api/decompose", body, &got); code != 200 {
		t.Fatalf("status = %d", code)
	}
	if got.Scale != 2 || got.Translation != (pose.Vec3{5, 6, 7}) {
		t.Errorf("decompose = %+v", got)
	}
	if got.Rotation != (pose.Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}) {
		t.Errorf("rotation = %v", got.Rotation)
	}

	var e protocol.ErrorData
	if code := doJSON(t, s, "POST", "/api/decompose", DecomposeRequest{Camera: [][]float64{{1, 2, 3}}}, &e); code != 400 {
		t.Errorf("bad shape status = %d, want 400", code)
	}
	zero := DecomposeRequest{Camera: [][]float64{{0, 0, 0, 0}, {0, 0, 0, 0}, {0, 0, 0, 0}}}
	if code := doJSON(t, s, "POST", "/api/decompose", zero, &e); code != 422 || e.Code != protocol.CodeDegenerate {
		t.Errorf("zero camera status = %d code = %q", code, e.Code)
	}
}

func TestAngles(t *testing.T) {
	s := newServer(t)
	locked := [][]float64{{0, 0.6, 0.8}, {0, 0.8, -0.6}, {1, 0, 0}}

	var got AnglesResponse
	if code := doJSON(t, s, "POST", "/api/angles", AnglesRequest{Rotation: locked}, &got); code != 200 {
		t.Fatalf("status = %d", code)
	}
	if got.Radians.Yaw != -math.Pi/2 || got.Gimbal != "tolerance" || !near(got.Degrees.Yaw, -90) {
		t.Errorf("tolerance angles = %+v", got)
	}

	if code := doJSON(t, s, "POST", "/api/angles", AnglesRequest{Rotation: locked, Mode: "compat"}, &got); code != 200 {
		t.Fatalf("status = %d", code)
	}
	if got.Radians.Yaw != math.Pi/2 || got.Gimbal != "compat" {
		t.Errorf("compat angles = %+v", got)
	}

	var e protocol.ErrorData
	bad := [][]float64{{1, 0, 0}, {0, 1, 0}, {2, 0, 0}}
	if code := doJSON(t, s, "POST", "/api/angles", AnglesRequest{Rotation: bad}, &e); code != 422 || e.Code != protocol.CodeDomain {
		t.Errorf("domain status = %d code = %q", code, e.Code)
	}
	if code := doJSON(t, s, "POST", "/api/angles", AnglesRequest{Rotation: locked, Mode: "nope"}, &e); code != 400 {
		t.Errorf("bad mode status = %d, want 400", code)
	}
}

func TestWatchersReceivePoses(t *testing.T) {
	s := newServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	defer func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve() error = %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("Serve did not return")
		}
	}()

	addr := ln.Addr().String()
	watcher, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/watch", nil)
	if err != nil {
		t.Fatalf("dial watch: %v", err)
	}
	defer watcher.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.Watchers().ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("watcher not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Through REST.
	data, _ := json.Marshal(PoseRequest{ID: "rest", Params: paramsFor(pose.Angles{Yaw: 0.2}, 1)})
	resp, err := http.Post("http://"+addr+"/api/pose", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	// Through a session.
	sess, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/pose/cam", nil)
	if err != nil {
		t.Fatalf("dial session: %v", err)
	}
	defer sess.Close()
	msg, _ := protocol.NewEstimateMessage("ws", paramsFor(pose.Angles{Pitch: 0.4}, 1))
	raw, _ := msg.Bytes()
	if err := sess.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatal(err)
	}

	for _, wantID := range []string{"rest", "ws"} {
		watcher.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, frame, err := watcher.ReadMessage()
		if err != nil {
			t.Fatalf("watcher read: %v", err)
		}
		var pd protocol.PoseData
		if err := json.Unmarshal(frame, &pd); err != nil {
			t.Fatal(err)
		}
		if pd.ID != wantID {
			t.Errorf("watched id = %q, want %q", pd.ID, wantID)
		}
	}
}
