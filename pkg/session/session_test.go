package session

import (
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/headpose/pkg/pose"
	"github.com/teslashibe/headpose/pkg/protocol"
)

func newEstimator(t *testing.T) *pose.Estimator {
	t.Helper()
	std := make([]float64, pose.CameraParams)
	for i := range std {
		std[i] = 1
	}
	stats, err := pose.NewStats(make([]float64, pose.CameraParams), std)
	if err != nil {
		t.Fatal(err)
	}
	e, err := pose.NewEstimator(stats)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

// startServer serves hub on a random local port and returns the ws base URL.
func startServer(t *testing.T, hub *Hub) string {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })

	return "ws://" + ln.Addr().String()
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msg *protocol.Message) *protocol.Message {
	t.Helper()
	data, err := msg.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	parsed, err := protocol.ParseMessage(reply)
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	return parsed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(newEstimator(t))
	if hub.Count() != 0 {
		t.Error("Count should be 0 initially")
	}
	if s := hub.Stats(); s.Estimates != 0 || s.MessagesReceived != 0 {
		t.Errorf("Stats = %+v, want zero", s)
	}
	if hub.Get("missing") != nil {
		t.Error("Get should return nil for unknown session")
	}
}

func TestSessionLifecycle(t *testing.T) {
	hub := NewHub(newEstimator(t))
	base := startServer(t, hub)

	ws := dial(t, base+"/ws/pose/cam-1")
	waitFor(t, func() bool { return hub.Count() == 1 })

	if hub.Get("cam-1") == nil {
		t.Error("Get should return the connected session")
	}

	ws.Close()
	waitFor(t, func() bool { return hub.Count() == 0 })
}

func TestGeneratedSessionID(t *testing.T) {
	hub := NewHub(newEstimator(t))
	base := startServer(t, hub)

	dial(t, base+"/ws/pose")
	waitFor(t, func() bool { return hub.Count() == 1 })

	infos := hub.Infos()
	if len(infos) != 1 || len(infos[0].ID) != 36 {
		t.Errorf("Infos = %+v, want one uuid session", infos)
	}
}

func TestEstimate(t *testing.T) {
	hub := NewHub(newEstimator(t))

	var observed atomic.Int32
	hub.OnPose(func(sessionID string, data protocol.PoseData) {
		if sessionID == "est" && data.ID == "r1" {
			observed.Add(1)
		}
	})
	base := startServer(t, hub)
	ws := dial(t, base+"/ws/pose/est")

	want := pose.Angles{Yaw: 0.25, Pitch: -0.5, Roll: 0.75}
	r := pose.RotationFromAngles(want)
	params := []float64{
		r[0][0], r[0][1], r[0][2], 10,
		r[1][0], r[1][1], r[1][2], 20,
		r[2][0], r[2][1], r[2][2], 30,
	}
	msg, _ := protocol.NewEstimateMessage("r1", params)

	reply := send(t, ws, msg)
	pd, err := reply.GetPoseData()
	if err != nil {
		t.Fatalf("GetPoseData() error = %v (reply %s)", err, reply.Data)
	}
	if pd.ID != "r1" || pd.Session != "est" {
		t.Errorf("reply ids = %q/%q", pd.ID, pd.Session)
	}
	got := pd.Result.Pose
	if abs(got.Yaw-want.Yaw) > 1e-9 || abs(got.Pitch-want.Pitch) > 1e-9 || abs(got.Roll-want.Roll) > 1e-9 {
		t.Errorf("pose = %+v, want %+v", got, want)
	}
	if pd.Result.Translation != (pose.Vec3{10, 20, 30}) {
		t.Errorf("translation = %v", pd.Result.Translation)
	}

	waitFor(t, func() bool { return observed.Load() == 1 })
	if s := hub.Stats(); s.Estimates != 1 || s.MessagesSent != 1 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestEstimateErrors(t *testing.T) {
	hub := NewHub(newEstimator(t))
	base := startServer(t, hub)
	ws := dial(t, base+"/ws/pose/err")

	tests := []struct {
		name   string
		params []float64
		code   string
	}{
		{"short", []float64{1, 2, 3}, protocol.CodeShape},
		{"degenerate", make([]float64, pose.CameraParams), protocol.CodeDegenerate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, _ := protocol.NewEstimateMessage(tt.name, tt.params)
			reply := send(t, ws, msg)
			ed, err := reply.GetErrorData()
			if err != nil {
				t.Fatalf("GetErrorData() error = %v", err)
			}
			if ed.Code != tt.code || ed.ID != tt.name {
				t.Errorf("error = %+v, want code %s", ed, tt.code)
			}
		})
	}

	t.Run("garbage", func(t *testing.T) {
		if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
			t.Fatal(err)
		}
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			t.Fatal(err)
		}
		ed, err := msg.GetErrorData()
		if err != nil || ed.Code != protocol.CodeBadRequest {
			t.Errorf("reply = %s, want bad_request", data)
		}
	})

	if s := hub.Stats(); s.Failures != 2 {
		t.Errorf("Failures = %d, want 2", s.Failures)
	}
}

func TestPing(t *testing.T) {
	hub := NewHub(newEstimator(t))
	base := startServer(t, hub)
	ws := dial(t, base+"/ws/pose/ping")

	ping, _ := protocol.NewPingMessage("p1")
	reply := send(t, ws, ping)
	pong, err := reply.GetPongData()
	if err != nil {
		t.Fatalf("GetPongData() error = %v", err)
	}
	if pong.ID != "p1" || pong.PongTS < pong.PingTS {
		t.Errorf("pong = %+v", pong)
	}
}

func TestAPIRoutes(t *testing.T) {
	hub := NewHub(newEstimator(t))
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))

	for _, path := range []string{"/api/sessions/", "/api/sessions/stats"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if resp.StatusCode != 200 {
			t.Errorf("%s: status = %d, want 200", path, resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		if path == "/api/sessions/" && !strings.Contains(string(body), "sessions") {
			t.Errorf("body = %s", body)
		}
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/ws/pose", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("plain GET /ws/pose status = %d, want 426", resp.StatusCode)
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
