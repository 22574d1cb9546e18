// Package session serves pose estimates over long-lived websocket connections.
//
// Each connection is a session. A client sends estimate messages carrying
// standardized parameter vectors and receives one pose or error message per
// request, matched by request ID.
package session

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/headpose/internal/log"
	"github.com/teslashibe/headpose/pkg/pose"
	"github.com/teslashibe/headpose/pkg/protocol"
)

// Conn is one connected session
type Conn struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time

	mu        sync.Mutex
	lastSeen  time.Time
	estimates uint64
}

// Send writes a message to the session. Safe for concurrent use.
func (c *Conn) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) touch(estimate bool) {
	c.mu.Lock()
	c.lastSeen = time.Now()
	if estimate {
		c.estimates++
	}
	c.mu.Unlock()
}

// Hub tracks sessions and answers their estimate requests
type Hub struct {
	mu        sync.RWMutex
	sessions  map[string]*Conn
	estimator *pose.Estimator
	log       *slog.Logger

	onPose func(sessionID string, data protocol.PoseData)

	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	estimates        atomic.Uint64
	failures         atomic.Uint64
}

// NewHub creates a session hub backed by e
func NewHub(e *pose.Estimator) *Hub {
	return &Hub{
		sessions:  make(map[string]*Conn),
		estimator: e,
		log:       log.Component("session"),
	}
}

// OnPose sets a callback invoked after every successful estimate
func (h *Hub) OnPose(callback func(sessionID string, data protocol.PoseData)) {
	h.mu.Lock()
	h.onPose = callback
	h.mu.Unlock()
}

// RegisterRoutes registers the websocket endpoints on app
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws/pose", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/pose", websocket.New(h.handleConn))
	app.Get("/ws/pose/:id", websocket.New(h.handleConn))
}

// RegisterAPIRoutes registers session inspection routes under api
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	sessions := api.Group("/sessions")

	sessions.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sessions": h.Infos(),
			"count":    h.Count(),
		})
	})

	sessions.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.Stats())
	})
}

func (h *Hub) handleConn(c *websocket.Conn) {
	id := c.Params("id")
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now()
	conn := &Conn{ID: id, Conn: c, Connected: now, lastSeen: now}

	h.mu.Lock()
	if old, ok := h.sessions[id]; ok {
		h.log.Warn("session id reused, replacing connection", "session", id)
		old.Conn.Close()
	}
	h.sessions[id] = conn
	count := len(h.sessions)
	h.mu.Unlock()
	h.log.Debug("session opened", "session", id, "total", count)

	defer func() {
		h.mu.Lock()
		if h.sessions[id] == conn {
			delete(h.sessions, id)
		}
		count := len(h.sessions)
		h.mu.Unlock()
		h.log.Debug("session closed", "session", id, "remaining", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.log.Debug("session read ended", "session", id, "err", err)
			return
		}
		h.messagesReceived.Add(1)
		h.handleMessage(conn, data)
	}
}

func (h *Hub) handleMessage(conn *Conn, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		conn.touch(false)
		h.reply(conn, errorMessage("", protocol.CodeBadRequest, err))
		return
	}

	switch msg.Type {
	case protocol.TypeEstimate:
		conn.touch(true)
		h.estimate(conn, msg)

	case protocol.TypePing:
		conn.touch(false)
		ping, err := msg.GetPingData()
		if err != nil {
			h.reply(conn, errorMessage("", protocol.CodeBadRequest, err))
			return
		}
		pong, err := protocol.NewPongMessage(ping.ID, ping.Timestamp, time.Now().UnixMilli())
		if err == nil {
			h.reply(conn, pong)
		}

	default:
		conn.touch(false)
		h.log.Debug("ignoring message", "session", conn.ID, "type", msg.Type)
	}
}

func (h *Hub) estimate(conn *Conn, msg *protocol.Message) {
	req, err := msg.GetEstimateData()
	if err != nil {
		h.failures.Add(1)
		h.reply(conn, errorMessage("", protocol.CodeBadRequest, err))
		return
	}

	res, err := h.estimator.ParsePose(req.Params)
	if err != nil {
		h.failures.Add(1)
		h.log.Debug("estimate failed", "session", conn.ID, "id", req.ID, "err", err)
		reply, merr := protocol.NewErrorMessage(req.ID, err)
		if merr == nil {
			h.reply(conn, reply)
		}
		return
	}
	h.estimates.Add(1)

	data := protocol.NewPoseData(req.ID, conn.ID, res)
	reply, err := protocol.NewMessage(protocol.TypePose, data)
	if err != nil {
		h.failures.Add(1)
		h.reply(conn, errorMessage(req.ID, protocol.CodeInternal, err))
		return
	}
	h.reply(conn, reply)

	h.mu.RLock()
	cb := h.onPose
	h.mu.RUnlock()
	if cb != nil {
		cb(conn.ID, data)
	}
}

func (h *Hub) reply(conn *Conn, msg *protocol.Message) {
	if msg == nil {
		return
	}
	h.messagesSent.Add(1)
	if err := conn.Send(msg); err != nil {
		h.log.Debug("send failed", "session", conn.ID, "err", err)
	}
}

func errorMessage(id, code string, err error) *protocol.Message {
	msg, merr := protocol.NewMessage(protocol.TypeError, protocol.ErrorData{ID: id, Code: code, Message: err.Error()})
	if merr != nil {
		return nil
	}
	return msg
}

// Get returns a session by ID, or nil
func (h *Hub) Get(id string) *Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[id]
}

// Count returns the number of open sessions
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Stats contains hub counters
type Stats struct {
	Sessions         int    `json:"sessions"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	Estimates        uint64 `json:"estimates"`
	Failures         uint64 `json:"failures"`
}

// Stats returns hub counters
func (h *Hub) Stats() Stats {
	return Stats{
		Sessions:         h.Count(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		Estimates:        h.estimates.Load(),
		Failures:         h.failures.Load(),
	}
}

// Info describes an open session
type Info struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	Estimates uint64    `json:"estimates"`
}

// Infos returns a snapshot of all open sessions
func (h *Hub) Infos() []Info {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]Info, 0, len(h.sessions))
	for _, s := range h.sessions {
		s.mu.Lock()
		infos = append(infos, Info{
			ID:        s.ID,
			Connected: s.Connected,
			LastSeen:  s.lastSeen,
			Estimates: s.estimates,
		})
		s.mu.Unlock()
	}
	return infos
}
