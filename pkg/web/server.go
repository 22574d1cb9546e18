// Package web is the headpose HTTP service.
//
// It exposes the pose math over REST, accepts estimate sessions over
// websocket (see package session), and streams every computed pose to
// watcher websockets.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/headpose/internal/log"
	"github.com/teslashibe/headpose/pkg/hub"
	"github.com/teslashibe/headpose/pkg/pose"
	"github.com/teslashibe/headpose/pkg/protocol"
	"github.com/teslashibe/headpose/pkg/session"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Server is the headpose HTTP service
type Server struct {
	app       *fiber.App
	port      string
	estimator *pose.Estimator
	log       *slog.Logger
	started   time.Time

	sessions *session.Hub
	watchers *hub.Hub

	estimates atomic.Uint64
	failures  atomic.Uint64
}

// NewServer creates the service around e. port is used by Start.
func NewServer(port string, e *pose.Estimator) *Server {
	s := &Server{
		port:      port,
		estimator: e,
		log:       log.Component("web"),
		started:   time.Now(),
		sessions:  session.NewHub(e),
		watchers:  hub.New("poses"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "headpose",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(cors.New())
	app.Use(s.requestID)

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/params", s.handleParams)
	api.Post("/pose", s.handlePose)
	api.Post("/decompose", s.handleDecompose)
	api.Post("/angles", s.handleAngles)
	s.sessions.RegisterAPIRoutes(api)

	s.sessions.RegisterRoutes(app)
	s.sessions.OnPose(func(_ string, data protocol.PoseData) {
		s.publish(data)
	})

	app.Use("/ws/watch", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/watch", websocket.New(s.watchers.Serve))

	s.app = app
	return s
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Sessions returns the estimate session hub
func (s *Server) Sessions() *session.Hub {
	return s.sessions
}

// Watchers returns the pose broadcast hub
func (s *Server) Watchers() *hub.Hub {
	return s.watchers
}

// Start listens on the configured port and serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.port)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.watchers.Run(hubCtx)

	errc := make(chan error, 1)
	go func() { errc <- s.app.Listener(ln) }()
	s.log.Info("headpose service listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	stopHub()
	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	s.log.Info("headpose service stopped")
	return nil
}

// publish records a computed pose and forwards it to watchers
func (s *Server) publish(data protocol.PoseData) {
	if err := s.watchers.BroadcastJSON(data); err != nil {
		s.log.Warn("failed to broadcast pose", "id", data.ID, "err", err)
	}
}
