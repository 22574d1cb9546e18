package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/headpose/internal/log"
	"github.com/teslashibe/headpose/pkg/protocol"
)

// ErrClosed is returned by Stream methods after the connection is gone.
var ErrClosed = errors.New("client: stream closed")

// Stream is a websocket estimate session. Estimate may be called from
// several goroutines; replies are matched by request ID.
type Stream struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *protocol.Message
	err     error

	done chan struct{}
}

// Dial opens a session. An empty id lets the service assign one.
func (c *Client) Dial(ctx context.Context, id string) (*Stream, error) {
	url := wsURL(c.baseURL) + "/ws/pose"
	if id != "" {
		url += "/" + id
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	s := &Stream{
		conn:    conn,
		pending: make(map[string]chan *protocol.Message),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

// Estimate sends params and waits for the matching reply.
func (s *Stream) Estimate(ctx context.Context, params []float64) (*protocol.PoseData, error) {
	id := uuid.NewString()
	reply := make(chan *protocol.Message, 1)

	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return nil, err
	}
	s.pending[id] = reply
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	msg, err := protocol.NewEstimateMessage(id, params)
	if err != nil {
		return nil, err
	}
	if err := s.write(msg); err != nil {
		return nil, err
	}

	select {
	case m := <-reply:
		return decodeReply(m)
	case <-s.done:
		return nil, s.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func decodeReply(m *protocol.Message) (*protocol.PoseData, error) {
	switch m.Type {
	case protocol.TypePose:
		return m.GetPoseData()
	case protocol.TypeError:
		ed, err := m.GetErrorData()
		if err != nil {
			return nil, err
		}
		return nil, &APIError{ErrorData: *ed}
	}
	return nil, fmt.Errorf("client: unexpected reply type %s", m.Type)
}

func (s *Stream) write(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Stream) readLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			log.Debug("ignoring malformed session message", "err", err)
			continue
		}

		var id string
		switch msg.Type {
		case protocol.TypePose:
			if pd, err := msg.GetPoseData(); err == nil {
				id = pd.ID
			}
		case protocol.TypeError:
			if ed, err := msg.GetErrorData(); err == nil {
				id = ed.ID
			}
		}

		s.mu.Lock()
		ch, ok := s.pending[id]
		s.mu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		} else {
			log.Debug("unmatched session message", "type", msg.Type, "id", id)
		}
	}
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = fmt.Errorf("%w: %v", ErrClosed, err)
	}
	s.mu.Unlock()
}

func (s *Stream) closedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return ErrClosed
	}
	return s.err
}

// Close ends the session.
func (s *Stream) Close() error {
	s.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	err := s.conn.Close()
	<-s.done
	return err
}
