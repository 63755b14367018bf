// Package ws implements the WebSocket gateway and the per-connection
// session coordinator that bridges clients to claude processes.
package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/claude"
	"github.com/agentdeck/agentdeck/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

// Client is one authenticated WebSocket connection
type Client struct {
	UserID      string
	Username    string
	ConnectedAt time.Time

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  *logger.Logger

	// alive is set by pong receipt and cleared by each ping sweep
	alive atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}

	session sessionState
}

// sessionState holds the connection's at-most-one in-flight operation.
// Mutated only through its methods, which enforce the busy check.
type sessionState struct {
	mu   sync.Mutex
	opID string
	proc claude.Process
}

// tryBegin claims the connection for an operation. Returns false if
// another operation is already in flight.
func (s *sessionState) tryBegin(opID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opID != "" {
		return false
	}
	s.opID = opID
	return true
}

// setProcess attaches the live process to the claimed operation
func (s *sessionState) setProcess(opID string, proc claude.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opID == opID {
		s.proc = proc
	}
}

// clear releases the connection if opID still owns it
func (s *sessionState) clear(opID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opID == opID {
		s.opID = ""
		s.proc = nil
	}
}

// match returns the in-flight process if opID is the current operation
func (s *sessionState) match(opID string) (claude.Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opID == "" || s.opID != opID {
		return nil, false
	}
	return s.proc, true
}

// take removes and returns any in-flight process. Used on teardown.
func (s *sessionState) take() (claude.Process, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proc, opID := s.proc, s.opID
	s.opID = ""
	s.proc = nil
	return proc, opID
}

func newClient(hub *Hub, conn *websocket.Conn, userID, username string, log *logger.Logger) *Client {
	c := &Client{
		UserID:      userID,
		Username:    username,
		ConnectedAt: time.Now(),
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		closed:      make(chan struct{}),
		log:         log.WithFields(zap.String("user_id", userID)),
	}
	c.alive.Store(true)
	conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	return c
}

// Send marshals and queues one frame for delivery. Returns false if
// the connection is closed or its send buffer is full; dropped frames
// are logged, not fatal.
func (c *Client) Send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error("failed to marshal outbound frame", zap.Error(err))
		return false
	}

	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	case <-c.closed:
		return false
	default:
		c.log.Warn("send buffer full, dropping frame")
		return false
	}
}

// close tears the connection down exactly once
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// forceClose terminates the connection without a close handshake.
// Used by the heartbeat sweep on unresponsive connections.
func (c *Client) forceClose() {
	c.close()
}

// ping sends a control ping outside the write pump. Safe concurrently
// with WriteMessage per the gorilla contract for control frames.
func (c *Client) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// readPump delivers inbound messages to the hub's handler until the
// connection dies, then runs disconnect cleanup.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		if c.hub.handler != nil {
			c.hub.handler.HandleMessage(c, data)
		}
	}
}

// writePump serializes all data writes onto the connection
func (c *Client) writePump() {
	defer c.close()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
