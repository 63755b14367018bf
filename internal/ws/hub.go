package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/auth"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/pkg/wire"
)

// heartbeatInterval is the period of the central ping sweep
const heartbeatInterval = 30 * time.Second

// Handler receives inbound frames and connection teardown events
type Handler interface {
	HandleMessage(c *Client, data []byte)
	HandleClose(c *Client)
}

// TokenVerifier validates a bearer token into claims
type TokenVerifier interface {
	VerifyToken(token string) (*auth.Claims, error)
}

// Hub tracks every authenticated connection and runs the liveness
// sweep. Registration and removal happen only on connect/disconnect.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	verifier TokenVerifier
	handler  Handler
	log      *logger.Logger

	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once

	upgrader websocket.Upgrader
}

// NewHub creates a hub. SetHandler must be called before ServeWS.
func NewHub(verifier TokenVerifier, log *logger.Logger) *Hub {
	return &Hub{
		clients:  make(map[*Client]bool),
		verifier: verifier,
		log:      log,
		interval: heartbeatInterval,
		done:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary origins; auth is
			// enforced by token, not origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// SetHandler wires the message dispatcher
func (h *Hub) SetHandler(handler Handler) {
	h.handler = handler
}

// Run drives the heartbeat sweep until Close is called
func (h *Hub) Run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-h.done:
			return
		}
	}
}

// sweep force-closes every connection that did not answer the previous
// ping, then pings the survivors.
func (h *Hub) sweep() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.alive.Load() {
			h.log.Info("closing unresponsive connection",
				zap.String("user_id", c.UserID),
				zap.Time("connected_at", c.ConnectedAt))
			c.forceClose()
			continue
		}
		c.alive.Store(false)
		if err := c.ping(); err != nil {
			c.forceClose()
		}
	}
}

// Close stops the sweep and disconnects every client
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// ServeWS upgrades an HTTP request into a tracked connection. The
// token comes from the `token` query parameter or, for browser
// clients that cannot set query secrets, a subprotocol value. A
// missing or invalid token gets a structured error frame and a policy
// violation close; the connection is never registered.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	protocols := websocket.Subprotocols(r)
	if token == "" && len(protocols) > 0 {
		token = protocols[0]
	}

	upgrader := h.upgrader
	if len(protocols) > 0 {
		upgrader.Subprotocols = protocols[:1]
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	claims, verr := h.verifyToken(token)
	if verr != nil {
		h.rejectUnauthenticated(conn, verr.Error())
		return
	}

	client := newClient(h, conn, claims.UserID, claims.Username, h.log)
	h.register(client)

	go client.writePump()
	go client.readPump()
}

func (h *Hub) verifyToken(token string) (*auth.Claims, error) {
	if token == "" {
		return nil, apperrors.Unauthorized("missing authentication token")
	}
	claims, err := h.verifier.VerifyToken(token)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid authentication token")
	}
	return claims, nil
}

// rejectUnauthenticated sends an error frame, then closes with a
// policy violation code so clients can distinguish auth failure from
// transport failure.
func (h *Hub) rejectUnauthenticated(conn *websocket.Conn, reason string) {
	frame := wire.NewError(apperrors.ErrCodeAuthRequired, reason, "")
	deadline := time.Now().Add(writeWait)

	conn.SetWriteDeadline(deadline)
	conn.WriteJSON(frame)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"),
		deadline)
	conn.Close()

	h.log.Warn("rejected unauthenticated connection", zap.String("reason", reason))
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("client connected",
		zap.String("user_id", c.UserID),
		zap.String("username", c.Username),
		zap.Int("active", count))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	if !present {
		return
	}
	if h.handler != nil {
		h.handler.HandleClose(c)
	}
	h.log.Info("client disconnected",
		zap.String("user_id", c.UserID),
		zap.Int("active", count))
}

// Count returns the number of active connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Identities returns the user id of every active connection
func (h *Hub) Identities() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool, len(h.clients))
	var ids []string
	for c := range h.clients {
		if !seen[c.UserID] {
			seen[c.UserID] = true
			ids = append(ids, c.UserID)
		}
	}
	return ids
}

// SendToUser delivers a frame to every connection of one user.
// Returns true if at least one connection accepted it.
func (h *Hub) SendToUser(userID string, v any) bool {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c.UserID == userID {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	delivered := false
	for _, c := range clients {
		if c.Send(v) {
			delivered = true
		}
	}
	return delivered
}

// Broadcast delivers a frame to every active connection
func (h *Hub) Broadcast(v any) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Send(v)
	}
}
