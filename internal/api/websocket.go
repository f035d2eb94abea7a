package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-relay/internal/relay"
)

// defaultSendBuffer is the per-connection outbound queue when the config leaves it unset.
const defaultSendBuffer = 256

// Transport errors returned by wsConn.Send.
var (
	errConnClosed     = errors.New("websocket connection closed")
	errSendBufferFull = errors.New("websocket send buffer full")
)

// Hub tracks open relay sockets so they can be counted and closed at shutdown.
type Hub struct {
	logger *logging.Logger
	conns  map[*wsConn]struct{}
	mu     sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger: logger,
		conns:  make(map[*wsConn]struct{}),
	}
}

// Run blocks until the context is cancelled, then closes every socket.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a socket to the hub.
func (h *Hub) Register(c *wsConn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "conn_id", c.id, "clients", h.ClientCount())
}

// Unregister removes a socket from the hub.
func (h *Hub) Unregister(c *wsConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	h.logger.Debug("websocket client disconnected", "conn_id", c.id, "clients", h.ClientCount())
}

// ClientCount returns the number of open sockets.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// closeAll asks every socket to close. Each read pump then runs the normal
// disconnect path.
func (h *Hub) closeAll() {
	h.mu.RLock()
	conns := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close() //nolint:errcheck // Close never fails
	}
}

// wsConn is one relay session over a gorilla/websocket connection.
// It implements relay.Conn.
type wsConn struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger *logging.Logger

	mu     sync.Mutex
	closed bool
}

func newWSConn(conn *websocket.Conn, sendBuffer int, logger *logging.Logger) *wsConn {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	id := uuid.NewString()
	return &wsConn{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger.With("conn_id", id),
	}
}

// ID implements relay.Conn.
func (c *wsConn) ID() string {
	return c.id
}

// Send implements relay.Conn. It never blocks: a full queue drops the frame
// and closes the connection.
func (c *wsConn) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}
	frame, err := json.Marshal(relay.Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encoding %s envelope: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.closed = true
		close(c.send)
		c.logger.Warn("websocket send buffer full, closing slow client", "event", event)
		return errSendBufferFull
	}
}

// Close implements relay.Conn. Frames already queued are written before the
// close frame. Safe to call more than once.
func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return nil
}

// handleWebSocket upgrades the HTTP connection and attaches it to the broker.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := newWSConn(conn, s.wsCfg.SendBuffer, s.logger)
	s.hub.Register(c)

	go c.writePump(s.wsCfg)
	s.broker.Connect(c)
	go s.readPump(c)
}

// readPump feeds inbound frames to the broker in arrival order. When the
// socket ends for any reason it runs the broker's disconnect exactly once.
func (s *Server) readPump(c *wsConn) {
	defer func() {
		s.broker.Disconnect(c.id)
		s.hub.Unregister(c)
		c.Close()      //nolint:errcheck // Close never fails
		c.conn.Close() //nolint:errcheck // Best-effort; the write pump may have closed it already
	}()

	if s.wsCfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	}
	pingInterval := time.Duration(s.wsCfg.PingInterval) * time.Second
	pongWait := time.Duration(s.wsCfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if the client doesn't answer protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		s.broker.HandleRaw(c.id, message)
	}
}

// writePump drains the send queue onto the socket and keeps it alive with pings.
func (c *wsConn) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // Best-effort; unblocks the read pump
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
