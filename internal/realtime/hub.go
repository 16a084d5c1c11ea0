package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// readTimeout is the idle deadline for client connections, extended on pong.
const readTimeout = 60 * time.Second

// Hub tracks WebSocket connections per quiz-date topic and fans broadcast
// payloads out to them.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[uuid.UUID]*Connection
	logger zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[uuid.UUID]*Connection),
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

// Subscribe attaches a connection to a topic, replacing any previous
// connection for the same subscriber.
func (h *Hub) Subscribe(topic string, subscriber uuid.UUID, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.topics[topic]
	if conns == nil {
		conns = make(map[uuid.UUID]*Connection)
		h.topics[topic] = conns
	}
	if old, exists := conns[subscriber]; exists {
		old.Close()
	}
	conns[subscriber] = conn
	h.logger.Debug().Str("topic", topic).Str("subscriber", subscriber.String()).Msg("subscribed")
}

// Unsubscribe detaches and closes a subscriber's connection.
func (h *Hub) Unsubscribe(topic string, subscriber uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, exists := h.topics[topic]; exists {
		if conn, ok := conns[subscriber]; ok {
			conn.Close()
			delete(conns, subscriber)
		}
		if len(conns) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Broadcast sends a raw JSON payload to every subscriber of a topic.
func (h *Hub) Broadcast(topic string, payload json.RawMessage) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.topics[topic]))
	for _, conn := range h.topics[topic] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Send(payload); err != nil {
			h.logger.Warn().Err(err).Str("topic", topic).Msg("broadcast send failed")
		}
	}
}

// SubscriberCount returns how many connections a topic has.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Connection wraps a WebSocket with a buffered send queue so slow clients
// cannot block a broadcast.
type Connection struct {
	conn   *websocket.Conn
	sendCh chan json.RawMessage
	mu     sync.Mutex
	closed bool
	logger zerolog.Logger
}

// NewConnection wraps an upgraded WebSocket.
func NewConnection(conn *websocket.Conn, logger zerolog.Logger) *Connection {
	return &Connection{
		conn:   conn,
		sendCh: make(chan json.RawMessage, 64),
		logger: logger,
	}
}

// Send queues a payload for delivery. Returns an error when the connection
// is closed or the queue is full.
func (c *Connection) Send(payload json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.sendCh <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close shuts the connection down; safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.sendCh)
	c.conn.Close()
}

// WritePump drains the send queue onto the socket.
func (c *Connection) WritePump() {
	defer c.conn.Close()
	for payload := range c.sendCh {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.logger.Warn().Err(err).Msg("write error")
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// ReadPump keeps the connection alive until the client goes away. Clients
// only listen on this socket; inbound frames are discarded.
func (c *Connection) ReadPump(onClose func()) {
	defer func() {
		c.conn.Close()
		if onClose != nil {
			onClose()
		}
	}()

	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("read error")
			}
			return
		}
	}
}

// Upgrader configures the WebSocket handshake.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

var (
	ErrConnectionClosed = &Error{Code: "connection_closed", Message: "connection is closed"}
	ErrSendQueueFull    = &Error{Code: "send_queue_full", Message: "send queue is full"}
)

// Error is a hub-level transport error.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
