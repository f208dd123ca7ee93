package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrConnClosed is returned when sending on a closed connection.
var ErrConnClosed = errors.New("connection closed")

// writeWait bounds every socket write so teardown never blocks on a dead peer.
const writeWait = 10 * time.Second

// Conn is one open realtime connection. It is owned exclusively by its
// session; the registry only holds references for fan-out. All writes are
// serialized through the internal mutex so the reader goroutine and the
// relay listener never interleave frames.
type Conn struct {
	ID             string
	UserID         string
	ConversationID string
	ConnectedAt    time.Time

	socket *websocket.Conn
	mu     sync.Mutex
	closed bool
}

// NewConn wraps an upgraded WebSocket for a user in a conversation.
func NewConn(socket *websocket.Conn, conversationID, userID string) *Conn {
	return &Conn{
		ID:             uuid.New().String(),
		UserID:         userID,
		ConversationID: conversationID,
		ConnectedAt:    time.Now(),
		socket:         socket,
	}
}

// Send marshals an outbound frame and writes it to the socket. Thread-safe.
func (c *Conn) Send(frame Outbound) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw writes a pre-encoded payload verbatim. Relay deliveries use it
// so the envelope published by another instance reaches the client unchanged.
func (c *Conn) SendRaw(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.socket.WriteMessage(websocket.TextMessage, payload)
}

// ReadMessage blocks on the next client frame. idleTimeout > 0 arms a
// read deadline that is re-armed on every call.
func (c *Conn) ReadMessage(idleTimeout time.Duration) ([]byte, error) {
	if idleTimeout > 0 {
		c.socket.SetReadDeadline(time.Now().Add(idleTimeout))
	}
	_, data, err := c.socket.ReadMessage()
	return data, err
}

// CloseWithCode sends a close frame with the given status code and reason,
// then closes the socket.
func (c *Conn) CloseWithCode(code int, reason string) error {
	c.mu.Lock()
	if !c.closed {
		c.socket.SetWriteDeadline(time.Now().Add(writeWait))
		c.socket.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason))
	}
	c.mu.Unlock()
	return c.Close()
}

// Close closes the underlying socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.socket.Close()
}
