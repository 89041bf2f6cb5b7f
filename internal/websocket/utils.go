package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn wraps a connection with a write lock. The hub pump and the read loop
// both produce outbound frames, and gorilla permits at most one concurrent
// writer per connection.
type Conn struct {
	mu  sync.Mutex
	raw *websocket.Conn
}

// NewConn wraps an upgraded connection.
func NewConn(raw *websocket.Conn) *Conn {
	return &Conn{raw: raw}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.raw.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (c *Conn) WriteError(errMsg string) error {
	return c.WriteTyped(ErrorResponse{
		Event: EventError,
		Error: errMsg,
	})
}

// WriteAck confirms an accepted action.
func (c *Conn) WriteAck(action Action) error {
	return c.WriteTyped(AckResponse{Event: EventAck, Action: action})
}

// ReadJSON reads and decodes a message into the provided structure. Reads
// take no lock; the read loop is the connection's only reader.
func (c *Conn) ReadJSON(v interface{}) error {
	c.raw.SetReadDeadline(time.Now().Add(5 * time.Minute))
	return c.raw.ReadJSON(v)
}
