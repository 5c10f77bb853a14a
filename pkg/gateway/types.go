package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventMessage is one server-initiated event pushed to consumers
type EventMessage struct {
	Type      string          `json:"type"`
	Event     string          `json:"event"`
	Seq       int64           `json:"seq"`
	Data      json.RawMessage `json:"data"`
	SessionID string          `json:"session_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// QueryRequest starts a new session
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryResponse acknowledges a started session
type QueryResponse struct {
	SessionID string `json:"session_id"`
}

// Client represents one connected websocket consumer
type Client struct {
	ID          string
	ConnectedAt time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex
}

// WriteMessage writes one message to the client, serializing writers
func (c *Client) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// Close closes the underlying connection
func (c *Client) Close() error {
	return c.conn.Close()
}
