// Package gateway re-publishes the session state produced by the
// streaming client to external websocket consumers. It is the one
// consumer-facing surface of the bridge; rendering stays with the
// consumers themselves.
package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/okizar/swarmtap/pkg/stream"
)

// EventBroadcaster pushes every applied domain event to all connected
// consumers. It implements events.Observer, so it sees frames in exactly
// the order they were applied to the state store.
type EventBroadcaster struct {
	clients   *ClientRegistry
	logger    zerolog.Logger
	seq       uint64
	sessionID atomic.Value // string
}

// NewEventBroadcaster creates a broadcaster over the registry
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	b := &EventBroadcaster{
		clients: clients,
		logger:  logger,
	}
	b.sessionID.Store("")
	return b
}

// SetSessionID tags subsequent broadcasts with the active session id
func (b *EventBroadcaster) SetSessionID(id string) {
	b.sessionID.Store(id)
}

// EventApplied broadcasts one applied frame to all consumers
func (b *EventBroadcaster) EventApplied(frame stream.Frame) {
	sessionID, _ := b.sessionID.Load().(string)
	msg := EventMessage{
		Type:      "event",
		Event:     frame.Type,
		Seq:       int64(atomic.AddUint64(&b.seq, 1)),
		Data:      frame.Payload,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", msg.Event).Msg("Failed to marshal event")
		return
	}

	clients := b.clients.All()
	if len(clients) == 0 {
		return
	}

	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			b.logger.Warn().
				Err(err).
				Str("client_id", client.ID).
				Str("event", msg.Event).
				Msg("Failed to broadcast to client")
		}
	}
}
