package room

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Socket is the transport side of a connection. *websocket.Conn satisfies
// it; tests substitute an in-memory fake.
type Socket interface {
	WriteJSON(v any) error
}

// EventHandler receives the raw payload of a client-origin event.
type EventHandler func(payload json.RawMessage)

// Connection wraps one remote participant's transport channel. It carries
// no synchronization policy; it only registers handlers for client-origin
// events and writes packets back to the participant.
type Connection struct {
	id     uuid.UUID
	sock   Socket
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[EventType][]EventHandler

	// gorilla sockets allow a single concurrent writer
	writeMu sync.Mutex
}

func NewConnection(sock Socket, logger *slog.Logger) *Connection {
	id := uuid.New()
	return &Connection{
		id:       id,
		sock:     sock,
		logger:   logger.With("connection_id", id.String()),
		handlers: make(map[EventType][]EventHandler),
	}
}

func (c *Connection) ID() uuid.UUID {
	return c.id
}

// On registers handler for the named client-origin event. Registering twice
// for the same event registers two handlers.
func (c *Connection) On(event EventType, handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

// OffAll unregisters every handler previously registered through this
// connection. Idempotent.
func (c *Connection) OffAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = make(map[EventType][]EventHandler)
}

// Dispatch invokes every handler registered for event, in registration
// order. Called by the transport read loop.
func (c *Connection) Dispatch(event EventType, payload json.RawMessage) {
	c.mu.Lock()
	handlers := make([]EventHandler, len(c.handlers[event]))
	copy(handlers, c.handlers[event])
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(payload)
	}
}

// Send delivers the payload fields plus the "type" discriminant to the
// remote party. Fire and forget: a write failure means the transport is
// gone and the disconnect path will clean up shortly.
func (c *Connection) Send(kind PacketType, payload any) {
	packet := map[string]any{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.logger.Error("failed to marshal packet payload", "packet_type", kind, "error", err)
			return
		}
		if err := json.Unmarshal(raw, &packet); err != nil {
			c.logger.Error("failed to flatten packet payload", "packet_type", kind, "error", err)
			return
		}
	}
	packet["type"] = string(kind)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.sock.WriteJSON(packet); err != nil {
		c.logger.Debug("failed to write packet", "packet_type", kind, "error", err)
	}
}

// Equals reports whether other is the same participant.
func (c *Connection) Equals(other *Connection) bool {
	return other != nil && c.id == other.id
}
