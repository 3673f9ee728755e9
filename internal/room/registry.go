package room

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aaronkirkham/youtube-sync/pkg/randstr"
	"github.com/aaronkirkham/youtube-sync/pkg/validator"
)

const defaultRoomIDLength = 7

// RegistryConfig carries the tunables every room is created with.
type RegistryConfig struct {
	RecoveryTimeout time.Duration
	RoomIDLength    int
}

// Registry owns the mapping from room ids to live rooms. It routes new
// connections to the right room, creating one when needed, and prunes rooms
// that no longer have participants.
type Registry struct {
	clock    clockwork.Clock
	validate *validator.Validator
	logger   *slog.Logger
	config   RegistryConfig

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry(clock clockwork.Clock, logger *slog.Logger, config RegistryConfig) *Registry {
	if config.RoomIDLength <= 0 {
		config.RoomIDLength = defaultRoomIDLength
	}

	return &Registry{
		clock:    clock,
		validate: validator.New(),
		logger:   logger,
		config:   config,
		rooms:    make(map[string]*Room),
	}
}

// ResolveOrCreateRoom returns the room registered under id, constructing
// and registering a new one when absent.
func (reg *Registry) ResolveOrCreateRoom(id string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	return reg.resolveOrCreateRoom(id)
}

func (reg *Registry) resolveOrCreateRoom(id string) *Room {
	if rm, ok := reg.rooms[id]; ok {
		return rm
	}

	rm := NewRoom(id, reg.clock, reg.validate, reg.logger, reg.config.RecoveryTimeout)
	reg.rooms[id] = rm
	reg.logger.Info("room created", "room_id", id)

	return rm
}

// RouteNewConnection joins conn to the room named by the referring URL.
// When the referrer carries no id, or names a room that no longer exists,
// the connection is assigned a fresh room id and told to adopt it.
func (reg *Registry) RouteNewConnection(conn *Connection, referer string) *Room {
	reg.mu.Lock()

	id := RoomIDFromReferer(referer)
	if _, ok := reg.rooms[id]; id == "" || !ok {
		id = reg.newRoomID()
		conn.Send(PacketUpdateURL, updateURLPayload{ID: id})
	}

	rm := reg.resolveOrCreateRoom(id)
	rm.Connect(conn)

	reg.mu.Unlock()
	return rm
}

// OnDisconnect removes conn from whichever room holds it and prunes the
// room once it has no participants left.
func (reg *Registry) OnDisconnect(conn *Connection) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for id, rm := range reg.rooms {
		if !rm.Contains(conn) {
			continue
		}

		rm.Disconnect(conn)

		if rm.ParticipantCount() == 0 {
			rm.Close()
			delete(reg.rooms, id)
			reg.logger.Info("room pruned", "room_id", id)
		}
		return
	}
}

// RoomCount reports how many rooms are live.
func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// Close shuts down every room, cancelling outstanding recovery timers.
func (reg *Registry) Close() {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for id, rm := range reg.rooms {
		rm.Close()
		delete(reg.rooms, id)
	}
}

// newRoomID generates a random id not already in use. Collisions are
// vanishingly rare at seven alphanumeric characters, so retrying until one
// is free is fine.
func (reg *Registry) newRoomID() string {
	for {
		id := randstr.New(reg.config.RoomIDLength)
		if _, ok := reg.rooms[id]; !ok {
			return id
		}
	}
}

// RoomIDFromReferer extracts the candidate room id from the referring URL:
// everything after the last slash.
func RoomIDFromReferer(referer string) string {
	if referer == "" {
		return ""
	}

	return referer[strings.LastIndex(referer, "/")+1:]
}
