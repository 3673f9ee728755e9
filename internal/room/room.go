package room

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aaronkirkham/youtube-sync/pkg/validator"
)

// ErrChangeVideoRemoved marks the old change-video path as intentionally
// unsupported. Promoting a queued video goes through QueuePlay; anything
// still sending video--change is a programming error on the caller side.
var ErrChangeVideoRemoved = errors.New("video--change is no longer supported, use queue--play")

// DefaultRecoveryTimeout is how long a room waits after a reported playback
// fault before skipping to the next queued video.
const DefaultRecoveryTimeout = 3500 * time.Millisecond

// Room tracks the participants watching one shared queue and keeps their
// players in lock-step. All synchronization policy lives here: host
// authority, queue order, clock extrapolation and stuck-video recovery.
//
// Every exported method serializes on the room mutex, so no two handlers
// for the same room ever interleave.
type Room struct {
	id       string
	clock    clockwork.Clock
	validate *validator.Validator
	logger   *slog.Logger

	recoveryTimeout time.Duration

	mu           sync.Mutex
	host         *Connection
	participants []*Connection
	current      *Video
	queue        []*Video
	errored      bool
	recovery     clockwork.Timer
	closed       bool
}

func NewRoom(id string, clock clockwork.Clock, validate *validator.Validator, logger *slog.Logger, recoveryTimeout time.Duration) *Room {
	if recoveryTimeout <= 0 {
		recoveryTimeout = DefaultRecoveryTimeout
	}

	return &Room{
		id:              id,
		clock:           clock,
		validate:        validate,
		logger:          logger.With("room_id", id),
		recoveryTimeout: recoveryTimeout,
	}
}

func (r *Room) ID() string {
	return r.id
}

// Connect registers conn as a participant. The first joiner becomes the
// host; everyone else receives a snapshot of the room so their player can
// catch up.
func (r *Room) Connect(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.participants) == 0 {
		r.host = conn
		r.host.Send(PacketImTheHost, nil)
	}

	r.participants = append(r.participants, conn)
	r.subscribe(conn)

	// a brand-new room has nothing worth sending
	if r.current != nil || len(r.queue) > 0 {
		update := roomUpdatePayload{
			Queue: make([]VideoSummary, 0, len(r.queue)),
		}
		if r.current != nil {
			snapshot := r.current.FullSnapshot()
			update.Current = &snapshot
		}
		for _, video := range r.queue {
			update.Queue = append(update.Queue, video.Summary())
		}

		conn.Send(PacketRoomUpdate, update)
	}

	r.logger.Info("participant connected", "connection_id", conn.ID(), "participants", len(r.participants))
}

// Disconnect removes conn from the room, promoting a new host if the host
// left. Which remaining participant becomes host is an implementation
// detail; callers must only rely on there being exactly one.
func (r *Room) Disconnect(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn.OffAll()

	for i, participant := range r.participants {
		if participant.Equals(conn) {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			break
		}
	}

	if r.host != nil && r.host.Equals(conn) {
		r.host = nil
		if len(r.participants) > 0 {
			r.host = r.participants[0]
			r.host.Send(PacketImTheHost, nil)
			r.logger.Info("host left, promoted new host", "connection_id", r.host.ID())
		}
	}

	r.logger.Info("participant disconnected", "connection_id", conn.ID(), "participants", len(r.participants))
}

// QueueAdd builds a new video from in. It starts playing immediately when
// nothing is current (or the current video already ended), otherwise it
// joins the tail of the queue.
func (r *Room) QueueAdd(conn *Connection, in QueueAddInput) {
	r.mu.Lock()
	defer r.mu.Unlock()

	video := NewVideo(r.clock, in)

	if r.current != nil && !r.current.HasEnded() {
		r.queue = append(r.queue, video)
		r.broadcast(PacketQueueAdd, video.Summary(), nil)
		r.logger.Debug("video queued", "video_id", video.ID(), "source_id", video.SourceID())

		// a fresh queue item resolves a stalled playback without waiting
		// for the recovery timeout
		if r.errored && r.recovery == nil {
			r.nextVideo(r.host)
		}
		return
	}

	r.current = video
	r.clearError()
	r.broadcast(PacketVideoPlay, video.Summary(), nil)
	r.logger.Debug("video playing", "video_id", video.ID(), "source_id", video.SourceID())
}

// QueueRemove drops the identified video from the queue. Unknown ids are
// ignored.
func (r *Room) QueueRemove(conn *Connection, in QueueRemoveInput) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.queueRemove(in.ID)
}

func (r *Room) queueRemove(id string) {
	for i, video := range r.queue {
		if video.ID() == id {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			r.broadcast(PacketQueueRemove, queueRemovePayload{ID: id}, nil)
			return
		}
	}
}

// QueueOrder re-sorts the queue to match the given id order. Ids missing
// from the list sort last, keeping their relative position.
func (r *Room) QueueOrder(conn *Connection, in QueueOrderInput) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rank := make(map[string]int, len(in.Order))
	for i, id := range in.Order {
		rank[id] = i
	}

	sort.SliceStable(r.queue, func(i, j int) bool {
		ri, ok := rank[r.queue[i].ID()]
		if !ok {
			ri = len(in.Order)
		}
		rj, ok := rank[r.queue[j].ID()]
		if !ok {
			rj = len(in.Order)
		}
		return ri < rj
	})

	r.broadcast(PacketQueueOrder, queueOrderPayload{Order: in.Order}, conn)
}

// QueuePlay promotes the identified queued video to current playback.
// Unknown ids are ignored.
func (r *Room) QueuePlay(conn *Connection, in QueuePlayInput) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, video := range r.queue {
		if video.ID() == in.ID {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			r.current = video
			r.clearError()
			r.broadcast(PacketQueueRemove, queueRemovePayload{ID: video.ID()}, nil)
			r.broadcast(PacketVideoPlay, video.Summary(), nil)
			return
		}
	}
}

// UpdateVideo applies a reported player state transition. Any participant's
// update is honored, not just the host's: a viewer skipping ahead should
// reflect for all.
// TODO: tighten permissions once the client exposes per-member roles.
func (r *Room) UpdateVideo(conn *Connection, in VideoUpdateInput) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return
	}

	r.current.SetState(in.State)

	switch in.State {
	case StateEnded:
		r.current.SetTime(0)
		r.current.SetPlaybackRate(1)
		// skipping stays host-gated even though state updates are not
		r.nextVideo(r.host)

	case StatePlaying, StatePaused:
		r.setTimeAndBroadcastClock(in.Time)
	}

	if in.State != StateEnded {
		r.broadcast(PacketVideoState, r.current.StateUpdate(), conn)
	}
}

// UpdateVideoPlaybackRate applies a reported playback rate change.
func (r *Room) UpdateVideoPlaybackRate(conn *Connection, in VideoRateInput) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return
	}

	r.current.SetPlaybackRate(in.Rate)
	r.broadcast(PacketVideoRate, r.current.RateUpdate(), conn)
}

// NextVideo advances to the head of the queue. Only the host may skip.
func (r *Room) NextVideo(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextVideo(conn)
}

func (r *Room) nextVideo(acting *Connection) {
	if r.host == nil || !r.host.Equals(acting) {
		return
	}

	if len(r.queue) == 0 {
		r.broadcast(PacketVideoEnded, nil, nil)
		return
	}

	next := r.queue[0]
	r.queue = r.queue[1:]
	r.current = next
	r.clearError()

	r.broadcast(PacketVideoPlay, next.Summary(), nil)
	r.broadcast(PacketQueueRemove, queueRemovePayload{ID: next.ID()}, nil)
	r.logger.Debug("advanced to next video", "video_id", next.ID(), "queued", len(r.queue))
}

// SyncClock accepts the host's reported playback position. Packets from
// non-hosts, or ones referencing a superseded video, are ignored.
func (r *Room) SyncClock(conn *Connection, in VideoClockInput) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.host == nil || !r.host.Equals(conn) || r.current == nil {
		return
	}

	if r.current.ID() != in.ID {
		r.logger.Debug("ignoring clock update for a superseded video", "video_id", in.ID)
		return
	}

	r.setTimeAndBroadcastClock(in.Time)
}

func (r *Room) setTimeAndBroadcastClock(time float64) {
	r.current.SetTime(time)
	// the host already knows its own position
	r.broadcast(PacketVideoClock, r.current.ClockUpdate(), r.host)
}

// HandleVideoError records a client-reported playback fault and, when there
// is something queued to fall back to, arms a one-shot timer that skips the
// stuck video. Idempotent while the room is already recovering.
func (r *Room) HandleVideoError(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.host == nil || !r.host.Equals(conn) {
		return
	}

	if r.errored {
		return
	}

	r.errored = true
	r.logger.Warn("playback fault reported", "connection_id", conn.ID())

	if len(r.queue) > 0 {
		r.armRecoveryTimer()
	}
}

func (r *Room) armRecoveryTimer() {
	if r.recovery != nil {
		r.recovery.Stop()
	}

	r.recovery = r.clock.AfterFunc(r.recoveryTimeout, func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.closed || !r.errored {
			return
		}

		r.recovery = nil
		r.logger.Info("recovery timeout elapsed, skipping stuck video")
		r.nextVideo(r.host)
	})
}

// clearError cancels any pending recovery timer. Invoked by every operation
// that successfully starts new content.
func (r *Room) clearError() {
	if r.recovery != nil {
		r.recovery.Stop()
		r.recovery = nil
	}
	r.errored = false
}

// ChangeVideo is the removed promote-without-dequeue path.
func (r *Room) ChangeVideo(conn *Connection, id string) error {
	return ErrChangeVideoRemoved
}

// broadcast sends payload tagged kind to every participant except excluded.
// This is the sole fan-out primitive; callers must hold the room mutex.
func (r *Room) broadcast(kind PacketType, payload any, excluded *Connection) {
	for _, participant := range r.participants {
		if participant.Equals(excluded) {
			continue
		}
		participant.Send(kind, payload)
	}
}

// subscribe wires the client-origin events of conn to the room methods.
// Payloads are decoded and validated here, so the methods above always
// receive well-formed input.
func (r *Room) subscribe(conn *Connection) {
	conn.On(EventQueueAdd, func(raw json.RawMessage) {
		if in, ok := decode[QueueAddInput](r, EventQueueAdd, raw); ok {
			r.QueueAdd(conn, in)
		}
	})
	conn.On(EventQueueRemove, func(raw json.RawMessage) {
		if in, ok := decode[QueueRemoveInput](r, EventQueueRemove, raw); ok {
			r.QueueRemove(conn, in)
		}
	})
	conn.On(EventQueueOrder, func(raw json.RawMessage) {
		if in, ok := decode[QueueOrderInput](r, EventQueueOrder, raw); ok {
			r.QueueOrder(conn, in)
		}
	})
	conn.On(EventQueuePlay, func(raw json.RawMessage) {
		if in, ok := decode[QueuePlayInput](r, EventQueuePlay, raw); ok {
			r.QueuePlay(conn, in)
		}
	})
	conn.On(EventVideoUpdate, func(raw json.RawMessage) {
		if in, ok := decode[VideoUpdateInput](r, EventVideoUpdate, raw); ok {
			r.UpdateVideo(conn, in)
		}
	})
	conn.On(EventVideoRate, func(raw json.RawMessage) {
		if in, ok := decode[VideoRateInput](r, EventVideoRate, raw); ok {
			r.UpdateVideoPlaybackRate(conn, in)
		}
	})
	conn.On(EventVideoClock, func(raw json.RawMessage) {
		if in, ok := decode[VideoClockInput](r, EventVideoClock, raw); ok {
			r.SyncClock(conn, in)
		}
	})
	conn.On(EventVideoError, func(json.RawMessage) {
		r.HandleVideoError(conn)
	})
	conn.On(EventVideoChange, func(json.RawMessage) {
		if err := r.ChangeVideo(conn, ""); err != nil {
			r.logger.Error("rejected client event", "event", EventVideoChange, "error", err)
		}
	})
}

func decode[T any](r *Room, event EventType, raw json.RawMessage) (T, bool) {
	var in T
	if err := json.Unmarshal(raw, &in); err != nil {
		r.logger.Debug("failed to decode event payload", "event", event, "error", err)
		return in, false
	}

	if validationErrors, ok := r.validate.Validate(in); !ok {
		r.logger.Debug("dropping invalid event payload", "event", event, "errors", validationErrors)
		return in, false
	}

	return in, true
}

// Close cancels the outstanding recovery timer. The registry calls it when
// it prunes an empty room, so no callback ever runs against destroyed
// state.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.clearError()
}

// ParticipantCount reports how many connections are in the room.
func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// Contains reports whether conn is a participant of the room.
func (r *Room) Contains(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, participant := range r.participants {
		if participant.Equals(conn) {
			return true
		}
	}
	return false
}

// Host returns the authoritative participant, or nil for an empty room.
func (r *Room) Host() *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.host
}

// CurrentVideo returns the video considered now playing, or nil.
func (r *Room) CurrentVideo() *Video {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// QueueIDs returns the queued video ids in play order.
func (r *Room) QueueIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.queue))
	for _, video := range r.queue {
		ids = append(ids, video.ID())
	}
	return ids
}

// Errored reports whether the room is in playback fault recovery.
func (r *Room) Errored() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errored
}
