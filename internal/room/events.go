package room

// EventType names a client-origin event carried in the "type" field of an
// inbound websocket message.
type EventType string

const (
	EventQueueAdd    EventType = "queue--add"
	EventQueueRemove EventType = "queue--remove"
	EventQueueOrder  EventType = "queue--order"
	EventQueuePlay   EventType = "queue--play"
	EventVideoUpdate EventType = "video--update"
	EventVideoRate   EventType = "video--playbackrate"
	EventVideoClock  EventType = "video--clock"
	EventVideoError  EventType = "video--error"
	EventVideoChange EventType = "video--change"
)

// PacketType names a server-origin packet. Packets are flat json objects
// with the payload fields alongside the "type" discriminant.
type PacketType string

const (
	PacketImTheHost   PacketType = "im_the_host"
	PacketRoomUpdate  PacketType = "room--update"
	PacketVideoPlay   PacketType = "video--play"
	PacketQueueAdd    PacketType = "queue--add"
	PacketQueueRemove PacketType = "queue--remove"
	PacketQueueOrder  PacketType = "queue--order"
	PacketVideoState  PacketType = "video--state"
	PacketVideoRate   PacketType = "video--playbackrate"
	PacketVideoClock  PacketType = "video--clock"
	PacketVideoEnded  PacketType = "video--ended"
	PacketUpdateURL   PacketType = "update_url"
)

// Client-origin payloads, validated at the binding boundary before they
// reach any Room method.

type QueueAddInput struct {
	SourceID  string `json:"sourceId" validate:"required"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
}

type QueueRemoveInput struct {
	ID string `json:"id" validate:"required"`
}

type QueueOrderInput struct {
	Order []string `json:"order" validate:"required"`
}

type QueuePlayInput struct {
	ID string `json:"id" validate:"required"`
}

type VideoUpdateInput struct {
	State PlayerState `json:"state"`
	Time  float64     `json:"time" validate:"gte=0"`
}

type VideoRateInput struct {
	Rate float64 `json:"rate" validate:"gt=0"`
}

type VideoClockInput struct {
	ID   string  `json:"id" validate:"required"`
	Time float64 `json:"time" validate:"gte=0"`
}

// Server-origin payloads not already covered by the Video projections.

type roomUpdatePayload struct {
	Current *VideoSnapshot `json:"current"`
	Queue   []VideoSummary `json:"queue"`
}

type queueRemovePayload struct {
	ID string `json:"id"`
}

type queueOrderPayload struct {
	Order []string `json:"order"`
}

type updateURLPayload struct {
	ID string `json:"id"`
}
