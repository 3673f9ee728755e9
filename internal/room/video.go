package room

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aaronkirkham/youtube-sync/pkg/randstr"
)

// PlayerState mirrors the YT.PlayerState codes reported by the client
// player.
type PlayerState int

const (
	StateUnstarted PlayerState = -1
	StateEnded     PlayerState = 0
	StatePlaying   PlayerState = 1
	StatePaused    PlayerState = 2
	StateBuffering PlayerState = 3
)

const videoIDLength = 7

// Video is one queued or playing item plus its live playback state. The
// sourceId, title and thumbnail are client-supplied opaque strings; only
// the id is generated server-side.
type Video struct {
	id        string
	sourceID  string
	title     string
	thumbnail string

	state        PlayerState
	time         float64
	playbackRate float64
	lastSyncedAt time.Time

	clock clockwork.Clock
}

func NewVideo(clock clockwork.Clock, in QueueAddInput) *Video {
	return &Video{
		id:           randstr.New(videoIDLength),
		sourceID:     in.SourceID,
		title:        in.Title,
		thumbnail:    in.Thumbnail,
		state:        StateUnstarted,
		playbackRate: 1,
		lastSyncedAt: clock.Now(),
		clock:        clock,
	}
}

func (v *Video) ID() string {
	return v.id
}

func (v *Video) SourceID() string {
	return v.sourceID
}

func (v *Video) State() PlayerState {
	return v.state
}

func (v *Video) SetState(state PlayerState) {
	v.state = state
}

// SetTime records the reported elapsed time and resets the extrapolation
// baseline, so drift never accumulates past one sync interval.
func (v *Video) SetTime(time float64) {
	v.time = time
	v.lastSyncedAt = v.clock.Now()
}

// CurrentTime returns the elapsed playback seconds, extrapolated from the
// last sync when the video is playing.
//
// Extrapolation runs at 1x regardless of the playback rate; the host
// resyncs often enough that the error stays under the convergence target.
func (v *Video) CurrentTime() float64 {
	if v.state != StatePlaying {
		return v.time
	}

	return v.time + v.clock.Since(v.lastSyncedAt).Seconds()
}

func (v *Video) PlaybackRate() float64 {
	return v.playbackRate
}

func (v *Video) SetPlaybackRate(rate float64) {
	v.playbackRate = rate
}

func (v *Video) HasEnded() bool {
	return v.state == StateEnded
}

// VideoSummary carries the identifying fields only. Safe to send to anyone,
// including on first join before playback has started.
type VideoSummary struct {
	ID        string `json:"id"`
	SourceID  string `json:"sourceId"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
}

// VideoSnapshot extends the summary with the live playback state. Sent once
// to a newly joined participant.
type VideoSnapshot struct {
	VideoSummary
	State PlayerState `json:"state"`
	Time  float64     `json:"time"`
	Rate  float64     `json:"rate"`
}

// VideoStateUpdate is broadcast on every state transition.
type VideoStateUpdate struct {
	ID    string      `json:"id"`
	State PlayerState `json:"state"`
	Time  float64     `json:"time"`
}

type VideoRateUpdate struct {
	ID   string  `json:"id"`
	Rate float64 `json:"rate"`
}

// VideoClockUpdate is the periodic resync packet.
type VideoClockUpdate struct {
	ID   string  `json:"id"`
	Time float64 `json:"time"`
}

func (v *Video) Summary() VideoSummary {
	return VideoSummary{
		ID:        v.id,
		SourceID:  v.sourceID,
		Title:     v.title,
		Thumbnail: v.thumbnail,
	}
}

func (v *Video) FullSnapshot() VideoSnapshot {
	return VideoSnapshot{
		VideoSummary: v.Summary(),
		State:        v.state,
		Time:         v.CurrentTime(),
		Rate:         v.playbackRate,
	}
}

func (v *Video) StateUpdate() VideoStateUpdate {
	return VideoStateUpdate{
		ID:    v.id,
		State: v.state,
		Time:  v.CurrentTime(),
	}
}

func (v *Video) RateUpdate() VideoRateUpdate {
	return VideoRateUpdate{
		ID:   v.id,
		Rate: v.playbackRate,
	}
}

func (v *Video) ClockUpdate() VideoClockUpdate {
	return VideoClockUpdate{
		ID:   v.id,
		Time: v.CurrentTime(),
	}
}
