package room

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronkirkham/youtube-sync/pkg/validator"
)

func newTestRoom(clock clockwork.Clock) *Room {
	return NewRoom("testroom", clock, validator.New(), testLogger(), 0)
}

// join connects n fresh participants. The first one is the host.
func join(r *Room, n int) ([]*Connection, []*fakeSocket) {
	conns := make([]*Connection, n)
	socks := make([]*fakeSocket, n)
	for i := range conns {
		conns[i], socks[i] = newTestConnection()
		r.Connect(conns[i])
	}
	return conns, socks
}

func TestFirstJoinerBecomesHost(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, socks := join(r, 2)

	assert.True(t, r.Host().Equals(conns[0]))
	assert.Len(t, socks[0].ofType(PacketImTheHost), 1)
	assert.Empty(t, socks[1].ofType(PacketImTheHost))

	// a brand-new room sends nothing beyond the host assignment
	assert.Equal(t, 1, socks[0].count())
	assert.Equal(t, 0, socks[1].count())
}

func TestQueueAddIntoEmptyRoomPlaysImmediately(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, socks := join(r, 2)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "12345", Title: "testing"})

	current := r.CurrentVideo()
	require.NotNil(t, current)
	assert.Equal(t, "12345", current.SourceID())
	assert.Empty(t, r.QueueIDs())

	for _, sock := range socks {
		plays := sock.ofType(PacketVideoPlay)
		require.Len(t, plays, 1)
		assert.Equal(t, "12345", plays[0]["sourceId"])
		assert.Equal(t, "testing", plays[0]["title"])
	}
}

func TestQueueAddAppendsWhilePlaying(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, socks := join(r, 2)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "0", Title: "Current"})
	for _, title := range []string{"First", "Second", "Third"} {
		r.QueueAdd(conns[0], QueueAddInput{SourceID: title, Title: title})
	}

	assert.Len(t, r.QueueIDs(), 3)

	added := socks[1].ofType(PacketQueueAdd)
	require.Len(t, added, 3)
	assert.Equal(t, "First", added[0]["title"])
	assert.Equal(t, "Second", added[1]["title"])
	assert.Equal(t, "Third", added[2]["title"])
}

func TestQueueAddAfterCurrentEndedReplacesCurrent(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, _ := join(r, 1)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "first"})
	r.CurrentVideo().SetState(StateEnded)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "second"})

	assert.Equal(t, "second", r.CurrentVideo().SourceID())
	assert.Empty(t, r.QueueIDs())
}

func TestQueueRemove(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, socks := join(r, 2)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "0"})
	r.QueueAdd(conns[0], QueueAddInput{SourceID: "1"})
	r.QueueAdd(conns[0], QueueAddInput{SourceID: "2"})

	ids := r.QueueIDs()
	require.Len(t, ids, 2)

	r.QueueRemove(conns[1], QueueRemoveInput{ID: ids[0]})
	assert.Equal(t, []string{ids[1]}, r.QueueIDs())

	removed := socks[0].ofType(PacketQueueRemove)
	require.Len(t, removed, 1)
	assert.Equal(t, ids[0], removed[0]["id"])

	// unknown ids are a silent no-op
	r.QueueRemove(conns[1], QueueRemoveInput{ID: "nope"})
	assert.Equal(t, []string{ids[1]}, r.QueueIDs())
	assert.Len(t, socks[0].ofType(PacketQueueRemove), 1)
}

func TestQueueOrderReverses(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, socks := join(r, 2)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "0"})
	for i := 1; i <= 3; i++ {
		r.QueueAdd(conns[0], QueueAddInput{SourceID: fmt.Sprint(i)})
	}

	ids := r.QueueIDs()
	require.Len(t, ids, 3)

	reversed := []string{ids[2], ids[1], ids[0]}
	r.QueueOrder(conns[0], QueueOrderInput{Order: reversed})

	assert.Equal(t, reversed, r.QueueIDs())

	// the sender already knows the order it asked for
	assert.Empty(t, socks[0].ofType(PacketQueueOrder))
	orders := socks[1].ofType(PacketQueueOrder)
	require.Len(t, orders, 1)
}

func TestQueueOrderIsIdempotentAndAPermutation(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, _ := join(r, 1)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "0"})
	for i := 1; i <= 3; i++ {
		r.QueueAdd(conns[0], QueueAddInput{SourceID: fmt.Sprint(i)})
	}

	before := r.QueueIDs()
	r.QueueOrder(conns[0], QueueOrderInput{Order: before})
	assert.Equal(t, before, r.QueueIDs(), "a no-op order must not change the queue")

	shuffled := []string{before[1], before[2], before[0]}
	r.QueueOrder(conns[0], QueueOrderInput{Order: shuffled})
	assert.Equal(t, shuffled, r.QueueIDs())
	assert.ElementsMatch(t, before, r.QueueIDs(), "reordering must be a pure permutation")
}

func TestQueueOrderUnknownIDsSortLast(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, _ := join(r, 1)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "0"})
	for i := 1; i <= 3; i++ {
		r.QueueAdd(conns[0], QueueAddInput{SourceID: fmt.Sprint(i)})
	}

	ids := r.QueueIDs()
	// only name the last video; the unnamed two keep their relative order
	r.QueueOrder(conns[0], QueueOrderInput{Order: []string{ids[2]}})

	assert.Equal(t, []string{ids[2], ids[0], ids[1]}, r.QueueIDs())
}

func TestQueuePlayPromotesByID(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, socks := join(r, 2)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "0"})
	r.QueueAdd(conns[0], QueueAddInput{SourceID: "1"})
	r.QueueAdd(conns[0], QueueAddInput{SourceID: "2"})

	ids := r.QueueIDs()
	r.QueuePlay(conns[1], QueuePlayInput{ID: ids[1]})

	assert.Equal(t, "2", r.CurrentVideo().SourceID())
	assert.Equal(t, []string{ids[0]}, r.QueueIDs())

	plays := socks[1].ofType(PacketVideoPlay)
	require.Len(t, plays, 2) // initial video + promotion
	assert.Equal(t, ids[1], plays[1]["id"])

	// unknown ids are a silent no-op
	r.QueuePlay(conns[1], QueuePlayInput{ID: "nope"})
	assert.Equal(t, "2", r.CurrentVideo().SourceID())
}

func TestNextVideoIsHostGated(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, _ := join(r, 2)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "0"})
	r.QueueAdd(conns[0], QueueAddInput{SourceID: "1"})

	current := r.CurrentVideo()
	queued := r.QueueIDs()

	r.NextVideo(conns[1])
	assert.Same(t, current, r.CurrentVideo(), "a non-host skip must not mutate current")
	assert.Equal(t, queued, r.QueueIDs())

	r.NextVideo(conns[0])
	assert.Equal(t, "1", r.CurrentVideo().SourceID())
	assert.Empty(t, r.QueueIDs())
}

func TestNextVideoWithEmptyQueueBroadcastsEnded(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, socks := join(r, 2)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "0"})
	current := r.CurrentVideo()

	r.NextVideo(conns[0])

	assert.Same(t, current, r.CurrentVideo())
	for _, sock := range socks {
		assert.Len(t, sock.ofType(PacketVideoEnded), 1)
	}
}

func TestUpdateVideoBroadcastsStateToOthers(t *testing.T) {
	fc := clockwork.NewFakeClock()
	r := newTestRoom(fc)
	conns, socks := join(r, 3)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "0"})

	r.UpdateVideo(conns[0], VideoUpdateInput{State: StatePlaying, Time: 12})

	assert.Equal(t, StatePlaying, r.CurrentVideo().State())
	assert.Equal(t, 12.0, r.CurrentVideo().CurrentTime())

	assert.Empty(t, socks[0].ofType(PacketVideoState), "sender is excluded")
	for _, sock := range socks[1:] {
		states := sock.ofType(PacketVideoState)
		require.Len(t, states, 1)
		assert.Equal(t, float64(StatePlaying), states[0]["state"])
		assert.Equal(t, 12.0, states[0]["time"])

		// playing and paused updates also resync the clock
		clocks := sock.ofType(PacketVideoClock)
		require.Len(t, clocks, 1)
		assert.Equal(t, 12.0, clocks[0]["time"])
	}
}

func TestUpdateVideoEndedAdvancesQueue(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, socks := join(r, 2)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "0"})
	r.QueueAdd(conns[0], QueueAddInput{SourceID: "1"})

	// any participant's ended report advances the queue
	r.UpdateVideo(conns[1], VideoUpdateInput{State: StateEnded})

	assert.Equal(t, "1", r.CurrentVideo().SourceID())
	assert.Empty(t, r.QueueIDs())
	assert.Empty(t, socks[1].ofType(PacketVideoState), "no state packet after ended")
}

func TestUpdateVideoWithoutCurrentIsNoop(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, socks := join(r, 2)

	r.UpdateVideo(conns[0], VideoUpdateInput{State: StatePlaying, Time: 5})

	assert.Nil(t, r.CurrentVideo())
	assert.Empty(t, socks[1].ofType(PacketVideoState))
}

func TestUpdateVideoPlaybackRate(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, socks := join(r, 3)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "0"})

	r.UpdateVideoPlaybackRate(conns[1], VideoRateInput{Rate: 1.5})

	assert.Equal(t, 1.5, r.CurrentVideo().PlaybackRate())
	assert.Empty(t, socks[1].ofType(PacketVideoRate), "sender is excluded")
	for _, sock := range []*fakeSocket{socks[0], socks[2]} {
		rates := sock.ofType(PacketVideoRate)
		require.Len(t, rates, 1)
		assert.Equal(t, 1.5, rates[0]["rate"])
	}
}

func TestSyncClock(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, socks := join(r, 3)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "0"})
	current := r.CurrentVideo()

	// non-hosts cannot sync the clock
	r.SyncClock(conns[1], VideoClockInput{ID: current.ID(), Time: 50})
	assert.Equal(t, 0.0, current.CurrentTime())

	// stale packets referencing a superseded video are ignored
	r.SyncClock(conns[0], VideoClockInput{ID: "stale00", Time: 50})
	assert.Equal(t, 0.0, current.CurrentTime())

	r.SyncClock(conns[0], VideoClockInput{ID: current.ID(), Time: 50})
	assert.Equal(t, 50.0, current.CurrentTime())

	// the host already knows its own position
	assert.Empty(t, socks[0].ofType(PacketVideoClock))
	for _, sock := range socks[1:] {
		clocks := sock.ofType(PacketVideoClock)
		require.Len(t, clocks, 1)
		assert.Equal(t, 50.0, clocks[0]["time"])
	}
}

func TestHostFailover(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, socks := join(r, 3)

	r.Disconnect(conns[0])

	newHost := r.Host()
	require.NotNil(t, newHost, "a new host must be promoted")
	assert.False(t, newHost.Equals(conns[0]))

	promotions := 0
	for _, sock := range socks[1:] {
		promotions += len(sock.ofType(PacketImTheHost))
	}
	assert.Equal(t, 1, promotions, "exactly one remaining participant becomes host")
}

func TestDisconnectNonHostKeepsHost(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, _ := join(r, 3)

	r.Disconnect(conns[1])

	assert.True(t, r.Host().Equals(conns[0]))
	assert.Equal(t, 2, r.ParticipantCount())
}

func TestDisconnectLastParticipantLeavesRoomEmpty(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, _ := join(r, 1)

	r.Disconnect(conns[0])

	assert.Equal(t, 0, r.ParticipantCount())
	assert.Nil(t, r.Host())
}

func TestJoinReceivesRoomSnapshot(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, _ := join(r, 1)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "3"})
	r.QueueAdd(conns[0], QueueAddInput{SourceID: "4"})

	late, sock := newTestConnection()
	r.Connect(late)

	updates := sock.ofType(PacketRoomUpdate)
	require.Len(t, updates, 1, "exactly one snapshot per join")

	current, ok := updates[0]["current"].(map[string]any)
	require.True(t, ok, "current must be an object")
	assert.Equal(t, "3", current["sourceId"])

	queue, ok := updates[0]["queue"].([]any)
	require.True(t, ok, "queue must be an array")
	require.Len(t, queue, 1)
	assert.Equal(t, "4", queue[0].(map[string]any)["sourceId"])
}

func TestErrorRecoveryPromotesQueueHead(t *testing.T) {
	fc := clockwork.NewFakeClock()
	r := newTestRoom(fc)
	conns, _ := join(r, 2)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "stuck"})
	r.QueueAdd(conns[0], QueueAddInput{SourceID: "fallback"})
	require.Len(t, r.QueueIDs(), 1)

	r.HandleVideoError(conns[0])
	assert.True(t, r.Errored())
	assert.Equal(t, "stuck", r.CurrentVideo().SourceID(), "nothing happens before the timeout")

	fc.Advance(4 * time.Second)

	assert.Eventually(t, func() bool {
		return r.CurrentVideo().SourceID() == "fallback"
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, r.QueueIDs())
	assert.False(t, r.Errored())
}

func TestErrorRecoveryIsHostGated(t *testing.T) {
	fc := clockwork.NewFakeClock()
	r := newTestRoom(fc)
	conns, _ := join(r, 2)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "stuck"})
	r.QueueAdd(conns[0], QueueAddInput{SourceID: "fallback"})

	r.HandleVideoError(conns[1])

	assert.False(t, r.Errored())
	fc.Advance(4 * time.Second)
	assert.Equal(t, "stuck", r.CurrentVideo().SourceID())
}

func TestErrorRecoveryCancelledByQueuePlay(t *testing.T) {
	fc := clockwork.NewFakeClock()
	r := newTestRoom(fc)
	conns, _ := join(r, 1)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "stuck"})
	r.QueueAdd(conns[0], QueueAddInput{SourceID: "a"})
	r.QueueAdd(conns[0], QueueAddInput{SourceID: "b"})

	r.HandleVideoError(conns[0])

	ids := r.QueueIDs()
	r.QueuePlay(conns[0], QueuePlayInput{ID: ids[1]})
	assert.False(t, r.Errored())
	assert.Equal(t, "b", r.CurrentVideo().SourceID())

	// the pending timer must not fire against the new content
	fc.Advance(10 * time.Second)
	assert.Equal(t, "b", r.CurrentVideo().SourceID())
	assert.Equal(t, []string{ids[0]}, r.QueueIDs())
}

func TestQueueAddSelfHealsStalledRoom(t *testing.T) {
	fc := clockwork.NewFakeClock()
	r := newTestRoom(fc)
	conns, _ := join(r, 1)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "stuck"})

	// empty queue: error state without a recovery timer
	r.HandleVideoError(conns[0])
	require.True(t, r.Errored())

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "fresh"})

	assert.Equal(t, "fresh", r.CurrentVideo().SourceID())
	assert.Empty(t, r.QueueIDs())
	assert.False(t, r.Errored())
}

func TestHandleVideoErrorIsIdempotent(t *testing.T) {
	fc := clockwork.NewFakeClock()
	r := newTestRoom(fc)
	conns, _ := join(r, 1)

	r.QueueAdd(conns[0], QueueAddInput{SourceID: "stuck"})
	r.QueueAdd(conns[0], QueueAddInput{SourceID: "fallback"})

	r.HandleVideoError(conns[0])
	r.HandleVideoError(conns[0])

	fc.Advance(4 * time.Second)
	assert.Eventually(t, func() bool {
		return r.CurrentVideo().SourceID() == "fallback"
	}, time.Second, 10*time.Millisecond)
}

func TestChangeVideoFailsLoudly(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, _ := join(r, 1)

	err := r.ChangeVideo(conns[0], "whatever")
	assert.ErrorIs(t, err, ErrChangeVideoRemoved)
}

func TestDispatchRoutesClientEvents(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, _ := join(r, 1)

	conns[0].Dispatch(EventQueueAdd, []byte(`{"type":"queue--add","sourceId":"12345","title":"testing"}`))

	require.NotNil(t, r.CurrentVideo())
	assert.Equal(t, "12345", r.CurrentVideo().SourceID())
}

func TestDispatchDropsInvalidPayloads(t *testing.T) {
	r := newTestRoom(clockwork.NewFakeClock())
	conns, _ := join(r, 1)

	// sourceId is required
	conns[0].Dispatch(EventQueueAdd, []byte(`{"type":"queue--add","title":"testing"}`))
	assert.Nil(t, r.CurrentVideo())

	conns[0].Dispatch(EventQueueAdd, []byte(`{"sourceId":"ok"}`))
	require.NotNil(t, r.CurrentVideo())

	// rate must be positive
	conns[0].Dispatch(EventVideoRate, []byte(`{"rate":-2}`))
	assert.Equal(t, 1.0, r.CurrentVideo().PlaybackRate())
}
