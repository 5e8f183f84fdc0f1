package rtc

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/core/coretest"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []core.Event
}

func (l *eventLog) emit(ev core.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) has(kind core.EventKind, match func(core.Event) bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Kind == kind && (match == nil || match(ev)) {
			return true
		}
	}
	return false
}

// handshake runs the first offer/answer exchange without waiting for the
// channels to open.
func handshake(t *testing.T) (*Conn, *eventLog, *Conn, *eventLog) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	aLog, bLog := &eventLog{}, &eventLog{}
	a, err := NewConn(webrtc.Configuration{}, "b", true, aLog.emit)
	require.NoError(t, err)
	b, err := NewConn(webrtc.Configuration{}, "a", false, bLog.emit)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Destroy()
		_ = b.Destroy()
	})

	offer, err := a.CreateOffer(ctx)
	require.NoError(t, err)
	answer, err := b.ApplyOfferAndCreateAnswer(ctx, *offer)
	require.NoError(t, err)
	require.NoError(t, a.ApplyAnswer(*answer))
	return a, aLog, b, bLog
}

func pair(t *testing.T) (*Conn, *eventLog, *Conn, *eventLog) {
	t.Helper()
	a, aLog, b, bLog := handshake(t)
	require.Eventually(t, func() bool {
		return aLog.has(core.EventPeerConnected, nil) && bLog.has(core.EventPeerConnected, nil)
	}, 10*time.Second, 20*time.Millisecond)
	return a, aLog, b, bLog
}

func TestConnChatRoundTrip(t *testing.T) {
	a, _, b, bLog := pair(t)
	assert.False(t, a.polite)
	assert.True(t, b.polite)

	require.NoError(t, a.Send([]byte(`{"type":"hello","nick":"alice"}`)))
	require.Eventually(t, func() bool {
		return bLog.has(core.EventPeerData, func(ev core.Event) bool {
			return ev.PeerID == "a" && string(ev.Data) == `{"type":"hello","nick":"alice"}`
		})
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConnDestroyReportsClosed(t *testing.T) {
	a, aLog, _, _ := pair(t)
	require.NoError(t, a.Destroy())
	require.NoError(t, a.Destroy())

	require.Eventually(t, func() bool {
		return aLog.has(core.EventPeerClosed, nil)
	}, 5*time.Second, 20*time.Millisecond)
	assert.Error(t, a.Send([]byte("late")))
}

type publishable struct {
	*coretest.AudioTrack
	local webrtc.TrackLocal
}

func (p publishable) TrackLocal() webrtc.TrackLocal { return p.local }

func newPublishable(t *testing.T, id string) publishable {
	t.Helper()
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		id, "mic",
	)
	require.NoError(t, err)
	return publishable{AudioTrack: coretest.NewAudioTrack(id), local: local}
}

func hasAudio(c *Conn) bool {
	desc := c.pc.RemoteDescription()
	return desc != nil && strings.Contains(desc.SDP, "m=audio")
}

func TestConnTrackAddedBeforeChannelOpenIsOffered(t *testing.T) {
	a, aLog, b, _ := handshake(t)
	require.NoError(t, a.AddTrack(newPublishable(t, "early"), nil))

	require.Eventually(t, func() bool {
		return aLog.has(core.EventPeerConnected, nil)
	}, 10*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return hasAudio(b) }, 10*time.Second, 20*time.Millisecond)
}

func TestConnTrackAddedAfterOpenIsOffered(t *testing.T) {
	a, _, b, _ := pair(t)
	require.NoError(t, b.AddTrack(newPublishable(t, "late"), nil))
	require.Eventually(t, func() bool { return hasAudio(a) }, 10*time.Second, 20*time.Millisecond)
}

func TestConnRejectsForeignTrack(t *testing.T) {
	c, err := NewConn(webrtc.Configuration{}, "x", true, func(core.Event) {})
	require.NoError(t, err)
	defer c.Destroy()

	err = c.AddTrack(&coretest.AudioTrack{TrackID: "fake"}, nil)
	assert.ErrorIs(t, err, ErrNotPublishable)
}

func TestDefaultWebRTCConfig(t *testing.T) {
	cfg := DefaultWebRTCConfig(nil)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers[0].URLs)

	cfg = DefaultWebRTCConfig([]string{"stun:a", "turn:b"})
	assert.Equal(t, []string{"stun:a", "turn:b"}, cfg.ICEServers[0].URLs)
}
