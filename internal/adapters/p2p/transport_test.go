package p2p

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	router "github.com/dkeye/roomvoice/internal/adapters/http"
	"github.com/dkeye/roomvoice/internal/app"
	"github.com/dkeye/roomvoice/internal/app/tracker"
	"github.com/dkeye/roomvoice/internal/config"
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rendezvous(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &config.Config{
		Mode:             "release",
		ReadLimit:        1 << 20,
		PingPeriod:       time.Minute,
		Secret:           "s",
		AnnounceLimit:    10,
		AnnounceInterval: time.Minute,
	}
	srv := httptest.NewServer(router.SetupRouter(ctx, cfg, tracker.New(core.NewSwarmManager(), app.SimplePolicy{})))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
}

func collect(t *testing.T, tr *Transport, kind core.EventKind) core.Event {
	t.Helper()
	deadline := time.After(15 * time.Second)
	for {
		select {
		case ev, ok := <-tr.Events():
			require.True(t, ok, "events closed")
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestTwoPeersConnectAndChat(t *testing.T) {
	url := rendezvous(t)
	topic, err := domain.NewRoomCode("Room42")
	require.NoError(t, err)

	a := New(Config{Trackers: []string{url}, WebRTC: webrtc.Configuration{}, PeerID: "peer-a"})
	b := New(Config{Trackers: []string{url}, WebRTC: webrtc.Configuration{}, PeerID: "peer-b"})
	t.Cleanup(func() {
		_ = a.Destroy()
		_ = b.Destroy()
	})

	ctx := context.Background()
	require.NoError(t, a.Start(ctx, topic.Topic()))
	require.NoError(t, b.Start(ctx, topic.Topic()))

	evA := collect(t, a, core.EventPeerConnected)
	evB := collect(t, b, core.EventPeerConnected)
	assert.Equal(t, domain.PeerID("peer-b"), evA.PeerID)
	assert.Equal(t, domain.PeerID("peer-a"), evB.PeerID)

	require.NoError(t, evA.Conn.Send([]byte("hi")))
	data := collect(t, b, core.EventPeerData)
	assert.Equal(t, []byte("hi"), data.Data)
}

func TestStartWithoutReachableTracker(t *testing.T) {
	tr := New(Config{Trackers: []string{"ws://127.0.0.1:1/api/ws/signal"}, DialTimeout: time.Second})
	err := tr.Start(context.Background(), "dedsec:x")
	assert.ErrorIs(t, err, domain.ErrTransportUnavailable)

	ev := <-tr.Events()
	assert.Equal(t, core.EventTrackerError, ev.Kind)

	require.NoError(t, tr.Destroy())
	_, ok := <-tr.Events()
	assert.False(t, ok)
}

func TestStartWithoutTrackers(t *testing.T) {
	tr := New(Config{})
	assert.ErrorIs(t, tr.Start(context.Background(), "dedsec:x"), domain.ErrTransportUnavailable)
	assert.NotEmpty(t, tr.PeerID())
	require.NoError(t, tr.Destroy())
}

func TestDestroyIsIdempotent(t *testing.T) {
	url := rendezvous(t)
	tr := New(Config{Trackers: []string{url}})
	require.NoError(t, tr.Start(context.Background(), "dedsec:solo"))
	collect(t, tr, core.EventTrackerConnected)
	require.NoError(t, tr.Destroy())
	require.NoError(t, tr.Destroy())
}
