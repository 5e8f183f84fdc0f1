package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/roomvoice/internal/app"
	"github.com/dkeye/roomvoice/internal/app/tracker"
	"github.com/dkeye/roomvoice/internal/config"
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/dkeye/roomvoice/internal/wire"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode:             "release",
		Port:             8080,
		ReadLimit:        65536,
		PingPeriod:       time.Minute,
		Secret:           "test-secret",
		AnnounceLimit:    3,
		AnnounceInterval: time.Minute,
	}
}

func newServer(t *testing.T) (*httptest.Server, *tracker.Tracker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	tr := tracker.New(core.NewSwarmManager(), app.SimplePolicy{})
	srv := httptest.NewServer(SetupRouter(ctx, testConfig(), tr))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, tr
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
	id string
}

func dial(t *testing.T, srv *httptest.Server) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	c := &client{t: t, ws: ws}
	welcome := c.read()
	require.Equal(t, wire.TrackerWelcome, welcome.Type)
	require.NotEmpty(t, welcome.PeerID)
	c.id = welcome.PeerID
	return c
}

func (c *client) send(msg wire.TrackerMessage) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteJSON(msg))
}

func (c *client) read() wire.TrackerMessage {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg wire.TrackerMessage
	require.NoError(c.t, c.ws.ReadJSON(&msg))
	return msg
}

func (c *client) readType(typ string) wire.TrackerMessage {
	c.t.Helper()
	for {
		msg := c.read()
		if msg.Type == typ {
			return msg
		}
	}
}

var infoHash = domain.Topic("dedsec:room42").InfoHash()

func TestAnnounceAndRelay(t *testing.T) {
	srv, tr := newServer(t)
	alice := dial(t, srv)
	bob := dial(t, srv)
	assert.NotEqual(t, alice.id, bob.id)

	alice.send(wire.TrackerMessage{Type: wire.TrackerAnnounce, InfoHash: infoHash, PeerID: "alice"})
	peers := alice.readType(wire.TrackerPeers)
	assert.Empty(t, peers.Peers)

	bob.send(wire.TrackerMessage{Type: wire.TrackerAnnounce, InfoHash: infoHash, PeerID: "bob"})
	peers = bob.readType(wire.TrackerPeers)
	assert.Equal(t, []string{"alice"}, peers.Peers)

	joined := alice.readType(wire.TrackerPeerJoined)
	assert.Equal(t, "bob", joined.PeerID)

	bob.send(wire.TrackerMessage{Type: wire.TrackerOffer, To: "alice", SDP: "v=0 offer"})
	offer := alice.readType(wire.TrackerOffer)
	assert.Equal(t, "bob", offer.From)
	assert.Equal(t, "v=0 offer", offer.SDP)

	alice.send(wire.TrackerMessage{Type: wire.TrackerAnswer, To: "bob", SDP: "v=0 answer"})
	answer := bob.readType(wire.TrackerAnswer)
	assert.Equal(t, "alice", answer.From)

	assert.Equal(t, 2, tr.Sessions())
}

func TestLeaveNotifiesSwarm(t *testing.T) {
	srv, _ := newServer(t)
	alice := dial(t, srv)
	bob := dial(t, srv)
	alice.send(wire.TrackerMessage{Type: wire.TrackerAnnounce, InfoHash: infoHash, PeerID: "alice"})
	alice.readType(wire.TrackerPeers)
	bob.send(wire.TrackerMessage{Type: wire.TrackerAnnounce, InfoHash: infoHash, PeerID: "bob"})
	bob.readType(wire.TrackerPeers)

	bob.send(wire.TrackerMessage{Type: wire.TrackerLeave})
	left := alice.readType(wire.TrackerPeerLeft)
	assert.Equal(t, "bob", left.PeerID)
}

func TestDisconnectNotifiesSwarm(t *testing.T) {
	srv, _ := newServer(t)
	alice := dial(t, srv)
	bob := dial(t, srv)
	alice.send(wire.TrackerMessage{Type: wire.TrackerAnnounce, InfoHash: infoHash, PeerID: "alice"})
	alice.readType(wire.TrackerPeers)
	bob.send(wire.TrackerMessage{Type: wire.TrackerAnnounce, InfoHash: infoHash, PeerID: "bob"})
	bob.readType(wire.TrackerPeers)

	require.NoError(t, bob.ws.Close())
	left := alice.readType(wire.TrackerPeerLeft)
	assert.Equal(t, "bob", left.PeerID)
}

func TestProtocolErrors(t *testing.T) {
	srv, _ := newServer(t)
	c := dial(t, srv)

	c.send(wire.TrackerMessage{Type: wire.TrackerAnnounce, InfoHash: "not-a-hash"})
	assert.Equal(t, "bad_payload", c.readType(wire.TrackerError).Error)

	c.send(wire.TrackerMessage{Type: wire.TrackerOffer, To: "nobody", SDP: "v=0"})
	assert.Equal(t, "not_announced", c.readType(wire.TrackerError).Error)

	c.send(wire.TrackerMessage{Type: "bogus"})
	assert.Equal(t, "unknown_type", c.readType(wire.TrackerError).Error)

	require.NoError(t, c.ws.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, "bad_payload", c.readType(wire.TrackerError).Error)

	c.send(wire.TrackerMessage{Type: wire.TrackerPing})
	c.readType(wire.TrackerPong)
}

func TestAnnounceRateLimit(t *testing.T) {
	srv, _ := newServer(t)
	c := dial(t, srv)
	for range 3 {
		c.send(wire.TrackerMessage{Type: wire.TrackerAnnounce, InfoHash: infoHash, PeerID: "p"})
		c.readType(wire.TrackerPeers)
	}
	c.send(wire.TrackerMessage{Type: wire.TrackerAnnounce, InfoHash: infoHash, PeerID: "p"})
	assert.Equal(t, "rate_limited", c.readType(wire.TrackerError).Error)
}

func TestSwarmsEndpoint(t *testing.T) {
	srv, _ := newServer(t)
	c := dial(t, srv)
	c.send(wire.TrackerMessage{Type: wire.TrackerAnnounce, InfoHash: infoHash, PeerID: "p"})
	c.readType(wire.TrackerPeers)

	resp, err := http.Get(srv.URL + "/api/swarms")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Swarms   []core.SwarmInfo `json:"swarms"`
		Sessions int              `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []core.SwarmInfo{{InfoHash: infoHash, MemberCount: 1}}, body.Swarms)
	assert.Equal(t, 1, body.Sessions)
	assert.NotEmpty(t, resp.Cookies())
}
