package app

import (
	"strings"
	"testing"

	"github.com/dkeye/roomvoice/internal/core/coretest"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryConnectDisconnect(t *testing.T) {
	r := NewRegistry()
	peer, old := r.Add(coretest.NewPeerConn("aaaaaaaa"))
	assert.Nil(t, old)
	assert.Equal(t, "peer-aaaaaa", peer.Nickname)
	assert.Equal(t, domain.PeerConnected, peer.State)

	e, ok := r.Remove("aaaaaaaa")
	require.True(t, ok)
	assert.Equal(t, domain.PeerDisconnected, e.Meta.State)
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Roster())

	_, ok = r.Remove("aaaaaaaa")
	assert.False(t, ok, "second removal is a no-op")
}

func TestRegistryRemoveKeepsOthers(t *testing.T) {
	r := NewRegistry()
	r.Add(coretest.NewPeerConn("A"))
	r.Add(coretest.NewPeerConn("B"))
	_, ok := r.Identify("B", "bob")
	require.True(t, ok)

	_, ok = r.Remove("A")
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, r.Roster())
	p, ok := r.Get("B")
	require.True(t, ok)
	assert.Equal(t, domain.PeerIdentified, p.State)
}

func TestRegistryRosterFollowsConnectOrder(t *testing.T) {
	r := NewRegistry()
	for _, id := range []domain.PeerID{"zz", "aa", "mm"} {
		r.Add(coretest.NewPeerConn(id))
	}
	assert.Equal(t, []string{"peer-zz", "peer-aa", "peer-mm"}, r.Roster())
	conns := r.Conns()
	require.Len(t, conns, 3)
	assert.Equal(t, domain.PeerID("aa"), conns[1].ID())
}

func TestRegistryLatestHelloWins(t *testing.T) {
	r := NewRegistry()
	r.Add(coretest.NewPeerConn("A"))
	_, ok := r.Identify("A", "first")
	require.True(t, ok)
	r.Identify("A", "second")
	assert.Equal(t, []string{"second"}, r.Roster())

	long := strings.Repeat("n", 40)
	p, ok := r.Identify("A", long)
	require.True(t, ok)
	assert.Equal(t, long, p.Nickname)
	assert.Equal(t, domain.PeerIdentified, p.State)
	assert.Equal(t, []string{long}, r.Roster())

	_, ok = r.Identify("ghost", "x")
	assert.False(t, ok)
}

func TestRegistryDuplicateIDReturnsStaleEntry(t *testing.T) {
	r := NewRegistry()
	first := coretest.NewPeerConn("A")
	r.Add(first)
	r.Add(coretest.NewPeerConn("B"))

	_, old := r.Add(coretest.NewPeerConn("A"))
	require.NotNil(t, old)
	assert.Same(t, first, old.Conn)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"peer-B", "peer-A"}, r.Roster())
}

func TestRegistryAttachSinkReplaces(t *testing.T) {
	r := NewRegistry()
	r.Add(coretest.NewPeerConn("A"))

	s1, s2 := &coretest.Sink{}, &coretest.Sink{}
	old, ok := r.AttachSink("A", s1)
	require.True(t, ok)
	assert.Nil(t, old)

	old, ok = r.AttachSink("A", s2)
	require.True(t, ok)
	assert.Same(t, s1, old)

	e, _ := r.Remove("A")
	assert.Same(t, s2, e.Sink)

	_, ok = r.AttachSink("A", s1)
	assert.False(t, ok)
}

func TestRegistryDrain(t *testing.T) {
	r := NewRegistry()
	r.Add(coretest.NewPeerConn("A"))
	r.Add(coretest.NewPeerConn("B"))

	entries := r.Drain()
	require.Len(t, entries, 2)
	assert.Equal(t, domain.PeerID("A"), entries[0].Meta.ID)
	for _, e := range entries {
		assert.Equal(t, domain.PeerDisconnected, e.Meta.State)
	}
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Drain())
}
