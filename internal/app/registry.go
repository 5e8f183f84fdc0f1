package app

import (
	"slices"
	"sync"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// PeerEntry is everything the session owns for one remote participant.
type PeerEntry struct {
	Meta domain.Peer
	Conn core.PeerConn
	// Sink is nil until the first inbound track arrives.
	Sink core.AudioSink
}

// Registry is the single source of truth for who is connected.
// Keys are unique; iteration follows connect order.
type Registry struct {
	mu    sync.RWMutex
	peers map[domain.PeerID]*PeerEntry
	order []domain.PeerID
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[domain.PeerID]*PeerEntry)}
}

// Add registers a Connected peer with a placeholder nickname. If the id is
// already present, the stale entry is returned for the caller to release.
func (r *Registry) Add(conn core.PeerConn) (domain.Peer, *PeerEntry) {
	id := conn.ID()
	e := &PeerEntry{Meta: *domain.NewPeer(id), Conn: conn}

	r.mu.Lock()
	defer r.mu.Unlock()
	old, exists := r.peers[id]
	if exists {
		r.order = slices.DeleteFunc(r.order, func(p domain.PeerID) bool { return p == id })
	}
	r.peers[id] = e
	r.order = append(r.order, id)
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Bool("replaced", exists).Msg("peer added")
	return e.Meta, old
}

func (r *Registry) Get(id domain.PeerID) (domain.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.peers[id]
	if !ok {
		return domain.Peer{}, false
	}
	return e.Meta, true
}

// Identify applies a hello and moves the peer to Identified.
func (r *Registry) Identify(id domain.PeerID, nickname string) (domain.Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok {
		return domain.Peer{}, false
	}
	e.Meta.Identify(nickname)
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Str("nickname", e.Meta.Nickname).Msg("peer identified")
	return e.Meta, true
}

// AttachSink stores the inbound audio handle and hands back the one it
// replaces. ok is false when the peer is gone; the caller then owns sink.
func (r *Registry) AttachSink(id domain.PeerID, sink core.AudioSink) (old core.AudioSink, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok {
		return nil, false
	}
	old, e.Sink = e.Sink, sink
	return old, true
}

// Remove unregisters a peer and returns its entry marked Disconnected.
func (r *Registry) Remove(id domain.PeerID) (*PeerEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok {
		return nil, false
	}
	delete(r.peers, id)
	r.order = slices.DeleteFunc(r.order, func(p domain.PeerID) bool { return p == id })
	e.Meta.State = domain.PeerDisconnected
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("peer removed")
	return e, true
}

// Drain empties the registry and returns every entry in connect order.
func (r *Registry) Drain() []*PeerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*PeerEntry, 0, len(r.order))
	for _, id := range r.order {
		e := r.peers[id]
		e.Meta.State = domain.PeerDisconnected
		out = append(out, e)
	}
	r.peers = make(map[domain.PeerID]*PeerEntry)
	r.order = nil
	log.Info().Str("module", "app.registry").Int("count", len(out)).Msg("registry drained")
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Conns snapshots the transport handles for fan-out.
func (r *Registry) Conns() []core.PeerConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.PeerConn, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.peers[id].Conn)
	}
	return out
}

func (r *Registry) Peers() []domain.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Peer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.peers[id].Meta)
	}
	return out
}

// Roster lists nicknames in connect order.
func (r *Registry) Roster() []string {
	peers := r.Peers()
	out := make([]string, len(peers))
	for i, p := range peers {
		out[i] = p.Nickname
	}
	return out
}
