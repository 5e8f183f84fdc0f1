// Package tracker keeps rendezvous clients, their swarm membership and the
// relay of session descriptions between them.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/roomvoice/internal/app"
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/dkeye/roomvoice/internal/wire"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotAnnounced = errors.New("not_announced")
	ErrUnknownPeer  = errors.New("unknown_peer")
	ErrUnknownSID   = errors.New("unknown_session")
)

type binding struct {
	conn     core.SignalConnection
	cancel   context.CancelFunc
	infoHash string
	peer     domain.PeerID
}

type Tracker struct {
	Swarms core.SwarmManager
	Policy app.Policy

	mu       sync.Mutex
	sessions map[core.SessionID]*binding
}

func New(swarms core.SwarmManager, policy app.Policy) *Tracker {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	return &Tracker{
		Swarms:   swarms,
		Policy:   policy,
		sessions: make(map[core.SessionID]*binding),
	}
}

// Bind registers a connection. A second socket with the same session id
// replaces the first one.
func (t *Tracker) Bind(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	t.mu.Lock()
	old := t.sessions[sid]
	t.sessions[sid] = &binding{conn: conn, cancel: cancel}
	t.mu.Unlock()

	if old != nil {
		log.Info().Str("module", "app.tracker").Str("sid", string(sid)).Msg("replacing stale connection")
		t.leaveSwarm(sid, old)
		old.cancel()
		old.conn.Close()
	}
}

// Unbind forgets a connection once its pumps ended. It is a no-op when the
// session was already rebound to another connection.
func (t *Tracker) Unbind(sid core.SessionID, conn core.SignalConnection) {
	t.mu.Lock()
	b, ok := t.sessions[sid]
	if !ok || b.conn != conn {
		t.mu.Unlock()
		return
	}
	delete(t.sessions, sid)
	t.mu.Unlock()

	t.leaveSwarm(sid, b)
	b.cancel()
}

// Kick drops a client, typically one that cannot keep up.
func (t *Tracker) Kick(sid core.SessionID) {
	t.mu.Lock()
	b, ok := t.sessions[sid]
	if ok {
		delete(t.sessions, sid)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	log.Warn().Str("module", "app.tracker").Str("sid", string(sid)).Msg("kick")
	t.leaveSwarm(sid, b)
	b.cancel()
	b.conn.Close()
}

// Announce moves the client into the swarm of infoHash and returns the peer
// ids already there.
func (t *Tracker) Announce(sid core.SessionID, infoHash string, peer domain.PeerID) ([]domain.PeerID, error) {
	t.mu.Lock()
	b, ok := t.sessions[sid]
	if !ok {
		t.mu.Unlock()
		return nil, ErrUnknownSID
	}
	prev := *b
	b.infoHash, b.peer = infoHash, peer
	t.mu.Unlock()

	if prev.infoHash != "" && (prev.infoHash != infoHash || prev.peer != peer) {
		t.leaveSwarm(sid, &prev)
	}

	swarm := t.Swarms.GetOrCreate(infoHash)
	var others []domain.PeerID
	for _, p := range swarm.PeerIDs() {
		if p != peer {
			others = append(others, p)
		}
	}
	swarm.AddMember(sid, core.NewSwarmMember(peer, b.conn))
	log.Info().Str("module", "app.tracker").Str("sid", string(sid)).Str("peer", string(peer)).Str("info_hash", infoHash).Int("peers", len(others)).Msg("announce")

	t.broadcast(swarm, sid, wire.TrackerMessage{Type: wire.TrackerPeerJoined, PeerID: string(peer)})
	return others, nil
}

// Leave removes the client from its swarm but keeps the connection.
func (t *Tracker) Leave(sid core.SessionID) {
	t.mu.Lock()
	b, ok := t.sessions[sid]
	var prev binding
	if ok {
		prev = *b
		b.infoHash, b.peer = "", ""
	}
	t.mu.Unlock()
	if ok {
		t.leaveSwarm(sid, &prev)
	}
}

func (t *Tracker) leaveSwarm(sid core.SessionID, b *binding) {
	if b.infoHash == "" {
		return
	}
	swarm, ok := t.Swarms.Get(b.infoHash)
	if !ok {
		return
	}
	if cur, _, ok := swarm.Lookup(b.peer); !ok || cur != sid {
		swarm.RemoveMember(sid)
		t.Swarms.Release(b.infoHash)
		return
	}
	swarm.RemoveMember(sid)
	t.broadcast(swarm, sid, wire.TrackerMessage{Type: wire.TrackerPeerLeft, PeerID: string(b.peer)})
	t.Swarms.Release(b.infoHash)
}

// Relay forwards an offer or answer to another member of the sender's swarm.
func (t *Tracker) Relay(sid core.SessionID, msg wire.TrackerMessage) error {
	t.mu.Lock()
	b, ok := t.sessions[sid]
	var infoHash string
	var from domain.PeerID
	if ok {
		infoHash, from = b.infoHash, b.peer
	}
	t.mu.Unlock()
	if !ok {
		return ErrUnknownSID
	}
	if infoHash == "" {
		return ErrNotAnnounced
	}
	swarm, ok := t.Swarms.Get(infoHash)
	if !ok {
		return ErrNotAnnounced
	}
	dstSID, dst, ok := swarm.Lookup(domain.PeerID(msg.To))
	if !ok {
		return ErrUnknownPeer
	}
	msg.From = string(from)
	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := dst.Signal().TrySend(frame); err != nil {
		t.onBackpressure(swarm, dstSID, err)
	}
	return nil
}

func (t *Tracker) broadcast(swarm core.SwarmService, from core.SessionID, msg wire.TrackerMessage) {
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	res := swarm.Broadcast(from, frame)
	for _, sid := range res.Dropped {
		t.onBackpressure(swarm, sid, nil)
	}
}

func (t *Tracker) onBackpressure(swarm core.SwarmService, sid core.SessionID, err error) {
	switch t.Policy.OnBackPressure(swarm, sid) {
	case app.KickMember:
		go t.Kick(sid)
	case app.MarkSlow:
		log.Warn().Err(err).Str("module", "app.tracker").Str("sid", string(sid)).Msg("slow client")
	case app.NoAction, app.DropFrame:
		log.Debug().Err(err).Str("module", "app.tracker").Str("sid", string(sid)).Msg("frame dropped")
	}
}

// List reports swarm sizes.
func (t *Tracker) List() []core.SwarmInfo { return t.Swarms.List() }

// Sessions reports connected clients.
func (t *Tracker) Sessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
