package core

import (
	"sort"
	"sync"

	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

type swarmMember struct {
	peer   domain.PeerID
	signal SignalConnection
}

func NewSwarmMember(peer domain.PeerID, signal SignalConnection) SwarmMember {
	return &swarmMember{peer: peer, signal: signal}
}

func (m *swarmMember) PeerID() domain.PeerID    { return m.peer }
func (m *swarmMember) Signal() SignalConnection { return m.signal }

// swarmImpl is a threadsafe in-memory swarm.
// It never closes adapter-owned resources.
type swarmImpl struct {
	infoHash string
	mu       sync.RWMutex
	bySID    map[SessionID]SwarmMember
	byPeer   map[domain.PeerID]SessionID
}

func NewSwarmService(infoHash string) SwarmService {
	return &swarmImpl{
		infoHash: infoHash,
		bySID:    make(map[SessionID]SwarmMember),
		byPeer:   make(map[domain.PeerID]SessionID),
	}
}

func (s *swarmImpl) InfoHash() string { return s.infoHash }

func (s *swarmImpl) MemberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySID)
}

func (s *swarmImpl) AddMember(sid SessionID, m SwarmMember) {
	p := m.PeerID()
	s.mu.Lock()
	defer s.mu.Unlock()
	// A peer id re-announced from another connection replaces the stale one.
	if old, ok := s.byPeer[p]; ok && old != sid {
		delete(s.bySID, old)
	}
	s.bySID[sid] = m
	s.byPeer[p] = sid
	log.Info().Str("module", "core.swarm").Str("sid", string(sid)).Str("peer", string(p)).Msg("member added")
}

func (s *swarmImpl) RemoveMember(sid SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.bySID[sid]; ok {
		if s.byPeer[m.PeerID()] == sid {
			delete(s.byPeer, m.PeerID())
		}
	}
	delete(s.bySID, sid)
	log.Info().Str("module", "core.swarm").Str("sid", string(sid)).Msg("member removed")
}

func (s *swarmImpl) Lookup(peer domain.PeerID) (SessionID, SwarmMember, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sid, ok := s.byPeer[peer]
	if !ok {
		return "", nil, false
	}
	return sid, s.bySID[sid], true
}

func (s *swarmImpl) Broadcast(from SessionID, data Frame) PublishResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range s.bySID {
		if sid == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.swarm").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (s *swarmImpl) PeerIDs() []domain.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PeerID, 0, len(s.byPeer))
	for p := range s.byPeer {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
