package core

import "github.com/dkeye/roomvoice/internal/domain"

type SessionID string

// SwarmMember binds an announced peer id and its rendezvous connection.
// This is what a swarm stores and fans out to.
type SwarmMember interface {
	PeerID() domain.PeerID
	Signal() SignalConnection
}

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}

// SwarmService is the set of clients announced on one info hash.
// It owns the membership set but never touches transport resources.
type SwarmService interface {
	InfoHash() string
	MemberCount() int
	PeerIDs() []domain.PeerID
	Lookup(peer domain.PeerID) (SessionID, SwarmMember, bool)

	AddMember(sid SessionID, m SwarmMember)
	RemoveMember(sid SessionID)
	Broadcast(from SessionID, data Frame) PublishResult
}

type SwarmInfo struct {
	InfoHash    string `json:"info_hash"`
	MemberCount int    `json:"member_count"`
}

type SwarmManager interface {
	GetOrCreate(infoHash string) SwarmService
	Get(infoHash string) (SwarmService, bool)
	List() []SwarmInfo
	// Release drops the swarm once it is empty.
	Release(infoHash string)
}
