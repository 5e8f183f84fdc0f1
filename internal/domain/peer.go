// Package domain holds peer and room identities and the rules that
// normalize them.
package domain

import "strings"

const (
	DefaultNickname = "user"

	placeholderPrefix = "peer-"
	placeholderIDLen  = 6
)

type PeerID string

// PeerState is the lifecycle position of a remote participant.
// Connecting is implicit: a peer has no entry until the transport reports it.
type PeerState int

const (
	PeerConnected PeerState = iota
	PeerIdentified
	PeerDisconnected
)

func (s PeerState) String() string {
	switch s {
	case PeerConnected:
		return "connected"
	case PeerIdentified:
		return "identified"
	case PeerDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Peer is the meta of one remote participant. No transport here.
type Peer struct {
	ID       PeerID    `json:"id"`
	Nickname string    `json:"nickname"`
	State    PeerState `json:"state"`
}

// NewPeer creates a Connected peer carrying the placeholder nickname.
func NewPeer(id PeerID) *Peer {
	return &Peer{ID: id, Nickname: PlaceholderNickname(id), State: PeerConnected}
}

// Identify applies a hello. An empty nickname keeps the current one.
func (p *Peer) Identify(nickname string) {
	if nickname = strings.TrimSpace(nickname); nickname != "" {
		p.Nickname = nickname
	}
	p.State = PeerIdentified
}

func PlaceholderNickname(id PeerID) string {
	s := string(id)
	if len(s) > placeholderIDLen {
		s = s[:placeholderIDLen]
	}
	return placeholderPrefix + s
}

// LocalNickname normalizes the nickname typed by the local user.
func LocalNickname(raw string) string {
	if nick := strings.TrimSpace(raw); nick != "" {
		return nick
	}
	return DefaultNickname
}
