package core

import (
	"context"

	"github.com/dkeye/roomvoice/internal/domain"
)

// PeerConn is one live link to a remote participant, owned by the transport.
type PeerConn interface {
	ID() domain.PeerID
	// Send delivers one payload on the chat channel.
	Send(data []byte) error
	// AddTrack publishes a local audio track to the peer.
	AddTrack(track AudioTrack, stream AudioStream) error
	Destroy() error
}

// RemoteTrack is an inbound media track as the transport reports it.
type RemoteTrack interface {
	ID() string
	StreamID() string
}

type EventKind int

const (
	EventPeerConnected EventKind = iota
	EventPeerData
	EventPeerTrack
	EventPeerClosed
	EventPeerError
	EventTrackerConnected
	EventTrackerWarning
	EventTrackerError
)

func (k EventKind) String() string {
	switch k {
	case EventPeerConnected:
		return "peer_connected"
	case EventPeerData:
		return "peer_data"
	case EventPeerTrack:
		return "peer_track"
	case EventPeerClosed:
		return "peer_closed"
	case EventPeerError:
		return "peer_error"
	case EventTrackerConnected:
		return "tracker_connected"
	case EventTrackerWarning:
		return "tracker_warning"
	case EventTrackerError:
		return "tracker_error"
	}
	return "unknown"
}

// Event is one transport notification. Which fields are set depends on Kind:
// Conn for connected, Data for data, Track for track, Err for errors and
// warnings, Tracker for tracker events.
type Event struct {
	Kind    EventKind
	PeerID  domain.PeerID
	Conn    PeerConn
	Data    []byte
	Track   RemoteTrack
	Err     error
	Tracker string
}

// Transport discovers peers on a topic and reports them as events.
type Transport interface {
	Start(ctx context.Context, topic domain.Topic) error
	// Events is closed after Destroy.
	Events() <-chan Event
	Destroy() error
}
