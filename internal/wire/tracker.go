package wire

// Rendezvous message types. Client and server speak the same tagged JSON.
const (
	TrackerWelcome    = "welcome"
	TrackerAnnounce   = "announce"
	TrackerPeers      = "peers"
	TrackerPeerJoined = "peer_joined"
	TrackerPeerLeft   = "peer_left"
	TrackerOffer      = "offer"
	TrackerAnswer     = "answer"
	TrackerLeave      = "leave"
	TrackerPing       = "ping"
	TrackerPong       = "pong"
	TrackerError      = "error"
)

// TrackerMessage is a union of every rendezvous payload; unused fields are omitted.
type TrackerMessage struct {
	Type     string   `json:"type"`
	InfoHash string   `json:"info_hash,omitempty" validate:"omitempty,len=40,hexadecimal"`
	PeerID   string   `json:"peer_id,omitempty" validate:"omitempty,max=64"`
	Peers    []string `json:"peers,omitempty"`
	To       string   `json:"to,omitempty"`
	From     string   `json:"from,omitempty"`
	SDP      string   `json:"sdp,omitempty"`
	Error    string   `json:"error,omitempty"`
}
