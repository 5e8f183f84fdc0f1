package app

import (
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/crypto"
	"github.com/dkeye/roomvoice/internal/domain"
)

// Session is the active room context. At most one exists per controller.
type Session struct {
	Room     domain.RoomCode
	Nickname string
	Key      *crypto.Key

	// HasMic is false in receive-only mode; Local and Monitor are nil then.
	HasMic  bool
	Local   core.AudioStream
	Monitor core.AudioTrack
}

func (s *Session) Topic() domain.Topic { return s.Room.Topic() }

// OutboundTracks are the tracks published to peers and driven by the gate.
func (s *Session) OutboundTracks() []core.AudioTrack {
	if !s.HasMic || s.Local == nil {
		return nil
	}
	return s.Local.AudioTracks()
}
