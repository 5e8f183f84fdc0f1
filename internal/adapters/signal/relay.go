package signal

import (
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/wire"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards an offer or answer to a peer of the same swarm.
func (ctl *SignalWSController) handleRelay(
	sid core.SessionID,
	conn *WsSignalConn,
	msg wire.TrackerMessage,
) {
	if msg.To == "" || msg.SDP == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	out := wire.TrackerMessage{Type: msg.Type, To: msg.To, SDP: msg.SDP}
	if err := ctl.Tracker.Relay(sid, out); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("to", msg.To).Str("type", msg.Type).Msg("relay")
		ctl.sendError(conn, err.Error())
	}
}
