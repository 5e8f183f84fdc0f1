package signal

import (
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/dkeye/roomvoice/internal/wire"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleAnnounce(
	sid core.SessionID,
	conn *WsSignalConn,
	msg wire.TrackerMessage,
) {
	if msg.InfoHash == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if !ctl.limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("announce rate limited")
		ctl.sendError(conn, "rate_limited")
		return
	}
	peer := domain.PeerID(msg.PeerID)
	if peer == "" {
		peer = domain.PeerID(sid)
	}

	others, err := ctl.Tracker.Announce(sid, msg.InfoHash, peer)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("announce")
		ctl.sendError(conn, err.Error())
		return
	}
	ids := make([]string, 0, len(others))
	for _, p := range others {
		ids = append(ids, string(p))
	}
	ctl.sendJSON(conn, struct {
		Type     string   `json:"type"`
		InfoHash string   `json:"info_hash"`
		Peers    []string `json:"peers"`
	}{
		Type:     wire.TrackerPeers,
		InfoHash: msg.InfoHash,
		Peers:    ids,
	})
}

// handleLeave leaves the swarm; the connection stays open.
func (ctl *SignalWSController) handleLeave(sid core.SessionID) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.Tracker.Leave(sid)
}
