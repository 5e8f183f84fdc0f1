package signal

import "github.com/dkeye/roomvoice/internal/wire"

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	ctl.sendJSON(conn, wire.TrackerMessage{Type: wire.TrackerPong})
}
