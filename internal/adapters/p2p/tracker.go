package p2p

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/roomvoice/internal/wire"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait    = 5 * time.Second
	sendQueueLen = 32
)

var errTrackerClosed = errors.New("tracker connection closed")

// trackerConn is one rendezvous socket. Writes go through a queue drained by
// writePump; reads are delivered to the handler by readPump.
type trackerConn struct {
	url    string
	ws     *websocket.Conn
	sid    string
	logger zerolog.Logger

	mu     sync.RWMutex
	send   chan []byte
	closed bool
}

// dialTracker connects and waits for the welcome message.
func dialTracker(ctx context.Context, dialer *websocket.Dialer, url string) (*trackerConn, error) {
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	}
	var welcome wire.TrackerMessage
	if err := ws.ReadJSON(&welcome); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	if welcome.Type != wire.TrackerWelcome {
		_ = ws.Close()
		return nil, fmt.Errorf("unexpected first message %q", welcome.Type)
	}
	_ = ws.SetReadDeadline(time.Time{})

	return &trackerConn{
		url:    url,
		ws:     ws,
		sid:    welcome.PeerID,
		logger: log.With().Str("module", "p2p.tracker").Str("tracker", url).Logger(),
		send:   make(chan []byte, sendQueueLen),
	}, nil
}

func (tc *trackerConn) sendJSON(msg wire.TrackerMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	if tc.closed {
		return errTrackerClosed
	}
	select {
	case tc.send <- b:
		return nil
	default:
		return errors.New("tracker send queue full")
	}
}

// close stops accepting writes. writePump flushes what is queued and then
// closes the socket.
func (tc *trackerConn) close() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.closed {
		return
	}
	tc.closed = true
	close(tc.send)
}

func (tc *trackerConn) isClosed() bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.closed
}

func (tc *trackerConn) writePump(ctx context.Context, keepalive time.Duration) {
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()
	defer tc.ws.Close()
	ping, _ := json.Marshal(wire.TrackerMessage{Type: wire.TrackerPing})
	for {
		var data []byte
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data = ping
		case b, ok := <-tc.send:
			if !ok {
				_ = tc.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			data = b
		}
		if err := tc.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			tc.logger.Error().Err(err).Msg("writePump set deadline")
			return
		}
		if err := tc.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			tc.logger.Error().Err(err).Msg("writePump write error")
			return
		}
	}
}

// readPump returns the error that ended the socket, nil when ctx ended it.
func (tc *trackerConn) readPump(ctx context.Context, handle func(*trackerConn, wire.TrackerMessage)) error {
	defer tc.close()
	for {
		_, data, err := tc.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || tc.isClosed() {
				return nil
			}
			return err
		}
		var msg wire.TrackerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			tc.logger.Warn().Err(err).Msg("bad json")
			continue
		}
		handle(tc, msg)
	}
}
