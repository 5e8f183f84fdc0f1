// Package signal serves the rendezvous websocket protocol.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/roomvoice/internal/app/tracker"
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/wire"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

type Options struct {
	ReadLimit        int64
	PingPeriod       time.Duration
	AnnounceLimit    int
	AnnounceInterval time.Duration
}

type SignalWSController struct {
	Tracker *tracker.Tracker

	opts     Options
	limiter  *AnnounceRateLimiter
	validate *validator.Validate
}

func NewSignalWSController(t *tracker.Tracker, opts Options) *SignalWSController {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 64 << 10
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 30 * time.Second
	}
	if opts.AnnounceLimit <= 0 {
		opts.AnnounceLimit = 5
	}
	if opts.AnnounceInterval <= 0 {
		opts.AnnounceInterval = 10 * time.Second
	}
	return &SignalWSController{
		Tracker:  t,
		opts:     opts,
		limiter:  NewAnnounceRateLimiter(opts.AnnounceLimit, opts.AnnounceInterval),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Tracker.Bind(sid, conn, cancel)
	ctl.sendJSON(conn, wire.TrackerMessage{Type: wire.TrackerWelcome, PeerID: string(sid)})

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}
