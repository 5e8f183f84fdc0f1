package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/roomvoice/internal/app"
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/dkeye/roomvoice/internal/wire"
	"github.com/rs/zerolog/log"
)

const unknownPeerNick = "peer"

// dispatch applies transport events of one session until ctx is cancelled
// or the transport closes its channel.
func (c *Controller) dispatch(ctx context.Context, sess *app.Session, events <-chan core.Event, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				log.Info().Str("module", "app.orch").Msg("transport events closed")
				return
			}
			c.handle(ctx, sess, ev)
		}
	}
}

// handle maps one event to one peer lifecycle transition. Events of a
// session that is no longer current are dropped.
func (c *Controller) handle(ctx context.Context, sess *app.Session, ev core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != sess {
		return
	}

	switch ev.Kind {
	case core.EventPeerConnected:
		c.onPeerConnected(sess, ev.Conn)
	case core.EventPeerData:
		c.onPeerData(sess, ev.PeerID, ev.Data)
	case core.EventPeerTrack:
		c.onPeerTrack(ctx, ev.PeerID, ev.Track)
	case core.EventPeerClosed:
		c.onPeerGone(ev.PeerID, nil)
	case core.EventPeerError:
		c.onPeerGone(ev.PeerID, ev.Err)
	case core.EventTrackerConnected:
		log.Info().Str("module", "app.orch").Str("tracker", ev.Tracker).Msg("tracker connected")
	case core.EventTrackerWarning:
		log.Warn().Err(ev.Err).Str("module", "app.orch").Str("tracker", ev.Tracker).Msg("tracker warning")
	case core.EventTrackerError:
		log.Warn().Err(ev.Err).Str("module", "app.orch").Str("tracker", ev.Tracker).Msg("tracker error")
	default:
		log.Warn().Str("module", "app.orch").Int("kind", int(ev.Kind)).Msg("unknown transport event")
	}
}

func (c *Controller) onPeerConnected(sess *app.Session, conn core.PeerConn) {
	if conn == nil {
		log.Warn().Str("module", "app.orch").Msg("peer connected without a connection")
		return
	}
	peer, stale := c.registry.Add(conn)
	if stale != nil && stale.Conn != conn {
		c.release(stale)
	}
	c.chat("[system] connected: " + peer.Nickname)
	c.redrawRoster()

	if sess.HasMic {
		for _, t := range sess.OutboundTracks() {
			if err := conn.AddTrack(t, sess.Local); err != nil {
				log.Warn().Err(err).Str("module", "app.orch").Str("peer", string(peer.ID)).Msg("add track")
			}
		}
	}

	hello, err := wire.EncodeHello(sess.Nickname)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Msg("encode hello")
		return
	}
	if err := conn.Send(hello); err != nil {
		log.Warn().Err(fmt.Errorf("%w: %w", domain.ErrSend, err)).Str("module", "app.orch").Str("peer", string(peer.ID)).Msg("hello")
	}
}

// onPeerData never fails the session: malformed, unknown and forged
// payloads are logged and dropped.
func (c *Controller) onPeerData(sess *app.Session, id domain.PeerID, data []byte) {
	env, err := wire.Decode(data)
	if err != nil {
		lvl := log.Debug()
		if errors.Is(err, wire.ErrMalformed) {
			lvl = log.Warn()
		}
		lvl.Err(err).Str("module", "app.orch").Str("peer", string(id)).Msg("dropped payload")
		return
	}

	switch env.Type {
	case wire.TypeHello:
		peer, ok := c.registry.Identify(id, env.Nick)
		if !ok {
			log.Debug().Str("module", "app.orch").Str("peer", string(id)).Msg("hello from unknown peer")
			return
		}
		log.Debug().Str("module", "app.orch").Str("peer", string(id)).Str("nickname", peer.Nickname).Msg("hello")
		c.redrawRoster()
	case wire.TypeChat:
		text, err := sess.Key.Open(env.IV, env.Data)
		if err != nil {
			log.Warn().Err(err).Str("module", "app.orch").Str("peer", string(id)).Msg("chat dropped")
			return
		}
		nick := unknownPeerNick
		if p, ok := c.registry.Get(id); ok {
			nick = p.Nickname
		}
		c.chat(nick + ": " + text)
	}
}

// onPeerTrack keeps at most one inbound audio handle per peer.
func (c *Controller) onPeerTrack(ctx context.Context, id domain.PeerID, track core.RemoteTrack) {
	if c.deps.Sinks == nil || track == nil {
		return
	}
	if _, ok := c.registry.Get(id); !ok {
		log.Debug().Str("module", "app.orch").Str("peer", string(id)).Msg("track from unknown peer")
		return
	}
	sink, err := c.deps.Sinks.NewSink(ctx, string(id), track)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("peer", string(id)).Msg("audio sink")
		return
	}
	old, ok := c.registry.AttachSink(id, sink)
	if !ok {
		_ = sink.Close()
		return
	}
	if old != nil {
		if err := old.Close(); err != nil {
			logTeardown(err, "replaced sink close", id)
		}
	}
	log.Info().Str("module", "app.orch").Str("peer", string(id)).Str("track", track.ID()).Bool("replaced", old != nil).Msg("inbound audio")
}

// onPeerGone is reachable from every live state.
func (c *Controller) onPeerGone(id domain.PeerID, cause error) {
	e, ok := c.registry.Remove(id)
	if !ok {
		return
	}
	if cause != nil {
		log.Warn().Err(cause).Str("module", "app.orch").Str("peer", string(id)).Msg("peer error")
	}
	c.release(e)
	c.redrawRoster()
}
