package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/roomvoice/internal/app"
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/crypto"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/dkeye/roomvoice/internal/vad"
	"github.com/rs/zerolog/log"
)

// Presenter renders what the session produces. Calls come from the
// controller's goroutines and must not block for long.
type Presenter interface {
	Chat(line string)
	Roster(nicks []string)
	Status(msg string)
}

type Deps struct {
	// NewTransport builds a fresh transport for every session.
	NewTransport func() (core.Transport, error)
	// Microphone may be nil: sessions are then receive-only.
	Microphone core.Microphone
	Sinks      core.SinkFactory
	Presenter  Presenter
	VAD        vad.Config
}

// Controller drives one session at a time: join, peer events, chat, PTT and
// VAD. Join and Leave are serialized; transport events are applied one at a
// time under the session lock.
type Controller struct {
	deps     Deps
	registry *app.Registry
	gate     *app.MicGate
	vad      *vad.Runner

	opMu sync.Mutex // serializes Join/Leave

	mu        sync.Mutex
	session   *app.Session
	transport core.Transport
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(deps Deps) *Controller {
	if deps.VAD.FFTSize == 0 {
		deps.VAD = vad.DefaultConfig()
	}
	return &Controller{
		deps:     deps,
		registry: app.NewRegistry(),
		gate:     app.NewMicGate(),
		vad:      vad.NewRunner(deps.VAD),
	}
}

// Join runs the join pipeline: derive key, acquire microphone, start
// transport. Each step completes before the next; nothing is published to
// peers before the whole pipeline succeeded. An active session is left first.
func (c *Controller) Join(ctx context.Context, roomCode, nickname string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.current() != nil {
		c.leave()
	}

	code, err := domain.NewRoomCode(roomCode)
	if err != nil {
		c.status("Enter a room code")
		return err
	}
	nick := domain.LocalNickname(nickname)

	key, err := crypto.DeriveKey(string(code))
	if err != nil {
		c.status("Could not derive the room key: " + err.Error())
		if !errors.Is(err, domain.ErrKeyDerivation) {
			err = fmt.Errorf("%w: %w", domain.ErrKeyDerivation, err)
		}
		return err
	}

	sess := &app.Session{Room: code, Nickname: nick, Key: key}

	c.status("Checking microphone…")
	if err := c.acquireMic(ctx, sess); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Msg("receive-only")
		c.status("No microphone (receive-only). Allow access to talk.")
	} else {
		c.status("Microphone available. Use PTT or VAD.")
	}

	transport, err := c.startTransport(ctx, sess.Topic())
	if err != nil {
		c.releaseMic(sess)
		c.status("Could not start P2P: " + err.Error())
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.session = sess
	c.transport = transport
	c.cancel = cancel
	c.done = done
	c.gate.Bind(sess.OutboundTracks())
	c.mu.Unlock()

	go c.dispatch(loopCtx, sess, transport.Events(), done)

	log.Info().Str("module", "app.orch").Str("topic_hash", sess.Topic().InfoHash()).Str("nickname", nick).Bool("mic", sess.HasMic).Msg("joined")
	c.status("P2P discovery started.")
	c.chat(fmt.Sprintf("You joined room %s as %s", code, nick))
	return nil
}

func (c *Controller) startTransport(ctx context.Context, topic domain.Topic) (core.Transport, error) {
	if c.deps.NewTransport == nil {
		return nil, fmt.Errorf("%w: no transport configured", domain.ErrTransportUnavailable)
	}
	t, err := c.deps.NewTransport()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransportUnavailable, err)
	}
	if err := t.Start(ctx, topic); err != nil {
		if derr := t.Destroy(); derr != nil {
			log.Warn().Err(derr).Str("module", "app.orch").Msg("transport destroy after failed start")
		}
		if !errors.Is(err, domain.ErrTransportUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrTransportUnavailable, err)
		}
		return nil, err
	}
	return t, nil
}

// Leave tears the session down. Every release is attempted; failures are
// logged and swallowed.
func (c *Controller) Leave() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.leave()
}

func (c *Controller) leave() {
	c.mu.Lock()
	sess, transport, cancel, done := c.session, c.transport, c.cancel, c.done
	c.session, c.transport, c.cancel, c.done = nil, nil, nil, nil
	c.mu.Unlock()
	if sess == nil {
		return
	}

	c.vad.Stop()
	c.gate.Unbind()

	cancel()
	<-done

	for _, e := range c.registry.Drain() {
		c.release(e)
	}
	c.redrawRoster()

	if err := transport.Destroy(); err != nil {
		logTeardown(err, "transport destroy", "")
	}
	c.releaseMic(sess)

	log.Info().Str("module", "app.orch").Msg("left")
	c.status("Disconnected.")
}

// release frees everything a peer entry owns.
func (c *Controller) release(e *app.PeerEntry) {
	if e.Sink != nil {
		if err := e.Sink.Close(); err != nil {
			logTeardown(err, "sink close", e.Meta.ID)
		}
	}
	if e.Conn != nil {
		if err := e.Conn.Destroy(); err != nil {
			logTeardown(err, "peer destroy", e.Meta.ID)
		}
	}
}

func logTeardown(err error, what string, peer domain.PeerID) {
	log.Debug().Err(fmt.Errorf("%w: %w", domain.ErrTeardown, err)).Str("module", "app.orch").Str("peer", string(peer)).Msg(what)
}

func (c *Controller) current() *app.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Active reports whether a session is joined.
func (c *Controller) Active() bool { return c.current() != nil }

// Roster lists connected peers' nicknames in connect order.
func (c *Controller) Roster() []string { return c.registry.Roster() }

func (c *Controller) Peers() []domain.Peer { return c.registry.Peers() }

func (c *Controller) Transmitting() bool { return c.gate.Transmitting() }

func (c *Controller) VADRunning() bool { return c.vad.Running() }

func (c *Controller) redrawRoster() {
	if c.deps.Presenter != nil {
		c.deps.Presenter.Roster(c.registry.Roster())
	}
}

func (c *Controller) chat(line string) {
	if c.deps.Presenter != nil {
		c.deps.Presenter.Chat(line)
	}
}

func (c *Controller) status(msg string) {
	log.Info().Str("module", "app.orch").Str("status", msg).Msg("status")
	if c.deps.Presenter != nil {
		c.deps.Presenter.Status(msg)
	}
}
