// Package p2p implements peer discovery over rendezvous trackers and direct
// WebRTC links between peers.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/roomvoice/internal/adapters/rtc"
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/dkeye/roomvoice/internal/wire"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

const eventQueueLen = 64

type Config struct {
	Trackers []string
	WebRTC   webrtc.Configuration
	// PeerID defaults to a random uuid.
	PeerID      string
	DialTimeout time.Duration
	Keepalive   time.Duration
}

type link struct {
	conn      *rtc.Conn
	tracker   *trackerConn
	initiator bool
}

// Transport announces one topic on every tracker and keeps a link per
// discovered peer.
type Transport struct {
	cfg    Config
	peerID string
	dialer *websocket.Dialer
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	emitMu sync.RWMutex
	events chan core.Event
	closed bool

	mu       sync.Mutex
	infoHash string
	trackers []*trackerConn
	links    map[domain.PeerID]*link

	destroyOnce sync.Once
}

func New(cfg Config) *Transport {
	if cfg.PeerID == "" {
		cfg.PeerID = uuid.NewString()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		cfg:    cfg,
		peerID: cfg.PeerID,
		dialer: websocket.DefaultDialer,
		logger: log.With().Str("module", "p2p").Str("self", cfg.PeerID).Logger(),
		ctx:    ctx,
		cancel: cancel,
		events: make(chan core.Event, eventQueueLen),
		links:  make(map[domain.PeerID]*link),
	}
}

func (t *Transport) Events() <-chan core.Event { return t.events }

// PeerID is the id this transport announces.
func (t *Transport) PeerID() string { return t.peerID }

// Start dials every tracker concurrently and announces the topic on those
// that answer. It fails only when none does.
func (t *Transport) Start(ctx context.Context, topic domain.Topic) error {
	if len(t.cfg.Trackers) == 0 {
		return fmt.Errorf("%w: no trackers configured", domain.ErrTransportUnavailable)
	}
	infoHash := topic.InfoHash()

	p := pool.NewWithResults[*trackerConn]().WithContext(ctx)
	for _, url := range t.cfg.Trackers {
		p.Go(func(ctx context.Context) (*trackerConn, error) {
			dctx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
			defer cancel()
			tc, err := dialTracker(dctx, t.dialer, url)
			if err != nil {
				t.logger.Warn().Err(err).Str("tracker", url).Msg("tracker dial failed")
				t.tryEmit(core.Event{Kind: core.EventTrackerError, Tracker: url, Err: err})
				return nil, fmt.Errorf("%s: %w", url, err)
			}
			return tc, nil
		})
	}
	trackers, err := p.Wait()
	if len(trackers) == 0 {
		return fmt.Errorf("%w: %w", domain.ErrTransportUnavailable, err)
	}

	t.mu.Lock()
	t.infoHash = infoHash
	t.trackers = trackers
	t.mu.Unlock()

	for _, tc := range trackers {
		t.wg.Add(2)
		go func() {
			defer t.wg.Done()
			tc.writePump(t.ctx, t.cfg.Keepalive)
		}()
		go func() {
			defer t.wg.Done()
			if err := tc.readPump(t.ctx, t.handleTracker); err != nil {
				tc.logger.Warn().Err(err).Msg("tracker lost")
				t.tryEmit(core.Event{Kind: core.EventTrackerError, Tracker: tc.url, Err: err})
			}
		}()
		if err := tc.sendJSON(wire.TrackerMessage{Type: wire.TrackerAnnounce, InfoHash: infoHash, PeerID: t.peerID}); err != nil {
			tc.logger.Warn().Err(err).Msg("announce")
			continue
		}
		t.tryEmit(core.Event{Kind: core.EventTrackerConnected, Tracker: tc.url})
	}
	t.logger.Info().Str("info_hash", infoHash).Int("trackers", len(trackers)).Msg("discovery started")
	return nil
}

func (t *Transport) handleTracker(tc *trackerConn, msg wire.TrackerMessage) {
	switch msg.Type {
	case wire.TrackerPeers:
		for _, id := range msg.Peers {
			if id != t.peerID && id != "" {
				t.offerTo(tc, domain.PeerID(id))
			}
		}
	case wire.TrackerPeerJoined:
		tc.logger.Debug().Str("peer", msg.PeerID).Msg("peer joined swarm")
	case wire.TrackerPeerLeft:
		tc.logger.Debug().Str("peer", msg.PeerID).Msg("peer left swarm")
	case wire.TrackerOffer:
		t.acceptOffer(tc, domain.PeerID(msg.From), msg.SDP)
	case wire.TrackerAnswer:
		t.applyAnswer(domain.PeerID(msg.From), msg.SDP)
	case wire.TrackerError:
		t.tryEmit(core.Event{Kind: core.EventTrackerWarning, Tracker: tc.url, Err: errors.New(msg.Error)})
	case wire.TrackerPong:
	default:
		tc.logger.Warn().Str("type", msg.Type).Msg("unknown tracker message")
	}
}

func (t *Transport) newLink(tc *trackerConn, id domain.PeerID, initiator bool) (*link, error) {
	l := &link{tracker: tc, initiator: initiator}
	conn, err := rtc.NewConn(t.cfg.WebRTC, id, initiator, func(ev core.Event) { t.onLinkEvent(l, ev) })
	if err != nil {
		return nil, err
	}
	l.conn = conn
	return l, nil
}

// offerTo opens a link to a peer listed by a tracker. A peer already linked
// through any tracker is skipped.
func (t *Transport) offerTo(tc *trackerConn, id domain.PeerID) {
	t.mu.Lock()
	if _, ok := t.links[id]; ok || t.ctx.Err() != nil {
		t.mu.Unlock()
		return
	}
	l, err := t.newLink(tc, id, true)
	if err != nil {
		t.mu.Unlock()
		t.logger.Error().Err(err).Str("peer", string(id)).Msg("create link")
		return
	}
	t.links[id] = l
	t.mu.Unlock()

	go func() {
		offer, err := l.conn.CreateOffer(t.ctx)
		if err == nil {
			err = tc.sendJSON(wire.TrackerMessage{Type: wire.TrackerOffer, To: string(id), SDP: offer.SDP})
		}
		if err != nil {
			t.logger.Warn().Err(err).Str("peer", string(id)).Msg("offer failed")
			t.dropLink(id, l)
		}
	}()
}

// acceptOffer answers a remote initiator. When both sides offered, the
// offer of the lower peer id wins.
func (t *Transport) acceptOffer(tc *trackerConn, id domain.PeerID, sdp string) {
	if id == "" || string(id) == t.peerID {
		return
	}
	t.mu.Lock()
	if t.ctx.Err() != nil {
		t.mu.Unlock()
		return
	}
	var replaced *link
	if existing, ok := t.links[id]; ok {
		if !existing.initiator || t.peerID < string(id) {
			t.mu.Unlock()
			t.logger.Debug().Str("peer", string(id)).Msg("duplicate offer ignored")
			return
		}
		replaced = existing
	}
	l, err := t.newLink(tc, id, false)
	if err != nil {
		t.mu.Unlock()
		t.logger.Error().Err(err).Str("peer", string(id)).Msg("create link")
		return
	}
	t.links[id] = l
	t.mu.Unlock()

	if replaced != nil {
		_ = replaced.conn.Destroy()
	}

	go func() {
		answer, err := l.conn.ApplyOfferAndCreateAnswer(t.ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
		if err == nil {
			err = tc.sendJSON(wire.TrackerMessage{Type: wire.TrackerAnswer, To: string(id), SDP: answer.SDP})
		}
		if err != nil {
			t.logger.Warn().Err(err).Str("peer", string(id)).Msg("answer failed")
			t.dropLink(id, l)
		}
	}()
}

func (t *Transport) applyAnswer(id domain.PeerID, sdp string) {
	t.mu.Lock()
	l, ok := t.links[id]
	t.mu.Unlock()
	if !ok || !l.initiator {
		return
	}
	if err := l.conn.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		t.logger.Warn().Err(err).Str("peer", string(id)).Msg("apply answer")
		t.dropLink(id, l)
	}
}

func (t *Transport) dropLink(id domain.PeerID, l *link) {
	t.mu.Lock()
	if cur, ok := t.links[id]; ok && cur == l {
		delete(t.links, id)
	}
	t.mu.Unlock()
	_ = l.conn.Destroy()
}

// onLinkEvent forwards events of the current link of a peer; events of a
// replaced link are dropped.
func (t *Transport) onLinkEvent(l *link, ev core.Event) {
	t.mu.Lock()
	cur, ok := t.links[ev.PeerID]
	current := ok && cur == l
	if current && (ev.Kind == core.EventPeerClosed || ev.Kind == core.EventPeerError) {
		delete(t.links, ev.PeerID)
	}
	t.mu.Unlock()
	if !current {
		return
	}
	t.emit(ev)
}

func (t *Transport) emit(ev core.Event) {
	t.emitMu.RLock()
	defer t.emitMu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.events <- ev:
	case <-t.ctx.Done():
	}
}

// tryEmit is used for tracker notices, which are dropped rather than block.
func (t *Transport) tryEmit(ev core.Event) {
	t.emitMu.RLock()
	defer t.emitMu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.events <- ev:
	default:
		t.logger.Debug().Str("kind", ev.Kind.String()).Msg("event queue full, notice dropped")
	}
}

// Destroy leaves every swarm, closes every link and closes Events.
func (t *Transport) Destroy() error {
	var errs []error
	t.destroyOnce.Do(func() {
		t.mu.Lock()
		trackers := t.trackers
		links := t.links
		t.links = make(map[domain.PeerID]*link)
		t.mu.Unlock()

		for id, l := range links {
			if err := l.conn.Destroy(); err != nil {
				errs = append(errs, fmt.Errorf("peer %s: %w", id, err))
			}
		}
		for _, tc := range trackers {
			_ = tc.sendJSON(wire.TrackerMessage{Type: wire.TrackerLeave})
			tc.close()
		}
		t.wg.Wait()
		t.cancel()

		t.emitMu.Lock()
		t.closed = true
		close(t.events)
		t.emitMu.Unlock()
		t.logger.Info().Msg("transport destroyed")
	})
	return errors.Join(errs...)
}
