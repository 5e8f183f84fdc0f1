// Package rtc wraps one pion PeerConnection as a peer link with a chat data
// channel and in-band renegotiation.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Negotiated channel ids; both sides create them without an in-band open.
const (
	chatChannelID      uint16 = 0
	negotiateChannelID uint16 = 1
)

// ErrNotPublishable is returned for tracks that have no pion representation.
var ErrNotPublishable = errors.New("track cannot be published")

// LocalTrack is a capture track the link can publish.
type LocalTrack interface {
	TrackLocal() webrtc.TrackLocal
}

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

// Conn is one link to a remote peer. The side that answered the first offer
// is polite and yields on renegotiation glare.
type Conn struct {
	id     domain.PeerID
	pc     *webrtc.PeerConnection
	polite bool
	emit   func(core.Event)
	logger zerolog.Logger

	chat      *webrtc.DataChannel
	negotiate *webrtc.DataChannel

	negMu       sync.Mutex
	makingOffer bool
	pending     bool

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce   sync.Once
	destroyOnce sync.Once
}

// NewConn creates the link; initiator is the side that will send the first
// offer. emit receives every event of this link.
func NewConn(cfg webrtc.Configuration, id domain.PeerID, initiator bool, emit func(core.Event)) (*Conn, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:     id,
		pc:     pc,
		polite: !initiator,
		emit:   emit,
		logger: log.With().Str("module", "webrtc").Str("peer", string(id)).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
	if err := c.setup(); err != nil {
		cancel()
		_ = pc.Close()
		return nil, err
	}
	return c, nil
}

func negotiated(id uint16) *webrtc.DataChannelInit {
	yes := true
	return &webrtc.DataChannelInit{Negotiated: &yes, ID: &id}
}

func (c *Conn) setup() error {
	var err error
	if c.chat, err = c.pc.CreateDataChannel("chat", negotiated(chatChannelID)); err != nil {
		return fmt.Errorf("chat channel: %w", err)
	}
	if c.negotiate, err = c.pc.CreateDataChannel("negotiate", negotiated(negotiateChannelID)); err != nil {
		return fmt.Errorf("negotiate channel: %w", err)
	}

	c.chat.OnOpen(func() {
		c.logger.Info().Msg("chat channel open")
		c.emit(core.Event{Kind: core.EventPeerConnected, PeerID: c.id, Conn: c})
	})
	c.chat.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.emit(core.Event{Kind: core.EventPeerData, PeerID: c.id, Data: msg.Data})
	})
	// Tracks added before the channel opened are offered once it does.
	c.negotiate.OnOpen(func() {
		c.negMu.Lock()
		pending := c.pending
		c.negMu.Unlock()
		if pending {
			go c.renegotiate()
		}
	})
	c.negotiate.OnMessage(func(msg webrtc.DataChannelMessage) {
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(msg.Data, &desc); err != nil {
			c.logger.Warn().Err(err).Msg("bad negotiate message")
			return
		}
		go c.onRemoteDescription(desc)
	})

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateFailed:
			c.closed(fmt.Errorf("connection failed"))
		case webrtc.PeerConnectionStateClosed:
			c.closed(nil)
		}
	})
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		c.emit(core.Event{Kind: core.EventPeerTrack, PeerID: c.id, Track: track})
	})
	return nil
}

// closed reports the end of the link once.
func (c *Conn) closed(err error) {
	c.closeOnce.Do(func() {
		c.cancel()
		if err != nil {
			c.emit(core.Event{Kind: core.EventPeerError, PeerID: c.id, Err: err})
			return
		}
		c.emit(core.Event{Kind: core.EventPeerClosed, PeerID: c.id})
	})
}

func (c *Conn) ID() domain.PeerID { return c.id }

func (c *Conn) Send(data []byte) error {
	if c.chat.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("%w: chat channel %s", domain.ErrSend, c.chat.ReadyState())
	}
	if err := c.chat.Send(data); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSend, err)
	}
	return nil
}

// AddTrack publishes the track and renegotiates over the negotiate channel.
func (c *Conn) AddTrack(track core.AudioTrack, _ core.AudioStream) error {
	lt, ok := track.(LocalTrack)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotPublishable, track.ID())
	}
	sender, err := c.pc.AddTrack(lt.TrackLocal())
	if err != nil {
		return err
	}
	go func() {
		// RTCP must be read for interceptors to run.
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	go c.renegotiate()
	return nil
}

// Destroy closes the link. It is safe to call more than once.
func (c *Conn) Destroy() error {
	var err error
	c.destroyOnce.Do(func() {
		c.cancel()
		if err = c.pc.Close(); err != nil {
			c.logger.Error().Err(err).Msg("close error")
			err = fmt.Errorf("%w: %w", domain.ErrTeardown, err)
		} else {
			c.logger.Info().Msg("closed")
		}
	})
	return err
}

// gather sets the local description and waits for ICE gathering, so the SDP
// carries every candidate.
func (c *Conn) gather(ctx context.Context, desc webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, errors.New("link closed")
	}
	return c.pc.LocalDescription(), nil
}

// CreateOffer produces the first offer of an initiating link.
func (c *Conn) CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	c.negMu.Lock()
	defer c.negMu.Unlock()
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	return c.gather(ctx, offer)
}

// ApplyOfferAndCreateAnswer answers the first offer of a remote initiator.
func (c *Conn) ApplyOfferAndCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	c.negMu.Lock()
	defer c.negMu.Unlock()
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	return c.gather(ctx, answer)
}

// ApplyAnswer completes the first exchange on the initiating side.
func (c *Conn) ApplyAnswer(answer webrtc.SessionDescription) error {
	c.negMu.Lock()
	defer c.negMu.Unlock()
	return c.pc.SetRemoteDescription(answer)
}

func (c *Conn) renegotiate() {
	c.negMu.Lock()
	defer c.negMu.Unlock()
	if c.ctx.Err() != nil {
		return
	}
	if c.pc.SignalingState() != webrtc.SignalingStateStable ||
		c.negotiate.ReadyState() != webrtc.DataChannelStateOpen {
		c.pending = true
		return
	}
	c.pending = false
	c.makingOffer = true
	defer func() { c.makingOffer = false }()

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.logger.Warn().Err(err).Msg("renegotiation offer")
		return
	}
	local, err := c.gather(c.ctx, offer)
	if err != nil {
		c.logger.Warn().Err(err).Msg("renegotiation gather")
		return
	}
	c.sendDescription(local)
}

func (c *Conn) onRemoteDescription(desc webrtc.SessionDescription) {
	c.negMu.Lock()
	retry := false
	defer func() {
		c.negMu.Unlock()
		if retry {
			c.renegotiate()
		}
	}()

	switch desc.Type {
	case webrtc.SDPTypeOffer:
		glare := c.makingOffer || c.pc.SignalingState() != webrtc.SignalingStateStable
		if glare && !c.polite {
			c.logger.Debug().Msg("renegotiation glare, ignoring remote offer")
			return
		}
		if glare {
			if err := c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
				c.logger.Warn().Err(err).Msg("rollback")
				return
			}
			c.pending = true
		}
		if err := c.pc.SetRemoteDescription(desc); err != nil {
			c.logger.Warn().Err(err).Msg("apply remote offer")
			return
		}
		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			c.logger.Warn().Err(err).Msg("renegotiation answer")
			return
		}
		local, err := c.gather(c.ctx, answer)
		if err != nil {
			c.logger.Warn().Err(err).Msg("renegotiation gather")
			return
		}
		c.sendDescription(local)
	case webrtc.SDPTypeAnswer:
		if err := c.pc.SetRemoteDescription(desc); err != nil {
			c.logger.Warn().Err(err).Msg("apply remote answer")
			return
		}
	default:
		return
	}
	retry = c.pending
}

func (c *Conn) sendDescription(desc *webrtc.SessionDescription) {
	payload, err := json.Marshal(desc)
	if err != nil {
		return
	}
	if err := c.negotiate.Send(payload); err != nil {
		c.logger.Warn().Err(err).Msg("send description")
	}
}
