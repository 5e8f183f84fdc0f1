package media

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// Track is one capture track. It starts disabled; while disabled it forwards
// nothing, which peers and analysers perceive as silence.
type Track struct {
	id    string
	src   *source
	local *webrtc.TrackLocalStaticSample

	enabled atomic.Bool
	stopped atomic.Bool

	mu        sync.Mutex
	analysers map[*Analyser]struct{}
}

func newTrack(src *source, id string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		id, src.streamID,
	)
	if err != nil {
		return nil, err
	}
	return &Track{id: id, src: src, local: local, analysers: make(map[*Analyser]struct{})}, nil
}

func (t *Track) ID() string         { return t.id }
func (t *Track) Enabled() bool      { return t.enabled.Load() }
func (t *Track) SetEnabled(on bool) { t.enabled.Store(on) }

// TrackLocal is what the rtc adapter publishes to a peer connection.
func (t *Track) TrackLocal() webrtc.TrackLocal { return t.local }

func (t *Track) Clone() (core.AudioTrack, error) {
	if t.stopped.Load() {
		return nil, errors.New("track stopped")
	}
	clone, err := t.src.newTrack()
	if err != nil {
		return nil, err
	}
	return clone, nil
}

func (t *Track) NewAnalyser(size int) (core.Analyser, error) {
	a := newAnalyser(size, t)
	t.mu.Lock()
	t.analysers[a] = struct{}{}
	t.mu.Unlock()
	return a, nil
}

func (t *Track) removeAnalyser(a *Analyser) {
	t.mu.Lock()
	delete(t.analysers, a)
	t.mu.Unlock()
}

func (t *Track) Stop() error {
	if t.stopped.Swap(true) {
		return nil
	}
	t.enabled.Store(false)
	t.src.detach(t)
	return nil
}

func (t *Track) deliver(page []byte, dur time.Duration) {
	if !t.enabled.Load() {
		return
	}
	err := t.local.WriteSample(media.Sample{Data: page, Duration: dur})
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		log.Debug().Err(err).Str("module", "media").Str("track", t.id).Msg("write sample")
	}

	t.mu.Lock()
	as := make([]*Analyser, 0, len(t.analysers))
	for a := range t.analysers {
		as = append(as, a)
	}
	t.mu.Unlock()
	for _, a := range as {
		a.feed(page)
	}
}
