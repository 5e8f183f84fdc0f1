package media

import (
	"sync"

	"github.com/pion/opus"
	"github.com/rs/zerolog/log"
)

// frameSamples is one 20ms SILK frame upsampled to 48kHz mono.
const frameSamples = 960

// Analyser keeps the latest window of decoded samples of one track.
// Only single-frame SILK packets decode; anything else is skipped.
type Analyser struct {
	track *Track

	mu      sync.Mutex
	decoder opus.Decoder
	pcm     []float32
	ring    []float32
	pos     int
	closed  bool
	warned  bool
}

func newAnalyser(size int, track *Track) *Analyser {
	if size <= 0 {
		size = 1024
	}
	return &Analyser{
		track:   track,
		decoder: opus.NewDecoder(),
		pcm:     make([]float32, frameSamples),
		ring:    make([]float32, size),
	}
}

func (a *Analyser) Size() int { return len(a.ring) }

// FloatTimeDomainData copies the window oldest first.
func (a *Analyser) FloatTimeDomainData(buf []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := copy(buf, a.ring[a.pos:])
	copy(buf[n:], a.ring[:a.pos])
}

func (a *Analyser) feed(packet []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	// The SILK decoder always yields mono regardless of the stereo flag.
	if _, _, err := a.decoder.DecodeFloat32(packet, a.pcm); err != nil {
		if !a.warned {
			a.warned = true
			log.Warn().Err(err).Str("module", "media.analyser").
				Msg("voice detection needs SILK Opus (encode with -application voip and a low bitrate)")
		} else {
			log.Debug().Err(err).Str("module", "media.analyser").Msg("opus decode")
		}
		return
	}
	a.push(a.pcm)
}

func (a *Analyser) push(samples []float32) {
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % len(a.ring)
	}
}

func (a *Analyser) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()
	if a.track != nil {
		a.track.removeAnalyser(a)
	}
	return nil
}
