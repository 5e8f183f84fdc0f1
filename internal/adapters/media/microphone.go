// Package media implements the capture and playback capabilities over Ogg/Opus
// streams and pion tracks.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const opusClockRate = 48000

// OggMicrophone captures from an Ogg/Opus stream, typically a named pipe fed
// by ffmpeg. Pages should carry one Opus packet (-page_duration 20000).
type OggMicrophone struct {
	Path string
	// Open defaults to os.Open.
	Open func(path string) (io.ReadCloser, error)
}

func (m *OggMicrophone) RequestAudio(ctx context.Context) (core.AudioStream, error) {
	if m.Path == "" {
		return nil, fmt.Errorf("%w: no capture source configured", domain.ErrMicrophoneUnavailable)
	}
	open := m.Open
	if open == nil {
		open = func(p string) (io.ReadCloser, error) { return os.Open(p) }
	}
	rc, err := open(m.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMicrophoneUnavailable, err)
	}
	reader, header, err := oggreader.NewWith(rc)
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("%w: not an ogg/opus stream: %w", domain.ErrMicrophoneUnavailable, err)
	}

	streamID := "mic-" + uuid.NewString()[:8]
	src := newSource(reader, rc, streamID)
	track, err := src.newTrack()
	if err != nil {
		src.close()
		return nil, fmt.Errorf("%w: %w", domain.ErrMicrophoneUnavailable, err)
	}
	go src.pump()

	log.Info().Str("module", "media").Str("path", m.Path).Uint8("channels", header.Channels).Uint32("sample_rate", header.SampleRate).Msg("microphone opened")
	return &Stream{id: streamID, tracks: []core.AudioTrack{track}}, nil
}

// Stream groups the tracks handed out by one RequestAudio.
type Stream struct {
	id     string
	tracks []core.AudioTrack
}

func (s *Stream) ID() string                     { return s.id }
func (s *Stream) AudioTracks() []core.AudioTrack { return s.tracks }

func (s *Stream) Stop() error {
	var errs []error
	for _, t := range s.tracks {
		errs = append(errs, t.Stop())
	}
	return errors.Join(errs...)
}

// source reads pages in real time and fans them out to its tracks. It closes
// the underlying reader when the last track stops.
type source struct {
	reader   *oggreader.OggReader
	closer   io.Closer
	streamID string
	logger   zerolog.Logger

	mu     sync.Mutex
	tracks map[*Track]struct{}
	closed bool
	seq    int
	stop   chan struct{}
}

func newSource(reader *oggreader.OggReader, closer io.Closer, streamID string) *source {
	return &source{
		reader:   reader,
		closer:   closer,
		streamID: streamID,
		logger:   log.With().Str("module", "media").Str("stream", streamID).Logger(),
		tracks:   make(map[*Track]struct{}),
		stop:     make(chan struct{}),
	}
}

func (s *source) newTrack() (*Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("source closed")
	}
	s.seq++
	t, err := newTrack(s, fmt.Sprintf("%s-audio-%d", s.streamID, s.seq))
	if err != nil {
		return nil, err
	}
	s.tracks[t] = struct{}{}
	return t, nil
}

func (s *source) detach(t *Track) {
	s.mu.Lock()
	delete(s.tracks, t)
	last := len(s.tracks) == 0
	s.mu.Unlock()
	if last {
		s.close()
	}
}

func (s *source) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()
	if err := s.closer.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("source close")
	}
}

func (s *source) snapshot() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Track, 0, len(s.tracks))
	for t := range s.tracks {
		out = append(out, t)
	}
	return out
}

// pump paces pages by their granule position, like a capture device.
func (s *source) pump() {
	var lastGranule uint64
	next := time.Now()
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		page, header, err := s.reader.ParseNextPage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info().Msg("capture source ended")
			} else {
				s.logger.Warn().Err(err).Msg("capture read")
			}
			s.close()
			return
		}
		if bytes.HasPrefix(page, []byte("OpusTags")) {
			continue
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		dur := time.Duration(float64(samples) / opusClockRate * float64(time.Second))
		if dur <= 0 || dur > time.Second {
			dur = 20 * time.Millisecond
		}

		for _, t := range s.snapshot() {
			t.deliver(page, dur)
		}

		next = next.Add(dur)
		if wait := time.Until(next); wait > 0 {
			select {
			case <-s.stop:
				return
			case <-time.After(wait):
			}
		} else if wait < -time.Second {
			next = time.Now()
		}
	}
}
