package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PacketReader is the read side of a remote track.
type PacketReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// PacketWriter receives the inbound packets of one sink.
type PacketWriter interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// SinkFactory plays remote tracks. With RecordDir set every track is also
// written to an Ogg file named after the peer.
type SinkFactory struct {
	RecordDir string
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (f *SinkFactory) NewSink(ctx context.Context, peer string, track core.RemoteTrack) (core.AudioSink, error) {
	src, ok := track.(PacketReader)
	if !ok {
		return nil, fmt.Errorf("track %s cannot be read", track.ID())
	}
	var writers []PacketWriter
	if f.RecordDir != "" {
		if err := os.MkdirAll(f.RecordDir, 0o755); err != nil {
			return nil, fmt.Errorf("record dir: %w", err)
		}
		name := fmt.Sprintf("%s-%s.ogg", unsafeName.ReplaceAllString(peer, "_"), unsafeName.ReplaceAllString(track.ID(), "_"))
		w, err := oggwriter.New(filepath.Join(f.RecordDir, name), opusClockRate, 2)
		if err != nil {
			return nil, fmt.Errorf("recorder: %w", err)
		}
		writers = append(writers, w)
	}
	return NewSink(ctx, peer, src, writers...), nil
}

type outputState int32

const (
	outputOk outputState = iota
	outputDelete
)

type output struct {
	w     PacketWriter
	state atomic.Int32
}

// Sink drains one remote track into its writers until closed or until the
// track ends.
type Sink struct {
	src    PacketReader
	logger zerolog.Logger

	mu      sync.Mutex
	outputs []*output
	closed  bool

	packets atomic.Uint64
	bytes   atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSink(ctx context.Context, peer string, src PacketReader, writers ...PacketWriter) *Sink {
	ctx, cancel := context.WithCancel(ctx)
	s := &Sink{
		src:    src,
		logger: log.With().Str("module", "media.sink").Str("peer", peer).Logger(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, w := range writers {
		s.outputs = append(s.outputs, &output{w: w})
	}
	go s.loop(ctx)
	return s
}

func (s *Sink) loop(ctx context.Context) {
	defer close(s.done)
	defer s.closeOutputs()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := s.src.ReadRTP()
		if err != nil {
			s.logger.Debug().Err(err).Msg("remote track ended")
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(pkt.Payload)))
		s.forward(pkt)
	}
}

func (s *Sink) forward(pkt *rtp.Packet) {
	s.mu.Lock()
	outs := append([]*output(nil), s.outputs...)
	s.mu.Unlock()

	dirty := false
	for _, o := range outs {
		if outputState(o.state.Load()) == outputDelete {
			dirty = true
			continue
		}
		if err := o.w.WriteRTP(pkt); err != nil {
			s.logger.Error().Err(err).Msg("sink write failed, dropping output")
			o.state.Store(int32(outputDelete))
			dirty = true
		}
	}
	if dirty {
		s.cleanup()
	}
}

func (s *Sink) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.outputs[:0]
	for _, o := range s.outputs {
		if outputState(o.state.Load()) == outputDelete {
			_ = o.w.Close()
			continue
		}
		kept = append(kept, o)
	}
	s.outputs = kept
}

func (s *Sink) closeOutputs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	var errs []error
	for _, o := range s.outputs {
		errs = append(errs, o.w.Close())
	}
	s.outputs = nil
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn().Err(err).Msg("close outputs")
	}
	s.logger.Debug().Uint64("packets", s.packets.Load()).Uint64("bytes", s.bytes.Load()).Msg("sink closed")
}

// Close stops forwarding. A read blocked on the remote track is left to
// finish when the peer connection goes away.
func (s *Sink) Close() error {
	s.cancel()
	s.closeOutputs()
	return nil
}

// Done is closed when the read loop exits.
func (s *Sink) Done() <-chan struct{} { return s.done }

// Packets reports how many packets the sink has read.
func (s *Sink) Packets() uint64 { return s.packets.Load() }
