package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/roomvoice/internal/core/coretest"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/opus"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedReader struct {
	mu   sync.Mutex
	pkts []*rtp.Packet
}

func (r *scriptedReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pkts) == 0 {
		return nil, nil, io.EOF
	}
	p := r.pkts[0]
	r.pkts = r.pkts[1:]
	return p, nil, nil
}

type recordingWriter struct {
	mu      sync.Mutex
	got     []uint16
	failAt  int
	closed  bool
	written int
}

func (w *recordingWriter) WriteRTP(pkt *rtp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written++
	if w.failAt > 0 && w.written >= w.failAt {
		return errors.New("disk full")
	}
	w.got = append(w.got, pkt.SequenceNumber)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func packets(n int) []*rtp.Packet {
	out := make([]*rtp.Packet, n)
	for i := range out {
		out[i] = &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(i)}, Payload: []byte{1, 2, 3}}
	}
	return out
}

func waitDone(t *testing.T, s *Sink) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sink loop did not exit")
	}
}

func TestSinkForwardsUntilTrackEnds(t *testing.T) {
	w := &recordingWriter{}
	s := NewSink(context.Background(), "alice", &scriptedReader{pkts: packets(5)}, w)
	waitDone(t, s)

	assert.Equal(t, []uint16{0, 1, 2, 3, 4}, w.got)
	assert.True(t, w.closed)
	assert.EqualValues(t, 5, s.Packets())
	require.NoError(t, s.Close())
}

func TestSinkDropsFailingOutput(t *testing.T) {
	bad := &recordingWriter{failAt: 2}
	good := &recordingWriter{}
	s := NewSink(context.Background(), "bob", &scriptedReader{pkts: packets(4)}, bad, good)
	waitDone(t, s)

	assert.Equal(t, []uint16{0}, bad.got)
	assert.Equal(t, 2, bad.written)
	assert.True(t, bad.closed)
	assert.Len(t, good.got, 4)
}

func TestSinkFactoryRejectsUnreadableTrack(t *testing.T) {
	f := &SinkFactory{}
	_, err := f.NewSink(context.Background(), "p", &coretest.RemoteTrack{TrackID: "t1"})
	assert.Error(t, err)
}

func TestMicrophoneWithoutSource(t *testing.T) {
	_, err := (&OggMicrophone{}).RequestAudio(context.Background())
	assert.ErrorIs(t, err, domain.ErrMicrophoneUnavailable)
}

func TestMicrophoneOpenFailure(t *testing.T) {
	m := &OggMicrophone{Path: "/nope", Open: func(string) (io.ReadCloser, error) { return nil, errors.New("denied") }}
	_, err := m.RequestAudio(context.Background())
	assert.ErrorIs(t, err, domain.ErrMicrophoneUnavailable)
}

func TestMicrophoneRejectsNonOgg(t *testing.T) {
	m := &OggMicrophone{Path: "x", Open: func(string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("definitely not ogg")), nil
	}}
	_, err := m.RequestAudio(context.Background())
	assert.ErrorIs(t, err, domain.ErrMicrophoneUnavailable)
}

func TestAnalyserWindowIsChronological(t *testing.T) {
	a := newAnalyser(4, nil)
	a.push([]float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6})

	buf := make([]float32, 4)
	a.FloatTimeDomainData(buf)
	assert.InDeltaSlice(t, []float32{0.3, 0.4, 0.5, 0.6}, buf, 1e-6)
}

func tinyOpusPackets(t *testing.T) [][]byte {
	t.Helper()
	f, err := os.Open("testdata/tiny.ogg")
	require.NoError(t, err)
	defer f.Close()

	r, _, err := oggreader.NewWith(f)
	require.NoError(t, err)
	var packets [][]byte
	for {
		payload, _, err := r.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if bytes.HasPrefix(payload, []byte("OpusTags")) {
			continue
		}
		packets = append(packets, payload)
	}
	require.NotEmpty(t, packets)
	return packets
}

func TestAnalyserDecodesSilkPackets(t *testing.T) {
	packets := tinyOpusPackets(t)
	const rounds = 3

	ref := opus.NewDecoder()
	want := make([]float32, 1024)
	frame := make([]float32, frameSamples)
	a := newAnalyser(1024, nil)
	for i := 0; i < rounds; i++ {
		for _, p := range packets {
			a.feed(p)
			_, _, err := ref.DecodeFloat32(p, frame)
			require.NoError(t, err)
			want = append(want, frame...)
		}
	}
	want = want[len(want)-1024:]

	got := make([]float32, 1024)
	a.FloatTimeDomainData(got)
	assert.InDeltaSlice(t, want, got, 1e-6)

	var peak float32
	for _, s := range got {
		if s < 0 {
			s = -s
		}
		peak = max(peak, s)
	}
	assert.NotZero(t, peak, "decoded speech reaches the window")
}

func TestAnalyserSkipsUndecodablePackets(t *testing.T) {
	a := newAnalyser(8, nil)
	a.push([]float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5})

	// TOC 0xfc: CELT fullband, code 0.
	a.feed([]byte{0xfc, 0x01, 0x02, 0x03})
	a.feed([]byte{0xfc, 0x01, 0x02, 0x03})
	a.feed(nil)

	buf := make([]float32, 8)
	a.FloatTimeDomainData(buf)
	assert.InDeltaSlice(t, []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5}, buf, 1e-6)
	assert.True(t, a.warned)
}

type closeRecorder struct {
	io.Reader
	mu     sync.Mutex
	closed bool
}

func (c *closeRecorder) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *closeRecorder) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func oggStream(t *testing.T, pages int) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	w, err := oggwriter.NewWith(buf, opusClockRate, 2)
	require.NoError(t, err)
	for i := range pages {
		require.NoError(t, w.WriteRTP(&rtp.Packet{
			Header:  rtp.Header{SequenceNumber: uint16(i), Timestamp: uint32(i * 960)},
			Payload: []byte{0xfc, 0xff, 0xfe},
		}))
	}
	return buf
}

func TestMicrophoneTracksShareSource(t *testing.T) {
	rc := &closeRecorder{Reader: oggStream(t, 50)}
	m := &OggMicrophone{Path: "pipe", Open: func(string) (io.ReadCloser, error) { return rc, nil }}

	stream, err := m.RequestAudio(context.Background())
	require.NoError(t, err)
	tracks := stream.AudioTracks()
	require.Len(t, tracks, 1)
	assert.False(t, tracks[0].Enabled(), "capture starts silent")

	monitor, err := tracks[0].Clone()
	require.NoError(t, err)
	assert.NotEqual(t, tracks[0].ID(), monitor.ID())
	monitor.SetEnabled(true)
	assert.True(t, monitor.Enabled())

	analyser, err := monitor.NewAnalyser(256)
	require.NoError(t, err)
	assert.Equal(t, 256, analyser.Size())
	require.NoError(t, analyser.Close())

	require.NoError(t, stream.Stop())
	require.NoError(t, monitor.Stop())
	require.NoError(t, monitor.Stop())
	require.Eventually(t, rc.isClosed, 2*time.Second, 10*time.Millisecond)

	_, err = monitor.Clone()
	assert.Error(t, err)
}
