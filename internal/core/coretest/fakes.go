// Package coretest provides in-memory implementations of the core
// interfaces for tests.
package coretest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/domain"
)

var ErrInjected = errors.New("injected failure")

// PeerConn records what the session sends to one peer.
type PeerConn struct {
	PeerID domain.PeerID

	mu         sync.Mutex
	sent       [][]byte
	tracks     []core.AudioTrack
	destroyed  int
	SendErr    error
	DestroyErr error
	TrackErr   error
}

func NewPeerConn(id domain.PeerID) *PeerConn { return &PeerConn{PeerID: id} }

func (p *PeerConn) ID() domain.PeerID { return p.PeerID }

func (p *PeerConn) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SendErr != nil {
		return p.SendErr
	}
	p.sent = append(p.sent, append([]byte(nil), data...))
	return nil
}

func (p *PeerConn) AddTrack(track core.AudioTrack, _ core.AudioStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TrackErr != nil {
		return p.TrackErr
	}
	p.tracks = append(p.tracks, track)
	return nil
}

func (p *PeerConn) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed++
	return p.DestroyErr
}

func (p *PeerConn) Sent() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.sent...)
}

func (p *PeerConn) Tracks() []core.AudioTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.AudioTrack(nil), p.tracks...)
}

func (p *PeerConn) Destroyed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// Transport feeds scripted events to the session.
type Transport struct {
	StartErr   error
	DestroyErr error

	mu        sync.Mutex
	events    chan core.Event
	topic     domain.Topic
	started   bool
	destroyed bool
}

func NewTransport() *Transport {
	return &Transport{events: make(chan core.Event, 64)}
}

func (t *Transport) Start(_ context.Context, topic domain.Topic) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.StartErr != nil {
		return t.StartErr
	}
	t.topic = topic
	t.started = true
	return nil
}

func (t *Transport) Events() <-chan core.Event { return t.events }

func (t *Transport) Destroy() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.destroyed {
		t.destroyed = true
		close(t.events)
	}
	return t.DestroyErr
}

// Emit queues an event unless the transport was destroyed.
func (t *Transport) Emit(ev core.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return
	}
	t.events <- ev
}

func (t *Transport) Topic() domain.Topic {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.topic
}

func (t *Transport) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

func (t *Transport) Destroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destroyed
}

// AudioTrack counts enabled-flag writes.
type AudioTrack struct {
	TrackID string

	mu       sync.Mutex
	enabled  bool
	toggles  int
	stopped  bool
	Analyser core.Analyser
}

func NewAudioTrack(id string) *AudioTrack { return &AudioTrack{TrackID: id, enabled: true} }

func (a *AudioTrack) ID() string { return a.TrackID }

func (a *AudioTrack) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func (a *AudioTrack) SetEnabled(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = on
	a.toggles++
}

func (a *AudioTrack) Toggles() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.toggles
}

func (a *AudioTrack) Clone() (core.AudioTrack, error) {
	c := NewAudioTrack(a.TrackID + "-clone")
	c.Analyser = a.Analyser
	return c, nil
}

func (a *AudioTrack) NewAnalyser(size int) (core.Analyser, error) {
	if a.Analyser != nil {
		return a.Analyser, nil
	}
	return &SilentAnalyser{N: size}, nil
}

func (a *AudioTrack) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	a.enabled = false
	return nil
}

func (a *AudioTrack) Stopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

type AudioStream struct {
	StreamID string
	Tracks   []*AudioTrack
}

func (s *AudioStream) ID() string { return s.StreamID }

func (s *AudioStream) AudioTracks() []core.AudioTrack {
	out := make([]core.AudioTrack, len(s.Tracks))
	for i, t := range s.Tracks {
		out[i] = t
	}
	return out
}

func (s *AudioStream) Stop() error {
	for _, t := range s.Tracks {
		_ = t.Stop()
	}
	return nil
}

// Microphone hands out one stream, or fails with Err.
type Microphone struct {
	Stream *AudioStream
	Err    error
}

func NewMicrophone() *Microphone {
	return &Microphone{Stream: &AudioStream{StreamID: "mic", Tracks: []*AudioTrack{NewAudioTrack("mic-0")}}}
}

func (m *Microphone) RequestAudio(context.Context) (core.AudioStream, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Stream, nil
}

type SilentAnalyser struct{ N int }

func (s *SilentAnalyser) Size() int { return s.N }
func (s *SilentAnalyser) FloatTimeDomainData(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
}
func (s *SilentAnalyser) Close() error { return nil }

// RemoteTrack is an inbound track stub.
type RemoteTrack struct{ TrackID, Stream string }

func (r RemoteTrack) ID() string       { return r.TrackID }
func (r RemoteTrack) StreamID() string { return r.Stream }

// Sink is an inbound audio handle.
type Sink struct {
	Peer  string
	Track string

	mu     sync.Mutex
	closed int
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *Sink) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SinkFactory remembers every sink it created.
type SinkFactory struct {
	Err error

	mu    sync.Mutex
	sinks []*Sink
}

func (f *SinkFactory) NewSink(_ context.Context, peer string, track core.RemoteTrack) (core.AudioSink, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &Sink{Peer: peer, Track: track.ID()}
	f.sinks = append(f.sinks, s)
	return s, nil
}

func (f *SinkFactory) Sinks() []*Sink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Sink(nil), f.sinks...)
}

// Presenter captures what the session shows the user.
type Presenter struct {
	mu      sync.Mutex
	lines   []string
	rosters [][]string
	status  []string
}

func (p *Presenter) Chat(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines = append(p.lines, line)
}

func (p *Presenter) Roster(nicks []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rosters = append(p.rosters, append([]string{}, nicks...))
}

func (p *Presenter) Status(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = append(p.status, msg)
}

func (p *Presenter) Lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lines...)
}

// LastRoster returns the most recent roster, or nil if none was drawn.
func (p *Presenter) LastRoster() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.rosters) == 0 {
		return nil
	}
	return p.rosters[len(p.rosters)-1]
}

func (p *Presenter) LastStatus() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.status) == 0 {
		return ""
	}
	return p.status[len(p.status)-1]
}

func (p *Presenter) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("lines=%q rosters=%q status=%q", p.lines, p.rosters, p.status)
}

// LevelAnalyser produces a square wave whose RMS equals the set level.
type LevelAnalyser struct {
	N int

	mu     sync.Mutex
	level  float32
	closed bool
}

func (l *LevelAnalyser) Size() int { return l.N }

func (l *LevelAnalyser) FloatTimeDomainData(buf []float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range buf {
		if i%2 == 0 {
			buf[i] = l.level
		} else {
			buf[i] = -l.level
		}
	}
}

func (l *LevelAnalyser) SetLevel(v float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = v
}

func (l *LevelAnalyser) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *LevelAnalyser) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
