package core

import "context"

// AudioTrack is one capture track. Disabled tracks carry silence.
type AudioTrack interface {
	ID() string
	Enabled() bool
	SetEnabled(on bool)
	// Clone returns an independent track over the same source, enabled.
	Clone() (AudioTrack, error)
	// NewAnalyser exposes the time-domain signal of this track.
	NewAnalyser(size int) (Analyser, error)
	Stop() error
}

type AudioStream interface {
	ID() string
	AudioTracks() []AudioTrack
	// Stop stops every track of the stream.
	Stop() error
}

// Microphone is the capture device.
type Microphone interface {
	// RequestAudio fails with domain.ErrMicrophoneUnavailable when there is
	// no device or no permission.
	RequestAudio(ctx context.Context) (AudioStream, error)
}

// Analyser yields the most recent window of samples in [-1, 1].
type Analyser interface {
	Size() int
	// FloatTimeDomainData fills buf with the latest Size() samples.
	FloatTimeDomainData(buf []float32)
	Close() error
}

// AudioSink is the playback handle of one inbound track.
type AudioSink interface {
	Close() error
}

// SinkFactory creates the playback handle for a remote track.
type SinkFactory interface {
	NewSink(ctx context.Context, peer string, track RemoteTrack) (AudioSink, error)
}
