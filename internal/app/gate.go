package app

import (
	"sync"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/rs/zerolog/log"
)

type IntentSource int

const (
	IntentPTT IntentSource = iota
	IntentVAD
)

func (s IntentSource) String() string {
	if s == IntentPTT {
		return "ptt"
	}
	return "vad"
}

// MicGate is the only writer of the outbound tracks' enabled flag.
// PTT and VAD declare intent; the gate transmits while either is active.
type MicGate struct {
	mu           sync.Mutex
	tracks       []core.AudioTrack
	pttHeld      bool
	vadSpeaking  bool
	transmitting bool
}

func NewMicGate() *MicGate {
	return &MicGate{}
}

// Bind attaches the outbound tracks and resets every intent; the tracks are
// switched off. A nil slice means no microphone.
func (g *MicGate) Bind(tracks []core.AudioTrack) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tracks = tracks
	g.pttHeld, g.vadSpeaking, g.transmitting = false, false, false
	for _, t := range g.tracks {
		t.SetEnabled(false)
	}
}

// Unbind switches the tracks off and forgets them.
func (g *MicGate) Unbind() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range g.tracks {
		t.SetEnabled(false)
	}
	g.tracks = nil
	g.pttHeld, g.vadSpeaking, g.transmitting = false, false, false
}

// SetIntent records one source's intent and returns the resulting
// transmitting flag. Tracks are touched only when that flag flips.
func (g *MicGate) SetIntent(src IntentSource, active bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.tracks) == 0 {
		return false
	}
	switch src {
	case IntentPTT:
		g.pttHeld = active
	case IntentVAD:
		g.vadSpeaking = active
	}
	next := g.pttHeld || g.vadSpeaking
	if next == g.transmitting {
		return next
	}
	g.transmitting = next
	for _, t := range g.tracks {
		t.SetEnabled(next)
	}
	log.Debug().Str("module", "app.gate").Str("source", src.String()).Bool("transmitting", next).Msg("mic state")
	return next
}

func (g *MicGate) Transmitting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transmitting
}

func (g *MicGate) PTTHeld() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pttHeld
}
