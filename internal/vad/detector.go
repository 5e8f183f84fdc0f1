// Package vad decides from microphone energy when the local user is speaking.
//
// The detector calibrates its noise floor from the first frame of a run and
// keeps it for the rest of that run; drifting ambient noise is not tracked.
// Onset and release use different thresholds plus minimum durations, so a
// level hovering at one boundary does not toggle transmission.
package vad

import (
	"math"
	"time"
)

type Config struct {
	FFTSize         int           // analysis window in samples
	Interval        time.Duration // sampling cadence
	MinNoiseFloor   float64
	CalibrationGain float64 // noise floor = first RMS * gain
	OnsetRatio      float64 // onset threshold = noise floor * ratio
	ReleaseRatio    float64 // release threshold = noise floor * ratio
	Attack          time.Duration
	Release         time.Duration
}

func DefaultConfig() Config {
	return Config{
		FFTSize:         1024,
		Interval:        time.Second / 60,
		MinNoiseFloor:   0.004,
		CalibrationGain: 1.4,
		OnsetRatio:      2.4,
		ReleaseRatio:    1.6,
		Attack:          90 * time.Millisecond,
		Release:         380 * time.Millisecond,
	}
}

// RMS is the root-mean-square energy of a frame.
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// Detector is the speaking/silent state machine of one run. Not safe for
// concurrent use; the Runner owns it.
type Detector struct {
	cfg        Config
	noiseFloor float64
	armed      bool
	speaking   bool
	aboveSince time.Time
	belowSince time.Time
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

func (d *Detector) NoiseFloor() float64 { return d.noiseFloor }
func (d *Detector) Speaking() bool      { return d.speaking }

func (d *Detector) onset() float64   { return d.noiseFloor * d.cfg.OnsetRatio }
func (d *Detector) release() float64 { return d.noiseFloor * d.cfg.ReleaseRatio }

// Observe feeds one frame energy measured at now and reports the current
// state and whether this frame changed it.
func (d *Detector) Observe(rms float64, now time.Time) (speaking, changed bool) {
	if !d.armed {
		d.noiseFloor = math.Max(d.cfg.MinNoiseFloor, rms*d.cfg.CalibrationGain)
		d.armed = true
	}

	if !d.speaking {
		if rms <= d.onset() {
			d.aboveSince = time.Time{}
			return false, false
		}
		if d.aboveSince.IsZero() {
			d.aboveSince = now
		}
		if now.Sub(d.aboveSince) >= d.cfg.Attack {
			d.speaking = true
			d.aboveSince = time.Time{}
			d.belowSince = time.Time{}
			return true, true
		}
		return false, false
	}

	if rms >= d.release() {
		d.belowSince = time.Time{}
		return true, false
	}
	if d.belowSince.IsZero() {
		d.belowSince = now
	}
	if now.Sub(d.belowSince) >= d.cfg.Release {
		d.speaking = false
		d.aboveSince = time.Time{}
		d.belowSince = time.Time{}
		return false, true
	}
	return true, false
}
