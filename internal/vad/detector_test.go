package vad

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frame = 16 * time.Millisecond

type step struct {
	rms float64
	dur time.Duration
}

// feed plays a piecewise-constant RMS sequence at a 16ms cadence and
// returns the transitions observed, in order.
func feed(d *Detector, start time.Time, steps []step) (transitions []bool, end time.Time) {
	now := start
	for _, s := range steps {
		for elapsed := time.Duration(0); elapsed < s.dur; elapsed += frame {
			if speaking, changed := d.Observe(s.rms, now); changed {
				transitions = append(transitions, speaking)
			}
			now = now.Add(frame)
		}
	}
	return transitions, now
}

func TestRMS(t *testing.T) {
	assert.Zero(t, RMS(nil))
	assert.InDelta(t, 0.5, RMS([]float32{0.5, -0.5, 0.5, -0.5}), 1e-9)
	assert.InDelta(t, 0.70710678, RMS([]float32{1, 0, -1, 0}), 1e-6)
}

func TestCalibration(t *testing.T) {
	d := NewDetector(DefaultConfig())
	d.Observe(0.001, time.Now())
	assert.InDelta(t, 0.004, d.NoiseFloor(), 1e-12, "floor is clamped to the minimum")

	d = NewDetector(DefaultConfig())
	d.Observe(0.01, time.Now())
	assert.InDelta(t, 0.014, d.NoiseFloor(), 1e-12)

	d.Observe(0.5, time.Now())
	assert.InDelta(t, 0.014, d.NoiseFloor(), 1e-12, "floor is fixed after calibration")
}

func TestHysteresisSustainedBurst(t *testing.T) {
	d := NewDetector(DefaultConfig())
	start := time.Unix(0, 0)
	// floor 0.014: onset 0.0336, release 0.0224
	transitions, _ := feed(d, start, []step{
		{0.01, frame},
		{0.2, 100 * time.Millisecond},
		{0.001, 600 * time.Millisecond},
	})
	assert.Equal(t, []bool{true, false}, transitions)
	assert.False(t, d.Speaking())
}

func TestHysteresisShortBurstIgnored(t *testing.T) {
	d := NewDetector(DefaultConfig())
	transitions, _ := feed(d, time.Unix(0, 0), []step{
		{0.01, frame},
		{0.2, 50 * time.Millisecond},
		{0.001, 200 * time.Millisecond},
		{0.2, 50 * time.Millisecond},
		{0.001, 200 * time.Millisecond},
	})
	assert.Empty(t, transitions)
}

func TestReleaseWindowResetsOnNewBurst(t *testing.T) {
	d := NewDetector(DefaultConfig())
	transitions, now := feed(d, time.Unix(0, 0), []step{
		{0.01, frame},
		{0.2, 100 * time.Millisecond},
		{0.001, 300 * time.Millisecond},
		{0.2, frame},
		{0.001, 300 * time.Millisecond},
	})
	assert.Equal(t, []bool{true}, transitions, "a burst inside the release window keeps speaking")

	more, _ := feed(d, now, []step{{0.001, 200 * time.Millisecond}})
	assert.Equal(t, []bool{false}, more)
}

func TestLevelBetweenThresholdsHoldsState(t *testing.T) {
	d := NewDetector(DefaultConfig())
	// 0.028 sits between release (0.0224) and onset (0.0336).
	transitions, _ := feed(d, time.Unix(0, 0), []step{
		{0.01, frame},
		{0.028, time.Second},
	})
	assert.Empty(t, transitions, "never reaches onset")

	d = NewDetector(DefaultConfig())
	transitions, _ = feed(d, time.Unix(0, 0), []step{
		{0.01, frame},
		{0.2, 100 * time.Millisecond},
		{0.028, time.Second},
	})
	require.Equal(t, []bool{true}, transitions, "stays speaking above release")
	assert.True(t, d.Speaking())
}
