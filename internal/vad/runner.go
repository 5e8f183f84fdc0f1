package vad

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/roomvoice/internal/core"
	"github.com/rs/zerolog/log"
)

// Runner samples an analyser on a fixed cadence and reports transitions.
// Start and Stop are idempotent.
type Runner struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	analyser core.Analyser
}

func NewRunner(cfg Config) *Runner {
	return &Runner{cfg: cfg, now: time.Now}
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start begins a fresh run over analyser; the noise floor recalibrates.
// onChange is called from the sampling goroutine on every transition.
// It returns false when a run is already active.
func (r *Runner) Start(ctx context.Context, analyser core.Analyser, onChange func(speaking bool)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	r.analyser = analyser

	go r.loop(ctx, analyser, onChange, r.done)
	log.Info().Str("module", "vad").Int("fft_size", r.cfg.FFTSize).Msg("vad started")
	return true
}

// Stop cancels the run, waits until no sampling is pending and releases the
// analyser. It returns false when nothing was running.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return false
	}
	r.running = false
	cancel, done, analyser := r.cancel, r.done, r.analyser
	r.cancel, r.done, r.analyser = nil, nil, nil
	r.mu.Unlock()

	cancel()
	<-done
	if err := analyser.Close(); err != nil {
		log.Warn().Err(err).Str("module", "vad").Msg("analyser close")
	}
	log.Info().Str("module", "vad").Msg("vad stopped")
	return true
}

func (r *Runner) loop(ctx context.Context, analyser core.Analyser, onChange func(bool), done chan struct{}) {
	defer close(done)

	det := NewDetector(r.cfg)
	buf := make([]float32, analyser.Size())
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		analyser.FloatTimeDomainData(buf)
		speaking, changed := det.Observe(RMS(buf), r.now())
		if !changed {
			continue
		}
		log.Debug().Str("module", "vad").Bool("speaking", speaking).Float64("noise_floor", det.NoiseFloor()).Msg("vad transition")
		if ctx.Err() != nil {
			return
		}
		onChange(speaking)
	}
}
