package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/roomvoice/internal/app"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// acquireMic fills the session's audio fields. Outbound tracks start
// silent; a cloned, always-enabled monitor track feeds VAD.
func (c *Controller) acquireMic(ctx context.Context, sess *app.Session) error {
	if c.deps.Microphone == nil {
		return domain.ErrMicrophoneUnavailable
	}
	stream, err := c.deps.Microphone.RequestAudio(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrMicrophoneUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrMicrophoneUnavailable, err)
		}
		return err
	}
	tracks := stream.AudioTracks()
	if len(tracks) == 0 {
		_ = stream.Stop()
		return fmt.Errorf("%w: stream has no audio track", domain.ErrMicrophoneUnavailable)
	}
	for _, t := range tracks {
		t.SetEnabled(false)
	}
	monitor, err := tracks[0].Clone()
	if err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Msg("monitor clone, VAD disabled")
	} else {
		monitor.SetEnabled(true)
		sess.Monitor = monitor
	}
	sess.HasMic = true
	sess.Local = stream
	return nil
}

func (c *Controller) releaseMic(sess *app.Session) {
	if sess.Monitor != nil {
		if err := sess.Monitor.Stop(); err != nil {
			logTeardown(err, "monitor stop", "")
		}
	}
	if sess.Local != nil {
		if err := sess.Local.Stop(); err != nil {
			logTeardown(err, "stream stop", "")
		}
	}
}

// SetPTT declares push-to-talk intent.
func (c *Controller) SetPTT(held bool) bool {
	return c.gate.SetIntent(app.IntentPTT, held)
}

// SetVAD starts or stops voice activity detection. Enabling requires a
// session with a microphone.
func (c *Controller) SetVAD(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !enabled {
		c.stopVAD()
		return nil
	}
	if c.session == nil {
		return domain.ErrNoSession
	}
	if !c.session.HasMic || c.session.Monitor == nil {
		return domain.ErrMicrophoneUnavailable
	}
	if c.vad.Running() {
		return nil
	}
	analyser, err := c.session.Monitor.NewAnalyser(c.deps.VAD.FFTSize)
	if err != nil {
		return fmt.Errorf("vad analyser: %w", err)
	}
	gate := c.gate
	if !c.vad.Start(context.Background(), analyser, func(speaking bool) {
		gate.SetIntent(app.IntentVAD, speaking)
	}) {
		_ = analyser.Close()
	}
	return nil
}

// stopVAD clears the VAD intent; the mic stays on only if PTT is held.
func (c *Controller) stopVAD() {
	if c.vad.Stop() {
		c.gate.SetIntent(app.IntentVAD, false)
	}
}
