package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/dkeye/roomvoice/internal/wire"
	"github.com/rs/zerolog/log"
)

// BroadcastResult reports a best-effort fan-out.
type BroadcastResult struct {
	SendTo int
	Failed []domain.PeerID
	// Err joins the per-peer failures, each wrapping domain.ErrSend.
	Err error
}

// SendChat encrypts text once and sends it to every connected peer. A
// failing peer never prevents delivery to the others. The local echo is
// shown once the envelope is built.
func (c *Controller) SendChat(text string) (BroadcastResult, error) {
	if text == "" {
		return BroadcastResult{}, nil
	}
	sess := c.current()
	if sess == nil {
		return BroadcastResult{}, domain.ErrNoSession
	}

	sealed, err := sess.Key.Seal(text)
	if err != nil {
		c.status("Could not send message.")
		return BroadcastResult{}, err
	}
	payload, err := wire.EncodeChat(sealed)
	if err != nil {
		c.status("Could not send message.")
		return BroadcastResult{}, err
	}

	var res BroadcastResult
	var errs []error
	for _, conn := range c.registry.Conns() {
		if err := conn.Send(payload); err != nil {
			log.Warn().Err(err).Str("module", "app.orch").Str("peer", string(conn.ID())).Msg("send fail")
			res.Failed = append(res.Failed, conn.ID())
			errs = append(errs, fmt.Errorf("%w to %s: %w", domain.ErrSend, conn.ID(), err))
			continue
		}
		res.SendTo++
	}
	res.Err = errors.Join(errs...)
	log.Debug().Str("module", "app.orch").Int("sent_to", res.SendTo).Int("failed", len(res.Failed)).Msg("chat broadcast")

	c.chat("Me: " + text)
	return res, nil
}
