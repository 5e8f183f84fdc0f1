package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/dkeye/roomvoice/internal/app/orch"
	"github.com/dkeye/roomvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// Session is what the shell drives.
type Session interface {
	Join(ctx context.Context, room, nick string) error
	Leave()
	SendChat(text string) (orch.BroadcastResult, error)
	SetPTT(held bool) bool
	SetVAD(enabled bool) error
	Roster() []string
	Active() bool
}

const helpText = `commands:
  <text>               send a chat message
  /join <room> [nick]  join a room
  /leave               leave the room
  /ptt                 toggle push-to-talk
  /vad on|off          voice activity detection
  /who                 list peers
  /quit                exit`

// Shell reads commands line by line.
type Shell struct {
	sess    Session
	console *Console
	nick    string
	ptt     bool
}

func NewShell(sess Session, console *Console, nick string) *Shell {
	return &Shell{sess: sess, console: console, nick: nick}
}

// Run returns on /quit, end of input or ctx cancellation.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			if quit := s.Exec(ctx, line); quit {
				return nil
			}
		}
	}
}

// Exec runs one line and reports whether the shell should exit.
func (s *Shell) Exec(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		s.say(line)
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		s.console.Chat(helpText)
	case "/join":
		if len(fields) < 2 {
			s.console.Status("usage: /join <room> [nick]")
			return false
		}
		if len(fields) > 2 {
			s.nick = strings.Join(fields[2:], " ")
		}
		s.ptt = false
		if err := s.sess.Join(ctx, fields[1], s.nick); err != nil {
			log.Debug().Err(err).Str("module", "cli").Msg("join")
		}
	case "/leave":
		s.ptt = false
		s.sess.Leave()
	case "/ptt":
		s.ptt = !s.ptt
		on := s.sess.SetPTT(s.ptt)
		s.console.Status("Push-to-talk " + onOff(s.ptt) + ", transmitting " + onOff(on) + ".")
	case "/vad":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			s.console.Status("usage: /vad on|off")
			return false
		}
		err := s.sess.SetVAD(fields[1] == "on")
		switch {
		case errors.Is(err, domain.ErrMicrophoneUnavailable):
			s.console.Status("VAD needs a microphone.")
		case errors.Is(err, domain.ErrNoSession):
			s.console.Status("Join a room first.")
		case err != nil:
			s.console.Status("VAD failed: " + err.Error())
		default:
			s.console.Status("VAD " + fields[1] + ".")
		}
	case "/who":
		s.console.Roster(s.sess.Roster())
	default:
		s.console.Status("unknown command " + fields[0] + ", try /help")
	}
	return false
}

func (s *Shell) say(text string) {
	if !s.sess.Active() {
		s.console.Status("Join a room first.")
		return
	}
	res, err := s.sess.SendChat(text)
	if err != nil {
		return
	}
	if len(res.Failed) > 0 {
		log.Warn().Err(res.Err).Str("module", "cli").Int("failed", len(res.Failed)).Msg("chat partially delivered")
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
