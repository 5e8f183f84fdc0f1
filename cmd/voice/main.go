package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/roomvoice/internal/adapters/cli"
	"github.com/dkeye/roomvoice/internal/adapters/media"
	"github.com/dkeye/roomvoice/internal/adapters/p2p"
	"github.com/dkeye/roomvoice/internal/adapters/rtc"
	"github.com/dkeye/roomvoice/internal/app/orch"
	"github.com/dkeye/roomvoice/internal/config"
	"github.com/dkeye/roomvoice/internal/core"
	"github.com/dkeye/roomvoice/internal/vad"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	flags := pflag.NewFlagSet("voice", pflag.ExitOnError)
	flags.String("room", "", "room code to join on start")
	flags.String("nickname", "", "nickname shown to peers")
	flags.String("microphone", "", "Ogg/Opus capture file or pipe; encode with libopus -application voip -b:a 16k so VAD can decode it")
	flags.String("record_dir", "", "directory to record peers into")
	flags.Bool("vad", false, "enable voice activity detection after join")
	flags.StringSlice("trackers", nil, "rendezvous websocket urls")
	flags.StringSlice("ice_servers", nil, "STUN/TURN urls")
	flags.String("log_level", "warn", "log level")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	console := cli.NewConsole(os.Stdout)
	ctl := orch.New(orch.Deps{
		NewTransport: func() (core.Transport, error) {
			return p2p.New(p2p.Config{
				Trackers: cfg.Trackers,
				WebRTC:   rtc.DefaultWebRTCConfig(cfg.ICEServers),
			}), nil
		},
		Microphone: &media.OggMicrophone{Path: cfg.Microphone},
		Sinks:      &media.SinkFactory{RecordDir: cfg.RecordDir},
		Presenter:  console,
		VAD:        vad.DefaultConfig(),
	})

	if cfg.Room == "" {
		console.Status("Enter a room code")
	} else if err := ctl.Join(ctx, cfg.Room, cfg.Nickname); err == nil && cfg.VAD {
		if err := ctl.SetVAD(true); err != nil {
			console.Status("VAD unavailable: " + err.Error())
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return cli.NewShell(ctl, console, cfg.Nickname).Run(gctx, os.Stdin)
	})
	g.Go(func() error {
		<-gctx.Done()
		ctl.Leave()
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("shell")
	}
}
