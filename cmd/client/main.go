package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yalive/internal/adapter/driven/bus/wsbus"
	"github.com/Wyydra/yalive/internal/adapter/driven/media/livekit"
	"github.com/Wyydra/yalive/internal/adapter/driven/restapi"
	"github.com/Wyydra/yalive/internal/adapter/driven/ui/console"
	"github.com/Wyydra/yalive/internal/config"
	"github.com/Wyydra/yalive/internal/core/domain"
	"github.com/Wyydra/yalive/internal/core/signaling"
)

// autoAnswer answers every incoming call once it starts ringing.
type autoAnswer struct {
	*console.View
	callee *signaling.Callee
}

func (a *autoAnswer) PlayRingtone(invite domain.CallInvite) {
	a.View.PlayRingtone(invite)
	go a.callee.Accept()
}

func main() {
	cfg, err := config.LoadClient(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	l, err := cfg.Log.Logger()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid log configuration")
	}
	log.Logger = l

	self := domain.UserData{
		Identity: domain.UserID(cfg.UserID),
		Name:     cfg.Name,
		Avatar:   cfg.Avatar,
	}

	api, err := restapi.New(cfg.APIURL, self, cfg.RequestTimeout)
	if err != nil {
		l.Fatal().Err(err).Msg("Invalid API URL")
	}

	clk := clock.New()
	bus := wsbus.New(cfg.WSURL, self.Identity, clk)
	view := console.NewView(l)

	sigCfg := signaling.DefaultConfig()
	sigCfg.MediaURL = cfg.MediaURL
	sigCfg.RingTimeout = cfg.RingTimeout
	sigCfg.CloseDelay = cfg.CloseDelay
	sigCfg.NoticeThrottle = cfg.NoticeThrottle

	deps := signaling.Deps{
		Bus:      bus,
		Calls:    api,
		Streams:  api,
		Media:    livekit.NewConnector(true),
		View:     view,
		Notifier: console.NewNotifier(os.Stderr, l),
		Clock:    clk,
	}
	answer := &autoAnswer{View: view}
	if cfg.AutoAccept {
		deps.View = answer
	}
	callee := signaling.NewCallee(self, deps)
	answer.callee = callee

	phone := signaling.NewPhone(self, deps, sigCfg)
	settings := signaling.NewSettingsCache(deps, sigCfg)
	streams := signaling.NewStreamCoordinator(self, deps, sigCfg, settings)
	viewer := signaling.NewViewer(deps, sigCfg, settings)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	view.SetOpener(func(invite domain.CallInvite) {
		if _, err := phone.Join(ctx, invite); err != nil {
			l.Error().Err(err).Str("code", invite.Code()).Msg("Failed to join call")
		}
	})

	ready := make(chan struct{}, 1)
	bus.OnConnectionChange(func(connected bool) {
		if !connected {
			callee.Stop()
			return
		}
		if err := callee.Start(); err != nil {
			l.Error().Err(err).Msg("Failed to listen for calls")
		}
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	go bus.Run(ctx)

	select {
	case <-ready:
	case <-time.After(cfg.RequestTimeout):
		l.Warn().Str("url", cfg.WSURL).Msg("Signaling bus not connected yet")
	}

	if cfg.Dial != "" {
		room := domain.RoomID(cfg.DialRoom)
		if room == "" {
			room = domain.NewRoomID()
		}
		if _, err := phone.Dial(ctx, domain.UserID(cfg.Dial), room); err != nil {
			l.Error().Err(err).Str("callee", cfg.Dial).Msg("Dial failed")
		}
	}

	if cfg.Broadcast != "" {
		s, err := streams.CreateStream(ctx, domain.StreamMetadata{Title: cfg.Broadcast})
		if err == nil {
			err = streams.StartStream(ctx, s.RoomID)
		}
		if err != nil {
			l.Error().Err(err).Msg("Broadcast failed")
		} else {
			l.Info().Str("room", s.RoomID.String()).Msg("Live")
		}
	}

	if cfg.Watch != "" {
		tok, err := viewer.Watch(ctx, domain.RoomID(cfg.Stream), domain.UserID(cfg.Watch), self)
		if err != nil {
			l.Error().Err(err).Msg("Watch failed")
		} else {
			l.Info().Str("name", tok.Name).Time("expiry", tok.Expiry).Msg("Watching")
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	l.Info().Msg("Shutting down client...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), sigCfg.CleanupTimeout)
	defer stop()

	viewer.Leave()
	streams.Close(shutdownCtx)
	phone.HangupAll()
	callee.Stop()
	cancel()
	bus.Close()
	l.Info().Msg("Client exited")
}
