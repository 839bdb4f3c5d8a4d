package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yalive/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yalive/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/yalive/internal/adapter/driven/persistence/sqlite"
	"github.com/Wyydra/yalive/internal/adapter/driven/token/livekit"
	handler "github.com/Wyydra/yalive/internal/adapter/driving/http"
	"github.com/Wyydra/yalive/internal/config"
	"github.com/Wyydra/yalive/internal/core/port"
	"github.com/Wyydra/yalive/internal/core/service"
)

func main() {
	cfg, err := config.LoadServer(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	l, err := cfg.Log.Logger()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid log configuration")
	}
	log.Logger = l

	var (
		streams  port.StreamRepository
		settings port.ChatSettingsRepository
	)
	switch cfg.Storage {
	case "sqlite":
		db, err := sqlite.Open(cfg.DSN)
		if err != nil {
			l.Fatal().Err(err).Str("dsn", cfg.DSN).Msg("Failed to open database")
		}
		defer db.Close()
		streams, settings = db.Streams(), db.ChatSettings()
	default:
		streams, settings = memory.NewStreamRepository(), memory.NewChatSettingsRepository()
	}
	calls := memory.NewCallRepository()

	issuer, err := livekit.NewIssuer(cfg.LiveKitKey, cfg.LiveKitSecret, cfg.TokenTTL)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to set up token issuer")
	}

	hub := ws.NewHub()

	callRelay := service.NewCallRelay(calls, issuer, hub)
	streamService := service.NewStreamService(streams, settings, issuer, hub, clock.New())
	chatService := service.NewChatSettingsService(settings, streams, hub)
	h := handler.NewHandler(callRelay, streamService, chatService, hub)

	go hub.Run()

	r := h.NewRouter()

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	go func() {
		l.Info().Str("addr", cfg.Addr).Str("storage", cfg.Storage).Str("livekit", cfg.LiveKitURL).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	l.Info().Msg("Server exited")
}
