package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/slotline/slotline/internal/config"
	"github.com/slotline/slotline/internal/coordinator"
	"github.com/slotline/slotline/internal/gateway"
	"github.com/slotline/slotline/internal/monitoring"
	"github.com/slotline/slotline/internal/registry"
	"github.com/slotline/slotline/internal/stream"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
	}

	seeds := make([]registry.Event, 0, len(cfg.Events))
	for _, ev := range cfg.Events {
		seeds = append(seeds, registry.Event{ID: ev.ID, Name: ev.Name, TotalSlots: ev.TotalSlots})
	}
	reg := registry.New(seeds)

	coord := coordinator.New(reg, coordinator.Config{
		SelectionWindow:    cfg.SelectionTimeout(),
		ConfirmationWindow: cfg.ConfirmationTimeout(),
	})

	hub := gateway.NewHub(coord, gateway.DefaultConnectionConfig())
	coord.SetNotifier(hub)
	coord.AddSink(hub)

	collector := monitoring.NewCollector()
	coord.AddSink(collector)
	coord.SetMetrics(collector)

	if cfg.Stream.URL != "" {
		publisher, err := stream.NewPublisher(stream.Config{
			URL:           cfg.Stream.URL,
			Subject:       cfg.Stream.Subject,
			MaxReconnects: -1,
		})
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.Stream.URL).Msg("failed to connect snapshot mirror")
		}
		defer publisher.Close()
		coord.AddSink(publisher)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := coord.Run(ctx); err != nil {
			log.Error().Err(err).Msg("coordinator stopped with error")
		}
	}()
	hub.Start(ctx)

	srv := setupServer(cfg.Server.Port, gateway.NewHandler(hub))
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
