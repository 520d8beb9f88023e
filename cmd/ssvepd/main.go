package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ssvep-backend/internal/cfg"
	"ssvep-backend/internal/hub"
	"ssvep-backend/internal/metrics"
	"ssvep-backend/internal/ml"
	"ssvep-backend/internal/predict"
	"ssvep-backend/internal/server"
	"ssvep-backend/internal/storage"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	// A missing or corrupt artifact means the service cannot honor its
	// contract, so it refuses to start.
	registry, err := ml.LoadRegistry(c.ModelsDir, c.Models)
	if err != nil {
		log.Fatal().Err(err).Str("dir", c.ModelsDir).Msg("model load failed")
	}

	params := predict.SignalParams{
		SampleRate:    c.SampleRate,
		TargetFreqs:   c.TargetFreqs,
		Harmonics:     c.Harmonics,
		BandHalfWidth: c.BandHalfWidth,
	}
	service := predict.NewService(registry, params, mw)

	h := hub.New(c.SendTimeout, server.CheckOrigin(c.AllowedOrigins), mw)
	srv := server.New(c, service, h, store)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().
		Int("port", c.Port).
		Strs("models", registry.Loaded()).
		Float64("sample_rate", c.SampleRate).
		Msg("ssvepd started")

	waitForShutdown(srv)
}

// initializeStorage opens the prediction store if DATA_PATH is configured.
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath == "" {
		return nil
	}
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
		return nil
	}
	return store
}

// waitForShutdown blocks until SIGINT/SIGTERM, then drains the server with a
// bounded grace period.
func waitForShutdown(srv *server.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutdown signal received, shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
		return
	}
	log.Info().Msg("server stopped")
}
