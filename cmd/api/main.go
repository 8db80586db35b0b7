package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-assistant/internal/api"
	"github.com/dvloznov/finance-assistant/internal/app"
	"github.com/dvloznov/finance-assistant/internal/config"
	"github.com/dvloznov/finance-assistant/internal/logger"
)

func main() {
	log := logger.New()

	cfg := config.Load(log)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	port := flag.String("port", cfg.Port, "HTTP server port (or set PORT env)")
	flag.Parse()

	log = logger.WithLevel(logger.ForFormat(cfg.LogFormat), cfg.LogLevel)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log, app.Overrides{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise application")
	}

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      api.NewRouter(a),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Str("backend", string(cfg.StoreBackend)).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let queued durable writes finish before the store goes away.
	if err := a.Close(20 * time.Second); err != nil {
		log.Error().Err(err).Msg("Error closing application")
	}

	log.Info().Msg("Server exited")
}
