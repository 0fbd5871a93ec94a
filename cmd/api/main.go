package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dvloznov/order-intake/internal/api/handlers"
	"github.com/dvloznov/order-intake/internal/api/ws"
	"github.com/dvloznov/order-intake/internal/bootstrap"
	"github.com/dvloznov/order-intake/internal/config"
	"github.com/dvloznov/order-intake/internal/logger"
)

func main() {
	// Parse command-line flags
	envFile := flag.String("env", ".env", "dotenv file loaded before the configuration (optional)")
	flag.Parse()

	// Variables already set in the environment win over the file.
	envErr := godotenv.Load(*envFile)

	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	log := logger.NewWithOptions(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if envErr != nil && !os.IsNotExist(envErr) {
		log.Warn().Err(envErr).Str("file", *envFile).Msg("Failed to load env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	svc, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer svc.Close()

	// Push events to UI clients and accept drops from them.
	hub := ws.NewHub(svc.Bus, cfg.Server.AllowedOrigins, log)
	stopHub := hub.Start()
	defer stopHub()
	defer svc.HandleDrops()()

	// Load the default folder once, then keep watching it if scheduled.
	if _, err := svc.App.LoadFolder(ctx, ""); err != nil {
		log.Warn().Err(err).Msg("Failed to load default folder")
	}
	if err := svc.Watcher.Start(ctx, cfg.Watch.Schedule); err != nil {
		log.Fatal().Err(err).Msg("Failed to start folder watch")
	}
	defer svc.Watcher.Stop()

	router := handlers.NewRouter(handlers.RouterConfig{
		App:            svc.App,
		Runs:           svc.Runs,
		Metrics:        svc.Metrics.Handler(),
		Events:         hub,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	// Stop dispatching new documents; running ones finish.
	svc.App.CancelAnalysis()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
