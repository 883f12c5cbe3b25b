package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valperai/valper-gateway/internal/app"
	"github.com/valperai/valper-gateway/internal/config"
	"github.com/valperai/valper-gateway/internal/observability"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build runtime")
	}

	logger.Info().
		Str("port", cfg.Port).
		Str("engines", rt.String()).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Bool("upload_enabled", cfg.UploadEnabled()).
		Msg("Valper gateway starting")

	// Engines initialize in the background; the gate reports progress
	rt.Start(ctx)
	go rt.Store.RunJanitor(ctx, time.Minute)

	// Create HTTP server with timeouts. Writes cover a whole turn.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      time.Duration(cfg.ConversationLimit)*time.Second + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	server.RegisterOnShutdown(rt.Sessions.Shutdown)

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("websocket", fmt.Sprintf("ws://localhost:%s/ws/conversation", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	stop()

	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := rt.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to release engine connections")
	}

	logger.Info().Msg("Server exited gracefully")
}
