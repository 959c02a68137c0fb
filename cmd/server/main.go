// Package main is the entry point for the docchat API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docchat/internal/app"
	"docchat/internal/config"
	v1 "docchat/internal/infrastructure/http/v1"
	"docchat/internal/infrastructure/http/v1/handlers"
	"docchat/pkg/logger"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	log.Infow("starting docchat server", "env", cfg.Env, "version", version)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer a.Close()

	// Unreachable services degrade features; they never block startup.
	a.Connect(ctx)

	probes := make([]handlers.Probe, 0, len(a.Clients()))
	for _, c := range a.Clients() {
		probes = append(probes, c)
	}

	router := v1.NewRouter(v1.RouterConfig{
		Logger:   log,
		Identity: a.Auth,
		Policies: a.Tiers,
		Limiter:  a.Limiter,
		Health:   handlers.NewHealthHandler(a.Pool, a.Pool.Stats, version, probes...),
		Tasks:    a.Queue,
		Debug:    cfg.IsDevelopment(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
