// Package main is the entry point for the docchat background worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"docchat/internal/app"
	"docchat/internal/config"
	"docchat/internal/infrastructure/queue"
	"docchat/internal/infrastructure/storage/postgres"
	"docchat/internal/worker"
	"docchat/pkg/logger"
)

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

	ctx, stop := signal.NotifyContext(logger.WithLogger(context.Background(), log), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infow("starting docchat worker", "concurrency", cfg.WorkerConcurrency)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer a.Close()

	a.Connect(ctx)

	w := worker.New(a.Queue, worker.Handlers(a.Documents), worker.Config{
		Queue:       queue.DefaultQueue,
		Concurrency: cfg.WorkerConcurrency,
		Maintenance: func(ctx context.Context) {
			postgres.LogPoolStats(ctx, a.Pool.Pool)
			a.Probe(ctx)
		},
	}, log)

	if err := w.Run(ctx); err != nil {
		log.Errorw("worker stopped with error", "error", err)
		return
	}
	log.Info("worker stopped")
}
