// Package worker runs queue consumers and periodic maintenance for the
// background process.
package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"docchat/internal/domain/document"
	"docchat/internal/infrastructure/queue"
	"docchat/pkg/logger"
)

// Ingester processes an uploaded document.
type Ingester interface {
	Ingest(ctx context.Context, documentID int64) (*document.Document, error)
}

// Consumer pulls tasks from a queue until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, queue string, handlers map[string]queue.Handler) error
}

// Handlers maps task names to their handlers.
func Handlers(docs Ingester) map[string]queue.Handler {
	return map[string]queue.Handler{
		document.IngestTask: func(ctx context.Context, task queue.Task) error {
			docID, err := task.Int64("document_id")
			if err != nil {
				return err
			}
			if _, err := docs.Ingest(ctx, docID); err != nil {
				return fmt.Errorf("ingest document %d: %w", docID, err)
			}
			return nil
		},
	}
}

// Config configures a Worker.
type Config struct {
	Queue       string
	Concurrency int
	// Interval between maintenance runs; zero means one minute.
	Interval time.Duration
	// Maintenance runs on every tick, e.g. pool stats and client probes.
	Maintenance func(ctx context.Context)
}

// Worker consumes one queue with a fixed number of goroutines.
type Worker struct {
	consumer Consumer
	handlers map[string]queue.Handler
	cfg      Config
	log      *logger.Logger
}

// New creates a worker.
func New(consumer Consumer, handlers map[string]queue.Handler, cfg Config, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Queue == "" {
		cfg.Queue = queue.DefaultQueue
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Worker{consumer: consumer, handlers: handlers, cfg: cfg, log: log.WithComponent("worker")}
}

// Run blocks until ctx is cancelled or a consumer fails.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			w.log.Infow("consumer started", "queue", w.cfg.Queue, "consumer", i)
			defer w.log.Infow("consumer stopped", "queue", w.cfg.Queue, "consumer", i)
			return w.consumer.Consume(ctx, w.cfg.Queue, w.handlers)
		})
	}

	if w.cfg.Maintenance != nil {
		g.Go(func() error {
			ticker := time.NewTicker(w.cfg.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					w.cfg.Maintenance(ctx)
				}
			}
		})
	}

	return g.Wait()
}
