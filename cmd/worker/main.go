package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/sokoyetu/payments/internal/config"
	"github.com/sokoyetu/payments/internal/database"
	"github.com/sokoyetu/payments/internal/logger"
	"github.com/sokoyetu/payments/internal/metrics"
	"github.com/sokoyetu/payments/internal/queue"
	"github.com/sokoyetu/payments/internal/store"
	"github.com/sokoyetu/payments/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zlog, err := logger.New()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()

	zlog.Infow("payments worker starting", "config", cfg.SafeSummary())

	ctx := context.Background()

	db, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMinConns, cfg.DBMaxConns)
	if err != nil {
		zlog.Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		zlog.Fatalw("failed to initialize queue", "error", err)
	}
	defer q.Close()

	m := metrics.New()
	st := store.New(db.Pool)

	processor := worker.NewProcessor(st, zlog, m, cfg.PendingTimeout)
	q.Mux.HandleFunc(worker.TypeProcessCallback, processor.ProcessCallback)
	q.Mux.HandleFunc(worker.TypeSweepStale, processor.SweepStale)

	// Periodic sweep of pending transactions whose callback never arrived.
	scheduler := q.NewScheduler()
	sweepSpec := fmt.Sprintf("@every %s", cfg.SweepInterval)
	if _, err := scheduler.Register(sweepSpec, worker.NewSweepStaleTask(), asynq.Queue("low")); err != nil {
		zlog.Fatalw("failed to register sweep task", "error", err)
	}

	go func() {
		if err := scheduler.Run(); err != nil {
			zlog.Fatalw("scheduler failed", "error", err)
		}
	}()

	asynqServer := q.NewServer(cfg.WorkerConcurrency)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		zlog.Info("shutting down worker")
		scheduler.Shutdown()
		asynqServer.Shutdown()
	}()

	zlog.Info("worker started, processing tasks")
	if err := asynqServer.Run(q.Mux); err != nil {
		zlog.Fatalw("worker failed", "error", err)
	}

	zlog.Info("worker shutdown complete")
}
