package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sokoyetu/payments/internal/config"
	"github.com/sokoyetu/payments/internal/database"
	"github.com/sokoyetu/payments/internal/handlers"
	"github.com/sokoyetu/payments/internal/logger"
	"github.com/sokoyetu/payments/internal/metrics"
	"github.com/sokoyetu/payments/internal/mpesa"
	"github.com/sokoyetu/payments/internal/payment"
	"github.com/sokoyetu/payments/internal/queue"
	"github.com/sokoyetu/payments/internal/server"
	"github.com/sokoyetu/payments/internal/session"
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

	zlog.Infow("payments API starting", "config", cfg.SafeSummary())

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

	tokenService := mpesa.NewTokenService(
		cfg.DarajaConsumerKey,
		cfg.DarajaConsumerSecret,
		cfg.DarajaAuthURL,
	)

	paymentService := payment.NewService(st, tokenService, payment.Config{
		ShortCode:   cfg.DarajaShortCode,
		Passkey:     cfg.DarajaPasskey,
		STKPushURL:  cfg.DarajaSTKPushURL,
		CallbackURL: cfg.DarajaCallbackURL,
	})

	sessions := session.NewCache(cfg.SessionWindow)

	h := handlers.NewHandler(st, paymentService, q.Client, sessions, db, zlog, m, cfg.CallbackStrictAck)

	// The API binary also consumes reconciliation tasks so a single
	// deployment works without a dedicated worker.
	processor := worker.NewProcessor(st, zlog, m, cfg.PendingTimeout)
	q.Mux.HandleFunc(worker.TypeProcessCallback, processor.ProcessCallback)
	q.Mux.HandleFunc(worker.TypeSweepStale, processor.SweepStale)

	asynqServer := q.NewServer(cfg.WorkerConcurrency)
	go func() {
		zlog.Info("starting background worker")
		if err := asynqServer.Run(q.Mux); err != nil {
			zlog.Fatalw("background worker failed", "error", err)
		}
	}()

	httpServer := server.New(cfg, h, m)
	go func() {
		zlog.Infow("starting HTTP server", "port", cfg.ServerPort)
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatalw("HTTP server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zlog.Errorw("HTTP shutdown error", "error", err)
	}

	asynqServer.Shutdown()

	zlog.Info("shutdown complete")
}
