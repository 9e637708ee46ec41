package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowboard/webhook-engine/internal/api"
	"github.com/flowboard/webhook-engine/internal/config"
	"github.com/flowboard/webhook-engine/internal/engine"
	"github.com/flowboard/webhook-engine/internal/store"
	ws "github.com/flowboard/webhook-engine/internal/websocket"
	"github.com/flowboard/webhook-engine/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		logger.Info("connected to PostgreSQL")

		if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("database migrations applied")

		st = pgStore
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		st = store.NewMemory()
	}

	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	// Engine components
	queue := engine.NewQueue(redisStore.Client())
	eventRouter := engine.NewRouter(st, st, queue, logger)
	health := engine.NewHealthTracker(redisStore.Client(), logger)
	rateLimiter := engine.NewRateLimiter(redisStore.Client(), logger)

	// WebSocket delivery feed
	hub := ws.NewHub(logger)
	go hub.Run()

	// Delivery workers
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	deliverer := worker.NewDeliverer(st, st, st, queue, health, rateLimiter, hub, logger)
	pool := worker.NewPool(cfg.NumWorkers, deliverer, logger)
	pool.Start(workerCtx)

	dispatcher := worker.NewDispatcher(queue, pool, logger)
	go dispatcher.Start(workerCtx)

	router := api.NewRouter(st, eventRouter, health, hub)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	stopWorkers()
	pool.Stop()

	logger.Info("server stopped")
}
