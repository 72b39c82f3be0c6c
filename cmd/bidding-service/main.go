package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"commerce-auctions/internal/api"
	"commerce-auctions/internal/api/handlers"
	"commerce-auctions/internal/bootstrap"
	"commerce-auctions/internal/config"
	"commerce-auctions/internal/domain"
	"commerce-auctions/internal/infrastructure/redis"
	"commerce-auctions/internal/infrastructure/websocket"
	"commerce-auctions/internal/services"
	"commerce-auctions/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log = logger.NewWithLevel(cfg.Log.Level)
	log.Info("Starting bidding service", "config", cfg.GetConfigString())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var rdb *redisClient.Client
	if cfg.Redis.Address != "" || cfg.Storage.Driver == "redis" {
		rdb, err = bootstrap.InitializeRedis(ctx, cfg, log)
		if err != nil {
			if cfg.Storage.Driver == "redis" {
				log.Error("Failed to connect to Redis", "error", err)
				os.Exit(1)
			}
			log.Warn("Redis unavailable, bid events will not be published", "error", err)
			rdb = nil
		}
	}

	backend, err := bootstrap.OpenBackend(ctx, cfg, rdb, log)
	if err != nil {
		log.Error("Failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	var eventPublisher domain.EventPublisher
	if rdb != nil {
		eventPublisher = redis.NewEventPublisher(rdb)
	}
	engine := services.NewAuctionEngine(backend.Auctions, eventPublisher, log,
		services.WithMaxAttempts(cfg.Auction.MaxBidAttempts))

	connManager := websocket.NewConnectionManager(log)
	wsHandler := websocket.NewWebSocketHandler(engine, connManager, log)
	router := api.NewBiddingRouter(handlers.NewBidHandler(engine, wsHandler, log), log)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	if rdb != nil {
		listener := services.NewEventListener(nil, connManager, log)
		go func() {
			err := listener.Start(runCtx, redis.NewRedisEventSubscriber(rdb, log))
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Event listener stopped", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Starting bidding server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down bidding service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	connManager.CloseAll("server shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	stop()
	if rdb != nil {
		rdb.Close()
	}

	log.Info("Bidding service stopped")
}
