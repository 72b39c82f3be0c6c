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
	"commerce-auctions/internal/bootstrap"
	"commerce-auctions/internal/config"
	"commerce-auctions/internal/domain"
	"commerce-auctions/internal/infrastructure/leader"
	"commerce-auctions/internal/infrastructure/redis"
	"commerce-auctions/internal/services"
	"commerce-auctions/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
)

func main() {
	log := logger.New()
	log.Info("Starting listing service")

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log = logger.NewWithLevel(cfg.Log.Level)
	log.Info("Configuration loaded", "config", cfg.GetConfigString())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb := connectRedis(ctx, cfg, log)

	backend, err := bootstrap.OpenBackend(ctx, cfg, rdb, log)
	if err != nil {
		log.Error("Failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Error("Failed to close storage", "error", err)
		}
	}()

	cache, err := services.NewListingCache(backend.Auctions, services.ListingCacheConfig{
		NumCounters: cfg.Cache.NumCounters,
		MaxCost:     cfg.Cache.MaxCost,
		TTL:         cfg.Cache.TTL,
	}, log)
	if err != nil {
		log.Error("Failed to create listing cache", "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	publishers := services.FanoutPublisher{cache}
	var leaderElection domain.LeaderElection
	if rdb != nil {
		publishers = append(publishers, redis.NewEventPublisher(rdb))
		leaderElection = leader.NewRedisLeaderElection(rdb, cfg.Leader.Key, cfg.Leader.TTL, log)
	}

	engine := services.NewAuctionEngine(backend.Auctions, publishers, log,
		services.WithMaxAttempts(cfg.Auction.MaxBidAttempts))
	community := services.NewCommunityService(backend.Auctions, backend.Comments, backend.Watchlist, log)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	var reconciler *services.ProjectionReconciler
	if cfg.Reconciler.Enabled {
		reconciler = services.NewProjectionReconciler(backend.Auctions, publishers, leaderElection,
			cfg.Instance.ID, cfg.Reconciler.Schedule, log)
		if err := reconciler.Start(runCtx); err != nil {
			log.Error("Failed to start reconciler", "error", err)
			os.Exit(1)
		}
	}

	if rdb != nil {
		listener := services.NewEventListener(cache, nil, log)
		go func() {
			err := listener.Start(runCtx, redis.NewRedisEventSubscriber(rdb, log))
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Event listener stopped", "error", err)
			}
		}()
	}

	e := api.NewListingServer(engine, cache, community, log)

	go func() {
		log.Info("Starting listing server", "address", cfg.Server.Address())
		if err := e.Start(cfg.Server.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down listing service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	if reconciler != nil {
		if err := reconciler.Stop(shutdownCtx); err != nil {
			log.Error("Failed to stop reconciler", "error", err)
		}
	}
	stop()
	if rdb != nil {
		rdb.Close()
	}

	log.Info("Listing service stopped")
}

// connectRedis returns nil when Redis is unreachable and not the primary
// store; events and leader election are then disabled.
func connectRedis(ctx context.Context, cfg *config.Config, log logger.Logger) *redisClient.Client {
	if cfg.Redis.Address == "" && cfg.Storage.Driver != "redis" {
		return nil
	}

	rdb, err := bootstrap.InitializeRedis(ctx, cfg, log)
	if err == nil {
		return rdb
	}
	if cfg.Storage.Driver == "redis" {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Warn("Redis unavailable, running without events or leader election", "error", err)
	return nil
}
