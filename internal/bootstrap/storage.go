package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"commerce-auctions/internal/config"
	"commerce-auctions/internal/domain"
	"commerce-auctions/internal/infrastructure/memory"
	redisstore "commerce-auctions/internal/infrastructure/redis"
	"commerce-auctions/internal/infrastructure/sqlstore"
	"commerce-auctions/pkg/logger"

	"github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Backend is the storage selected by storage.driver.
type Backend struct {
	Auctions  domain.AuctionStore
	Comments  domain.CommentRepository
	Watchlist domain.WatchlistRepository

	closers []func() error
}

func (b *Backend) Close() error {
	var firstErr error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OpenBackend connects to the configured store. redisClient is only used by
// the redis driver and may be nil otherwise.
func OpenBackend(ctx context.Context, cfg *config.Config, redisClient *redis.Client, log logger.Logger) (*Backend, error) {
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn("Using in-memory storage, data is lost on restart")
		community := memory.NewCommunityStore()
		return &Backend{
			Auctions:  memory.NewStore(),
			Comments:  community,
			Watchlist: community,
		}, nil

	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis storage requires a redis client")
		}
		community := redisstore.NewCommunityStore(redisClient)
		return &Backend{
			Auctions:  redisstore.NewAuctionStore(redisClient),
			Comments:  community,
			Watchlist: community,
		}, nil

	default:
		db, dialect, err := InitializeSQL(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		store := sqlstore.NewStore(db, dialect)
		return &Backend{
			Auctions:  store,
			Comments:  store,
			Watchlist: store,
			closers:   []func() error{db.Close},
		}, nil
	}
}

// InitializeSQL opens, tunes, pings and migrates the SQL database.
func InitializeSQL(ctx context.Context, cfg *config.Config, log logger.Logger) (*sql.DB, sqlstore.Dialect, error) {
	dialect, err := sqlstore.ParseDialect(cfg.Storage.Driver)
	if err != nil {
		return nil, "", err
	}

	dsn := cfg.MySQL.DSN
	if dialect == sqlstore.SQLite {
		dsn = fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", cfg.SQLite.Path)
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", dialect, err)
	}

	if dialect == sqlstore.SQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("ping %s: %w", dialect, err)
	}
	if err := sqlstore.Migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, "", err
	}

	log.Info("Connected to SQL store", "driver", dialect)
	return db, dialect, nil
}

// InitializeRedis connects and pings.
func InitializeRedis(ctx context.Context, cfg *config.Config, log logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Address, err)
	}

	log.Info("Connected to Redis", "address", cfg.Redis.Address)
	return client, nil
}
