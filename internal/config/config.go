package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MySQL      MySQLConfig      `mapstructure:"mysql"`
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	Leader     LeaderConfig     `mapstructure:"leader"`
	Instance   InstanceConfig   `mapstructure:"instance"`
	Auction    AuctionConfig    `mapstructure:"auction"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects the auction store backend: mysql, sqlite, redis or memory.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type LeaderConfig struct {
	Key string        `mapstructure:"key"`
	TTL time.Duration `mapstructure:"ttl"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

type AuctionConfig struct {
	MaxBidAttempts int `mapstructure:"max_bid_attempts"`
}

type ReconcilerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

type CacheConfig struct {
	NumCounters int64         `mapstructure:"num_counters"`
	MaxCost     int64         `mapstructure:"max_cost"`
	TTL         time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

var envBindings = map[string]string{
	"server.port":              "SERVER_PORT",
	"server.host":              "SERVER_HOST",
	"storage.driver":           "STORAGE_DRIVER",
	"redis.address":            "REDIS_ADDRESS",
	"redis.password":           "REDIS_PASSWORD",
	"redis.db":                 "REDIS_DB",
	"mysql.dsn":                "MYSQL_DSN",
	"mysql.max_open_conns":     "MYSQL_MAX_OPEN_CONNS",
	"mysql.max_idle_conns":     "MYSQL_MAX_IDLE_CONNS",
	"mysql.conn_max_lifetime":  "MYSQL_CONN_MAX_LIFETIME",
	"sqlite.path":              "SQLITE_PATH",
	"leader.key":               "LEADER_KEY",
	"leader.ttl":               "LEADER_TTL",
	"instance.id":              "INSTANCE_ID",
	"auction.max_bid_attempts": "AUCTION_MAX_BID_ATTEMPTS",
	"reconciler.enabled":       "RECONCILER_ENABLED",
	"reconciler.schedule":      "RECONCILER_SCHEDULE",
	"cache.num_counters":       "CACHE_NUM_COUNTERS",
	"cache.max_cost":           "CACHE_MAX_COST",
	"cache.ttl":                "CACHE_TTL",
	"log.level":                "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("storage.driver", "mysql")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mysql.dsn", "auction_user:auction_pass@tcp(localhost:3306)/auction_db?parseTime=true")
	v.SetDefault("mysql.max_open_conns", 25)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("sqlite.path", "auctions.db")
	v.SetDefault("leader.key", "auction_reconciler_leader")
	v.SetDefault("leader.ttl", 30*time.Second)
	v.SetDefault("instance.id", defaultInstanceID())
	v.SetDefault("auction.max_bid_attempts", 5)
	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.schedule", "@every 1m")
	v.SetDefault("cache.num_counters", 100000)
	v.SetDefault("cache.max_cost", 10000)
	v.SetDefault("cache.ttl", 30*time.Second)
	v.SetDefault("log.level", "info")
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "auction-instance-1"
	}
	return host
}

// Load reads an optional .env file, then config.yaml from the usual search
// paths, then environment variables. Later sources win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/commerce-auctions/")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "mysql", "sqlite", "sqlite3", "redis", "memory":
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Auction.MaxBidAttempts <= 0 {
		return fmt.Errorf("config: auction.max_bid_attempts must be positive")
	}
	return nil
}

// GetConfigString returns a formatted summary without credentials.
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s, Storage: %s, Redis: %s, Instance: %s",
		c.Server.Address(),
		c.Storage.Driver,
		c.Redis.Address,
		c.Instance.ID,
	)
}
