package config

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port      string `env:"PORT,      default=8080"`
	Env       string `env:"ENV,       default=development"`
	JWTSecret string `env:"JWT_SECRET" validate:"required"`
	LogLevel  string `env:"LOG_LEVEL, default=info"`

	// StoreBackend serves one-shot queries and reference data.
	StoreBackend string `env:"STORE_BACKEND, default=mongo" validate:"oneof=mongo postgres"`
	// FeedBackend delivers change events.
	FeedBackend string `env:"FEED_BACKEND,  default=mongo" validate:"oneof=mongo postgres redis"`
	// FeedRelay copies the store's change stream onto Redis pub/sub.
	FeedRelay bool `env:"FEED_RELAY, default=false"`

	// SessionToken, when set, starts a sync session at boot without waiting
	// for PUT /v1/session.
	SessionToken string `env:"SESSION_TOKEN"`

	Mongo    MongoConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Cache    CacheConfig
	Sync     SyncConfig
	Notify   NotifyConfig
}

type MongoConfig struct {
	URI        string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database   string `env:"MONGO_DB,  default=estimates"`
	Collection string `env:"MONGO_ESTIMATES_COLLECTION, default=estimates"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,      default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,        default=0"`
	PoolSize int    `env:"REDIS_POOL_SIZE, default=0" validate:"gte=0"`
	// Enabled turns on notification dedup and the pub/sub feed.
	Enabled bool `env:"REDIS_ENABLED, default=true"`
}

type PostgresConfig struct {
	URL   string `env:"POSTGRES_URL, default=postgres://localhost:5432/estimates?sslmode=disable"`
	Table string `env:"POSTGRES_ESTIMATES_TABLE, default=estimates"`
}

// CacheConfig holds the per-namespace TTLs of the reference cache.
type CacheConfig struct {
	SweepInterval    time.Duration `env:"CACHE_SWEEP_INTERVAL,     default=1m"`
	Territories      time.Duration `env:"CACHE_TTL_TERRITORIES,    default=5m"`
	UserRoles        time.Duration `env:"CACHE_TTL_USER_ROLES,     default=5m"`
	MaterialWaste    time.Duration `env:"CACHE_TTL_MATERIAL_WASTE, default=10m"`
	PricingTemplates time.Duration `env:"CACHE_TTL_PRICING,        default=2m"`
	EstimateSummary  time.Duration `env:"CACHE_TTL_SUMMARY,        default=30s"`
}

type SyncConfig struct {
	FetchTimeout      time.Duration `env:"SYNC_FETCH_TIMEOUT,        default=15s"`
	ResyncOnReconnect bool          `env:"SYNC_RESYNC_ON_RECONNECT,  default=true"`
	BackoffInitial    time.Duration `env:"SYNC_BACKOFF_INITIAL,      default=500ms"`
	BackoffMax        time.Duration `env:"SYNC_BACKOFF_MAX,          default=30s"`
	BackoffMultiplier float64       `env:"SYNC_BACKOFF_MULTIPLIER,   default=2"  validate:"gte=1"`
	MaxAttempts       int           `env:"SYNC_MAX_RECONNECT_ATTEMPTS, default=8" validate:"gte=0"`
}

type NotifyConfig struct {
	Workers  int           `env:"NOTIFY_WORKERS,   default=4"   validate:"gt=0"`
	Buffer   int           `env:"NOTIFY_BUFFER,    default=256" validate:"gt=0"`
	DedupTTL time.Duration `env:"NOTIFY_DEDUP_TTL, default=1h"`
	Recent   int           `env:"NOTIFY_RECENT,    default=50"  validate:"gt=0"`
}

// Load reads configuration from environment variables using go-envconfig.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads configuration through l and validates it.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}
