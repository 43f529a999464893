package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTimeout = 5 * time.Second

type Config struct {
	Addr       string
	Password   string
	ClientName string
	DB         int
	// PoolSize of zero keeps the go-redis default. Every open pub/sub
	// subscription holds one connection outside the pool.
	PoolSize int
	Timeout  time.Duration
}

// Connect returns a pinged client. Command deadlines follow the caller's
// context, so blocking pub/sub reads are bounded only by cancellation.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ClientName:            cfg.ClientName,
		PoolSize:              cfg.PoolSize,
		DialTimeout:           timeout,
		ContextTimeoutEnabled: true,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}
