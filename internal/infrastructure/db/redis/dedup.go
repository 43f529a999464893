package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDedupTTL = time.Hour

// DedupChecker collapses repeated deliveries of the same notification.
// Key format: dedup:notify:<kind>:<estimate_id>:<old>:<new>
type DedupChecker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDedupChecker creates a DedupChecker wrapping the given Redis client.
func NewDedupChecker(client *redis.Client, ttl time.Duration) *DedupChecker {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &DedupChecker{client: client, ttl: ttl}
}

// Seen atomically records key and reports whether it had already been
// recorded within the TTL.
func (d *DedupChecker) Seen(ctx context.Context, key string) (bool, error) {
	fresh, err := d.client.SetNX(ctx, d.key(key), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	return !fresh, nil
}

func (d *DedupChecker) key(key string) string {
	return "dedup:notify:" + key
}
