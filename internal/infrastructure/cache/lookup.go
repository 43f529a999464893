package cache

import (
	"fmt"

	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/infrastructure/metrics"
)

// Lookup returns the value stored under key as a T. A stored value of any
// other type is treated as corruption: it is evicted, logged and reported
// as a miss.
func Lookup[T any](c *Cache, key string) (T, bool) {
	var zero T
	raw, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		c.Delete(key)
		metrics.CacheEvictionsTotal.WithLabelValues("corrupt").Inc()
		c.log.Warn().
			Err(fmt.Errorf("%w: want %T, got %T", domain.ErrCacheCorruption, zero, raw)).
			Str("key", key).
			Msg("evicting corrupt cache entry")
		return zero, false
	}
	return v, true
}
