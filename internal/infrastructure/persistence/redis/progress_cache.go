package redis

import (
	"context"
	"errors"
	"time"

	"github.com/stepwise-hub/stepwise/internal/domain/progress"
)

// ProgressCache implements progress.LocalCache using the generic Redis Cache.
// Records are stored without TTL: the local cache must survive restarts.
type ProgressCache struct {
	cache   *Cache
	timeout time.Duration
}

// NewProgressCache creates a new ProgressCache. timeout bounds each call,
// since the LocalCache port is synchronous and carries no context.
func NewProgressCache(cache *Cache, timeout time.Duration) *ProgressCache {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &ProgressCache{cache: cache, timeout: timeout}
}

// Get implements progress.LocalCache.
func (p *ProgressCache) Get(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	data, err := p.cache.GetBytes(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return nil, progress.ErrCacheMiss
	}
	return data, err
}

// Set implements progress.LocalCache.
func (p *ProgressCache) Set(key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	return p.cache.SetBytes(ctx, key, value, 0)
}

// Keys lists stored progress keys with the given prefix.
func (p *ProgressCache) Keys(prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	return p.cache.Keys(ctx, prefix)
}

// Delete drops a record and reports whether it existed.
func (p *ProgressCache) Delete(key string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	n, err := p.cache.Delete(ctx, key)
	return n > 0, err
}

// Ping reports whether Redis is reachable, for health checks.
func (p *ProgressCache) Ping(ctx context.Context) error {
	return p.cache.Ping(ctx)
}
