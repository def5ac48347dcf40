// Package cache provides a small in-memory TTL cache and a read-through
// wrapper. The server fronts swarm status reads with it so busy pollers
// don't re-aggregate worker rows on every request.
package cache

import (
	"context"
	"time"
)

const DefaultExpiration = 1 * time.Second
const DefaultCleanupInterval = 1 * time.Minute

// Manager is the cache contract. Keys are strings; values are typed per
// cache instance.
type Manager[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...string) error
	Flush(ctx context.Context) error
}
