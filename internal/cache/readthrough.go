package cache

import (
	"context"
	"time"
)

// ReadThrough wraps a Manager with a loader. Misses fall through to the
// loader and the result is cached; loader errors are returned uncached.
type ReadThrough[V any, I any] struct {
	cache Manager[V]
	load  func(ctx context.Context, input I) (V, error)
	skip  bool
}

// NewReadThrough builds a read-through cache. With skip set every read
// goes straight to the loader, which is how caching is disabled.
func NewReadThrough[V any, I any](
	cache Manager[V],
	load func(ctx context.Context, input I) (V, error),
	skip bool,
) *ReadThrough[V, I] {
	return &ReadThrough[V, I]{
		cache: cache,
		load:  load,
		skip:  skip,
	}
}

// Get returns the cached value for key or loads, caches, and returns it.
func (r *ReadThrough[V, I]) Get(ctx context.Context, key string, input I, ttl time.Duration) (V, error) {
	if r.skip {
		return r.load(ctx, input)
	}

	if value, ok := r.cache.Get(ctx, key); ok {
		return value, nil
	}

	value, err := r.load(ctx, input)
	if err != nil {
		return value, err
	}

	r.cache.Set(ctx, key, value, ttl)

	return value, nil
}

// Invalidate drops keys so the next read reloads. Mutations call this to
// keep status reads from serving the pre-mutation aggregate for a full TTL.
func (r *ReadThrough[V, I]) Invalidate(ctx context.Context, keys ...string) {
	if r.skip {
		return
	}
	_ = r.cache.Delete(ctx, keys...)
}

// Flush drops every cached entry.
func (r *ReadThrough[V, I]) Flush(ctx context.Context) {
	if r.skip {
		return
	}
	_ = r.cache.Flush(ctx)
}
