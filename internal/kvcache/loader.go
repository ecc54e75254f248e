package kvcache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"liverank/rankservice/internal/metrics"
)

// Loader adds cache-aside loading with at most one in-flight computation
// per key. Concurrent callers for the same key wait for and share the
// result of the computation already running.
type Loader struct {
	store Store
	name  string
	group singleflight.Group
}

func NewLoader(store Store, name string) *Loader {
	return &Loader{store: store, name: name}
}

func (l *Loader) Store() Store {
	return l.store
}

// Load returns the cached value for key, or runs compute, caches its result
// for ttl and returns it. Store errors are treated as misses. The computation
// is detached from the caller's cancellation so one departing caller does
// not fail the others waiting on it.
func Load[T any](ctx context.Context, l *Loader, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var cached T
	if found, err := l.store.Get(ctx, key, &cached); err == nil && found {
		metrics.CacheHitsTotal.WithLabelValues(l.name).Inc()
		return cached, nil
	}
	metrics.CacheMissesTotal.WithLabelValues(l.name).Inc()

	result, err, _ := l.group.Do(key, func() (any, error) {
		detached := context.WithoutCancel(ctx)
		value, err := compute(detached)
		if err != nil {
			return value, err
		}
		_ = l.store.Set(detached, key, value, ttl)
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
