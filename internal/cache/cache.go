// Package cache holds the read cache shared by the dashboard services.
// Entries never expire; they are dropped by Reset when new events arrive.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Store is a byte-oriented key/value cache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Reset(ctx context.Context) error
	Close() error
}

var (
	metricsOnce sync.Once
	lookups     *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dashboard",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Read cache lookups by result",
		}, []string{"result"})
		if err := prometheus.Register(lookups); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					lookups = existing
				}
			}
		}
	})
}

func recordLookup(result string) {
	initMetrics()
	lookups.WithLabelValues(result).Inc()
}

// Load returns the cached value for key or populates it from fill.
// A nil store disables caching. Cache failures fall through to fill;
// concurrent fills for the same key are last-write-wins.
func Load[T any](ctx context.Context, store Store, key string, fill func(context.Context) (T, error)) (T, error) {
	if store == nil {
		return fill(ctx)
	}
	if raw, ok, err := store.Get(ctx, key); err == nil && ok {
		var value T
		if err := json.Unmarshal(raw, &value); err == nil {
			recordLookup("hit")
			return value, nil
		}
	}
	recordLookup("miss")

	value, err := fill(ctx)
	if err != nil {
		return value, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return value, fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	_ = store.Set(ctx, key, raw)
	return value, nil
}
