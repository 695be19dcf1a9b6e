package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"traffic-observer/src/helpers"
	"traffic-observer/src/interfaces"
	"traffic-observer/src/logger"
	"traffic-observer/src/metrics"
	"traffic-observer/src/models"

	"golang.org/x/sync/singleflight"
)

// KeyPrefix namespaces every cache entry so Flush can target only ours.
const KeyPrefix = "agg_v1"

// computeTimeout bounds a detached in-flight computation once no caller's
// context governs it anymore.
const computeTimeout = 2 * time.Minute

// -----------------------------------------------------------------------------

// ResultCache memoizes aggregation results per request fingerprint. Two
// guarantees: at most one concurrent computation per fingerprint, and any
// backend failure degrades to direct computation without failing the request.
// Invalidation bumps a generation stamped into every key, so stale entries
// become unreachable even when the backend flush fails.
type ResultCache struct {
	Store   interfaces.ICacheStore
	TTL     time.Duration
	Logger  *logger.Logger
	Metrics *metrics.Registry

	generation atomic.Int64
	flight     singleflight.Group
}

// -----------------------------------------------------------------------------

func NewResultCache(store interfaces.ICacheStore, ttl time.Duration, reg *metrics.Registry, log *logger.Logger) *ResultCache {
	return &ResultCache{
		Store:   store,
		TTL:     ttl,
		Logger:  log,
		Metrics: reg,
	}
}

// -----------------------------------------------------------------------------

func (c *ResultCache) key(fingerprint string) string {
	return fmt.Sprintf("%s:%d:%s", KeyPrefix, c.generation.Load(), fingerprint)
}

// -----------------------------------------------------------------------------

// GetOrCompute returns the cached result for fingerprint, or runs compute
// exactly once per fingerprint and caches the outcome. A failed computation
// caches nothing; a caller that cancels stops waiting without aborting the
// shared flight.
func (c *ResultCache) GetOrCompute(ctx context.Context, fingerprint string, compute func(context.Context) (models.MAggregationResult, error)) (models.MAggregationResult, error) {
	key := c.key(fingerprint)

	if result, ok := c.lookup(ctx, key); ok {
		c.Metrics.CacheHits.Inc()
		return result, nil
	}
	c.Metrics.CacheMisses.Inc()

	ch := c.flight.DoChan(key, func() (interface{}, error) {
		// The flight serves every waiter on this fingerprint, so it must
		// outlive the caller that happened to start it: detach from the
		// leader's context and bound the work with a timeout instead.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), computeTimeout)
		defer cancel()

		result, err := compute(flightCtx)
		if err != nil {
			return nil, err
		}
		c.put(flightCtx, key, result)
		return result, nil
	})

	select {
	case <-ctx.Done():
		// The flight keeps running for any other waiters; this caller
		// just stops waiting.
		return models.MAggregationResult{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return models.MAggregationResult{}, r.Err
		}
		return r.Val.(models.MAggregationResult), nil
	}
}

// -----------------------------------------------------------------------------

func (c *ResultCache) lookup(ctx context.Context, key string) (models.MAggregationResult, bool) {
	if c.Store == nil {
		return models.MAggregationResult{}, false
	}

	payload, ok, err := c.Store.Get(ctx, key)
	if err != nil {
		cacheErr := helpers.NewCacheUnavailableError("cache lookup failed", err)
		c.Logger.Warning("%v; computing directly", cacheErr)
		return models.MAggregationResult{}, false
	}
	if !ok {
		return models.MAggregationResult{}, false
	}

	var result models.MAggregationResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		c.Logger.Warning("Dropping undecodable cache entry %s: %v", key, err)
		return models.MAggregationResult{}, false
	}
	return result, true
}

// -----------------------------------------------------------------------------

func (c *ResultCache) put(ctx context.Context, key string, result models.MAggregationResult) {
	if c.Store == nil {
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		c.Logger.Warning("Failed to encode result for cache: %v", err)
		return
	}
	if err := c.Store.Set(ctx, key, string(payload), c.TTL); err != nil {
		cacheErr := helpers.NewCacheUnavailableError("cache write failed", err)
		c.Logger.Warning("%v", cacheErr)
	}
}

// -----------------------------------------------------------------------------

// Invalidate makes every cached result unreachable. Called after a successful
// load; the TTL is the safety net for anything the flush misses.
func (c *ResultCache) Invalidate(ctx context.Context) {
	c.generation.Add(1)

	if c.Store == nil {
		return
	}
	if err := c.Store.Flush(ctx); err != nil {
		c.Logger.Warning("Cache flush failed (stale entries will age out): %v", err)
		return
	}
	c.Logger.Info("Result cache invalidated")
}

// -----------------------------------------------------------------------------

func (c *ResultCache) Close() error {
	if c.Store == nil {
		return nil
	}
	return c.Store.Close()
}
