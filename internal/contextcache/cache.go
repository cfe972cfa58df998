package contextcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/verahub/vera-core/internal/metrics"
)

// Cache stores pre-computed context summaries keyed by a fingerprint of
// (scope, normalized query, scope version). A summary is cached only when the
// underlying computation cost exceeded the latency threshold, so trivially
// cheap lookups never waste cache memory.
//
// Concurrent requests for the same fingerprint before the entry is populated
// share one computation through the single-flight group.
type Cache struct {
	backend   Backend
	ttl       time.Duration
	threshold time.Duration
	clock     func() time.Time
	group     singleflight.Group
	logger    *slog.Logger
}

// Options configures a Cache.
type Options struct {
	Backend Backend
	TTL     time.Duration
	// Threshold is the minimum computation cost that makes a summary worth
	// caching.
	Threshold time.Duration
	// Clock is injected for testability; defaults to time.Now.
	Clock  func() time.Time
	Logger *slog.Logger
}

// New creates a summary cache.
func New(opts Options) *Cache {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		backend:   opts.Backend,
		ttl:       opts.TTL,
		threshold: opts.Threshold,
		clock:     clock,
		logger:    logger,
	}
}

// Fingerprint derives the cache key for (scope, query, version). The scope
// version is embedded so any write to the scope makes previous entries
// unreachable; they age out via TTL without an explicit sweep.
func Fingerprint(scope, query string, version uint64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d", scope, NormalizeQuery(query), version)
	return "summary:" + hex.EncodeToString(h.Sum(nil))[:32]
}

// NormalizeQuery lowercases and collapses whitespace so trivially different
// phrasings of the same lookup share a fingerprint.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// GetOrCompute returns the cached summary for key, or runs compute exactly
// once per in-flight key and caches the result when it was expensive enough.
// baseCost is the cost the caller already paid to gather the inputs (fetch and
// rank); it counts toward the caching threshold. The boolean reports whether
// the value came from the cache.
func (c *Cache) GetOrCompute(ctx context.Context, key string, baseCost time.Duration, compute func(ctx context.Context) (string, error)) (string, bool, error) {
	if value, ok, err := c.backend.Get(ctx, key); err == nil && ok {
		metrics.CacheHits.WithLabelValues("hit").Inc()
		return value, true, nil
	} else if err != nil {
		// A broken backend degrades to recomputation, never to failure.
		c.logger.Warn("cache backend read failed", "error", err)
	}

	value, err, shared := c.group.Do(key, func() (interface{}, error) {
		start := c.clock()
		summary, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		cost := baseCost + c.clock().Sub(start)

		if cost >= c.threshold {
			if err := c.backend.Set(ctx, key, summary, c.ttl); err != nil {
				c.logger.Warn("cache backend write failed", "error", err)
			}
		} else {
			c.logger.Debug("summary below caching threshold", "cost", cost)
		}
		return summary, nil
	})
	if err != nil {
		metrics.CacheHits.WithLabelValues("error").Inc()
		return "", false, err
	}

	if shared {
		metrics.CacheHits.WithLabelValues("shared").Inc()
	} else {
		metrics.CacheHits.WithLabelValues("miss").Inc()
	}
	return value.(string), false, nil
}

// Invalidate drops the entry for key. Writers call this when a contributing
// record changes and the new version fingerprint is already known.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.backend.Delete(ctx, key)
}
