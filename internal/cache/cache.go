// Package cache memoizes resolved tenant contexts with TTL expiry, explicit
// invalidation and single-flight resolution.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/monitoring"
)

var tracer = otel.Tracer("tenantctx.cache")

const (
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Resolver builds a fresh TenantContext for a slug.
type Resolver interface {
	Resolve(ctx context.Context, slug string) (*model.TenantContext, error)
}

type entry struct {
	tc            *model.TenantContext
	expiresAt     time.Time
	sourceVersion int64
}

// Cache holds at most one resolved context per slug. Contexts are built
// outside the lock and installed only if no invalidation happened meanwhile.
type Cache struct {
	// Clock drives expiry. Defaults to the wall clock.
	Clock clock.Clock

	resolver Resolver
	ttl      time.Duration
	group    singleflight.Group

	mu          sync.Mutex
	entries     map[string]entry
	generations map[string]uint64
	epoch       uint64
}

// New creates a Cache. A zero ttl selects DefaultTTL.
func New(resolver Resolver, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		Clock:       clock.New(),
		resolver:    resolver,
		ttl:         ttl,
		entries:     make(map[string]entry),
		generations: make(map[string]uint64),
	}
}

// GetOrResolve returns the cached context for slug, resolving it on a miss.
// Concurrent misses for one slug share a single resolution. Cancelling ctx
// abandons this caller's wait but not the shared resolution.
func (c *Cache) GetOrResolve(ctx context.Context, slug string) (*model.TenantContext, error) {
	ctx, span := tracer.Start(ctx, "cache.GetOrResolve", trace.WithAttributes(attribute.String("tenant.slug", slug)))
	defer span.End()

	c.mu.Lock()
	e, ok := c.entries[slug]
	if ok && c.Clock.Now().Before(e.expiresAt) {
		c.mu.Unlock()
		monitoring.CacheLookups.WithLabelValues("hit").Inc()
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return e.tc, nil
	}
	key := c.flightKey(slug)
	c.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.fill(detached, slug)
	})

	select {
	case res := <-ch:
		if res.Shared {
			monitoring.CacheLookups.WithLabelValues("shared").Inc()
		} else {
			monitoring.CacheLookups.WithLabelValues("miss").Inc()
		}
		if res.Err != nil {
			span.RecordError(res.Err)
			return nil, res.Err
		}
		return res.Val.(*model.TenantContext), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flightKey scopes single-flight groups to the current epoch so flights
// started before InvalidateAll are never joined afterwards. Callers hold mu.
func (c *Cache) flightKey(slug string) string {
	return strconv.FormatUint(c.epoch, 10) + "/" + slug
}

func (c *Cache) fill(ctx context.Context, slug string) (*model.TenantContext, error) {
	c.mu.Lock()
	gen, epoch := c.generations[slug], c.epoch
	c.mu.Unlock()

	tc, err := c.resolver.Resolve(ctx, slug)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[slug] != gen || c.epoch != epoch {
		log.Debug().Str("tenant", slug).Msg("Discarding context resolved before invalidation")
		return tc, nil
	}
	if cur, ok := c.entries[slug]; ok && cur.sourceVersion > tc.Version() {
		return cur.tc, nil
	}
	c.entries[slug] = entry{
		tc:            tc,
		expiresAt:     c.Clock.Now().Add(c.ttl),
		sourceVersion: tc.Version(),
	}
	monitoring.CacheEntries.Set(float64(len(c.entries)))
	return tc, nil
}

// Invalidate drops slug's entry. Resolutions already in flight for slug
// complete for their current waiters but are neither installed nor joined
// by later callers.
func (c *Cache) Invalidate(slug string) {
	c.mu.Lock()
	delete(c.entries, slug)
	c.generations[slug]++
	key := c.flightKey(slug)
	monitoring.CacheEntries.Set(float64(len(c.entries)))
	c.mu.Unlock()
	c.group.Forget(key)
}

// InvalidateAll drops every entry, e.g. after the default template changes.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.epoch++
	c.mu.Unlock()
	monitoring.CacheEntries.Set(0)
}

// Len returns the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Run evicts expired entries every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := c.Clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.sweep(); n > 0 {
				log.Debug().Int("evicted", n).Msg("Swept expired tenant contexts")
			}
		}
	}
}

func (c *Cache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.Clock.Now()
	evicted := 0
	for slug, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, slug)
			evicted++
		}
	}
	monitoring.CacheEntries.Set(float64(len(c.entries)))
	return evicted
}
