package store

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// DomainLookup resolves a custom domain to its tenant slug.
type DomainLookup interface {
	SlugForDomain(ctx context.Context, domain string) (string, error)
}

// DomainCache fronts a DomainLookup with a short-lived in-process cache.
// Misses are cached too, so unknown hosts do not hit the store on every request.
type DomainCache struct {
	next  DomainLookup
	cache *ristretto.Cache[string, string]
	ttl   time.Duration
}

// NewDomainCache creates a DomainCache holding up to maxEntries domains.
func NewDomainCache(next DomainLookup, maxEntries int64, ttl time.Duration) (*DomainCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &DomainCache{next: next, cache: c, ttl: ttl}, nil
}

func (d *DomainCache) SlugForDomain(ctx context.Context, domain string) (string, error) {
	if slug, ok := d.cache.Get(domain); ok {
		return slug, nil
	}
	slug, err := d.next.SlugForDomain(ctx, domain)
	if err != nil {
		return "", err
	}
	d.cache.SetWithTTL(domain, slug, 1, d.ttl)
	return slug, nil
}

// Forget drops a cached domain after it is remapped.
func (d *DomainCache) Forget(domain string) {
	d.cache.Del(domain)
}

// Clear drops every cached domain.
func (d *DomainCache) Clear() {
	d.cache.Clear()
}

func (d *DomainCache) Close() {
	d.cache.Close()
}
