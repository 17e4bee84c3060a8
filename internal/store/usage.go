package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/teresa-solution/tenant-context-service/internal/model"
)

// RedisClient is the subset of the go-redis client used by the usage counters.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

func usageKey(slug string, r model.Resource) string {
	return fmt.Sprintf("usage:%s:%s", slug, r)
}

// RedisUsage stores per-tenant usage counters in Redis. Period resets are
// owned by whoever calls Reset.
type RedisUsage struct {
	client RedisClient
}

func NewRedisUsage(client RedisClient) *RedisUsage {
	return &RedisUsage{client: client}
}

// Usage returns the current counter value; a missing key reads as zero.
func (u *RedisUsage) Usage(ctx context.Context, slug string, r model.Resource) (int64, error) {
	n, err := u.client.Get(ctx, usageKey(slug, r)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read usage %s/%s: %w", slug, r, err)
	}
	return n, nil
}

// Add adjusts a counter and returns the new value.
func (u *RedisUsage) Add(ctx context.Context, slug string, r model.Resource, delta int64) (int64, error) {
	n, err := u.client.IncrBy(ctx, usageKey(slug, r), delta).Result()
	if err != nil {
		return 0, fmt.Errorf("add usage %s/%s: %w", slug, r, err)
	}
	return n, nil
}

// Reset clears a counter at a period boundary.
func (u *RedisUsage) Reset(ctx context.Context, slug string, r model.Resource) error {
	return u.client.Del(ctx, usageKey(slug, r)).Err()
}

// MemoryUsage is an in-process usage counter set.
type MemoryUsage struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryUsage() *MemoryUsage {
	return &MemoryUsage{counts: make(map[string]int64)}
}

func (u *MemoryUsage) Usage(_ context.Context, slug string, r model.Resource) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[usageKey(slug, r)], nil
}

func (u *MemoryUsage) Add(_ context.Context, slug string, r model.Resource, delta int64) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	k := usageKey(slug, r)
	u.counts[k] += delta
	return u.counts[k], nil
}

func (u *MemoryUsage) Reset(_ context.Context, slug string, r model.Resource) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.counts, usageKey(slug, r))
	return nil
}
