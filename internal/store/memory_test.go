package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teresa-solution/tenant-context-service/internal/model"
)

func TestMemoryStore_OverrideLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateTenant(ctx, &model.TenantRecord{Slug: "acme", DisplayName: "Acme"}))

	changes, err := s.Watch(ctx)
	require.NoError(t, err)

	v, err := s.PutOverride(ctx, "acme", json.RawMessage(`{"limits":{"maxUsers":10}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, model.OverrideChange{Slug: "acme", Version: 1}, <-changes)

	v, err = s.DeleteOverride(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.Equal(t, model.OverrideChange{Slug: "acme", Version: 2}, <-changes)

	ov, err := s.GetOverride(ctx, "acme")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(ov.Document))

	_, err = s.PutOverride(ctx, "ghost", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, model.ErrTenantNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateTenant(ctx, &model.TenantRecord{Slug: "acme", DisplayName: "Acme"}))
	require.NoError(t, s.AddDomain(ctx, "acme", "acme.test"))

	rec, err := s.GetTenantRecord(ctx, "acme")
	require.NoError(t, err)
	rec.Domains[0] = "evil.test"

	again, err := s.GetTenantRecord(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"acme.test"}, again.Domains)
}

func TestMemoryStore_SoftDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateTenant(ctx, &model.TenantRecord{Slug: "acme", DisplayName: "Acme"}))

	rec, err := s.SetStatus(ctx, "acme", model.StatusDeleted)
	require.NoError(t, err)
	assert.NotNil(t, rec.DeletedAt)

	fetched, err := s.GetTenantRecord(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeleted, fetched.Status)
}

func TestMemoryStore_DomainConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateTenant(ctx, &model.TenantRecord{Slug: "acme", DisplayName: "Acme"}))
	require.NoError(t, s.CreateTenant(ctx, &model.TenantRecord{Slug: "globex", DisplayName: "Globex"}))
	require.NoError(t, s.AddDomain(ctx, "acme", "shared.test"))

	assert.ErrorIs(t, s.AddDomain(ctx, "globex", "shared.test"), ErrConflict)
	assert.ErrorIs(t, s.CreateTenant(ctx, &model.TenantRecord{Slug: "acme"}), ErrConflict)
}

type countingLookup struct {
	calls   int
	domains map[string]string
}

func (c *countingLookup) SlugForDomain(_ context.Context, domain string) (string, error) {
	c.calls++
	return c.domains[domain], nil
}

func TestDomainCache_CachesHitsAndMisses(t *testing.T) {
	next := &countingLookup{domains: map[string]string{"acme.test": "acme"}}
	dc, err := NewDomainCache(next, 100, time.Minute)
	require.NoError(t, err)
	defer dc.Close()
	ctx := context.Background()

	slug, err := dc.SlugForDomain(ctx, "acme.test")
	require.NoError(t, err)
	assert.Equal(t, "acme", slug)
	_, err = dc.SlugForDomain(ctx, "unknown.test")
	require.NoError(t, err)
	dc.cache.Wait()

	slug, _ = dc.SlugForDomain(ctx, "acme.test")
	assert.Equal(t, "acme", slug)
	slug, _ = dc.SlugForDomain(ctx, "unknown.test")
	assert.Empty(t, slug)
	assert.Equal(t, 2, next.calls)

	dc.Forget("acme.test")
	_, _ = dc.SlugForDomain(ctx, "acme.test")
	assert.Equal(t, 3, next.calls)
}

func TestMemoryUsage(t *testing.T) {
	ctx := context.Background()
	u := NewMemoryUsage()

	n, err := u.Add(ctx, "acme", model.ResourceUsers, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = u.Usage(ctx, "acme", model.ResourceUsers)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, _ = u.Usage(ctx, "globex", model.ResourceUsers)
	assert.Zero(t, n)

	require.NoError(t, u.Reset(ctx, "acme", model.ResourceUsers))
	n, _ = u.Usage(ctx, "acme", model.ResourceUsers)
	assert.Zero(t, n)
}

func TestRedisUsage(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	rdb.Del(ctx, usageKey("acme", model.ResourceAPICalls))

	u := NewRedisUsage(rdb)
	n, err := u.Usage(ctx, "acme", model.ResourceAPICalls)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = u.Add(ctx, "acme", model.ResourceAPICalls, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	require.NoError(t, u.Reset(ctx, "acme", model.ResourceAPICalls))
	n, err = u.Usage(ctx, "acme", model.ResourceAPICalls)
	require.NoError(t, err)
	assert.Zero(t, n)
}
