package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teresa-solution/tenant-context-service/internal/model"
)

func setupTestDB(t *testing.T) (*TenantRepository, func()) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	repo, err := NewTenantRepository(ctx, dsn, 4)
	require.NoError(t, err)

	schema, err := os.ReadFile("../../migrations/000001_tenant_config.up.sql")
	require.NoError(t, err)
	_, err = repo.pool.Exec(ctx, string(schema))
	require.NoError(t, err)

	// Clear the database before each test
	_, err = repo.pool.Exec(ctx, "TRUNCATE TABLE tenant_overrides, tenant_domains, tenants CASCADE")
	require.NoError(t, err)

	return repo, repo.Close
}

func TestTenantRepository_CreateAndGet(t *testing.T) {
	repo, teardown := setupTestDB(t)
	defer teardown()
	ctx := context.Background()

	rec := &model.TenantRecord{Slug: "acme", DisplayName: "Acme Corp"}
	require.NoError(t, repo.CreateTenant(ctx, rec))
	assert.NotZero(t, rec.ID)
	assert.Equal(t, model.StatusActive, rec.Status)

	fetched, err := repo.GetTenantRecord(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, rec.ID, fetched.ID)
	assert.Equal(t, "Acme Corp", fetched.DisplayName)
	assert.Empty(t, fetched.Domains)

	assert.ErrorIs(t, repo.CreateTenant(ctx, &model.TenantRecord{Slug: "acme", DisplayName: "Again"}), ErrConflict)

	missing, err := repo.GetTenantRecord(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTenantRepository_OverrideVersions(t *testing.T) {
	repo, teardown := setupTestDB(t)
	defer teardown()
	ctx := context.Background()

	require.NoError(t, repo.CreateTenant(ctx, &model.TenantRecord{Slug: "acme", DisplayName: "Acme"}))

	ov, err := repo.GetOverride(ctx, "acme")
	require.NoError(t, err)
	assert.Nil(t, ov)

	v1, err := repo.PutOverride(ctx, "acme", json.RawMessage(`{"limits":{"maxUsers":10}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)

	v2, err := repo.DeleteOverride(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)

	ov, err = repo.GetOverride(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, ov)
	assert.JSONEq(t, `{}`, string(ov.Document))
	assert.Equal(t, int64(2), ov.Version)

	_, err = repo.PutOverride(ctx, "ghost", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, model.ErrTenantNotFound)
}

func TestTenantRepository_SoftDeleteAndDomains(t *testing.T) {
	repo, teardown := setupTestDB(t)
	defer teardown()
	ctx := context.Background()

	require.NoError(t, repo.CreateTenant(ctx, &model.TenantRecord{Slug: "acme", DisplayName: "Acme"}))
	require.NoError(t, repo.AddDomain(ctx, "acme", "portal.acme.test"))
	assert.ErrorIs(t, repo.AddDomain(ctx, "acme", "portal.acme.test"), ErrConflict)

	slug, err := repo.SlugForDomain(ctx, "portal.acme.test")
	require.NoError(t, err)
	assert.Equal(t, "acme", slug)

	rec, err := repo.SetStatus(ctx, "acme", model.StatusDeleted)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeleted, rec.Status)
	assert.NotNil(t, rec.DeletedAt)
	assert.Equal(t, []string{"portal.acme.test"}, rec.Domains)

	// Soft delete keeps the row.
	fetched, err := repo.GetTenantRecord(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, model.StatusDeleted, fetched.Status)
}

func TestTenantRepository_WatchReceivesCommittedWrites(t *testing.T) {
	repo, teardown := setupTestDB(t)
	defer teardown()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, repo.CreateTenant(ctx, &model.TenantRecord{Slug: "acme", DisplayName: "Acme"}))
	changes, err := repo.Watch(ctx)
	require.NoError(t, err)

	_, err = repo.PutOverride(ctx, "acme", json.RawMessage(`{"general":{"locale":"de-DE"}}`))
	require.NoError(t, err)

	select {
	case change := <-changes:
		assert.Equal(t, model.OverrideChange{Slug: "acme", Version: 1}, change)
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification received")
	}
}
