package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/schema"
	"github.com/teresa-solution/tenant-context-service/internal/store"
)

func newResolver(t *testing.T) (*Resolver, *store.MemoryStore, *clock.Mock) {
	t.Helper()
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateTenant(context.Background(), &model.TenantRecord{Slug: "acme", DisplayName: "Acme"}))
	r := New(s, schema.DefaultTemplate(), 50*time.Millisecond)
	mock := clock.NewMock()
	r.Clock = mock
	return r, s, mock
}

func TestResolve_NoOverrideEqualsTemplate(t *testing.T) {
	r, _, _ := newResolver(t)

	tc, err := r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", tc.Slug())
	assert.Zero(t, tc.Version())
	if diff := cmp.Diff(r.Template().Config(), tc.Config()); diff != "" {
		t.Errorf("resolved config differs from template (-want +got):\n%s", diff)
	}
}

func TestResolve_AppliesOverrideAndStampsVersion(t *testing.T) {
	r, s, mock := newResolver(t)
	ctx := context.Background()
	_, err := s.PutOverride(ctx, "acme", json.RawMessage(`{"limits":{"maxUsers":10},"features":{"jobApplications":{"enabled":true}}}`))
	require.NoError(t, err)
	mock.Add(time.Hour)

	tc, err := r.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tc.Version())
	assert.Equal(t, mock.Now(), tc.ResolvedAt())

	limit, ok := tc.Limit(model.ResourceUsers)
	require.True(t, ok)
	assert.Equal(t, int64(10), limit)
	f, ok := tc.Feature("jobApplications")
	require.True(t, ok)
	assert.True(t, f.Enabled)

	want := r.Template().Config()
	want.Limits.MaxUsers = 10
	want.Features["jobApplications"] = model.Feature{Enabled: true, Description: want.Features["jobApplications"].Description}
	assert.Empty(t, cmp.Diff(want, tc.Config()))
}

func TestResolve_Idempotent(t *testing.T) {
	r, s, mock := newResolver(t)
	ctx := context.Background()
	_, err := s.PutOverride(ctx, "acme", json.RawMessage(`{"general":{"locale":"de-DE"}}`))
	require.NoError(t, err)

	first, err := r.Resolve(ctx, "acme")
	require.NoError(t, err)
	mock.Add(time.Second)
	second, err := r.Resolve(ctx, "acme")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, first.Version(), second.Version())
	assert.Equal(t, first.Record(), second.Record())
	assert.Empty(t, cmp.Diff(first.Config(), second.Config()))
	assert.True(t, second.ResolvedAt().After(first.ResolvedAt()))
}

func TestResolve_UnknownTenant(t *testing.T) {
	r, _, _ := newResolver(t)
	_, err := r.Resolve(context.Background(), "ghost")
	assert.ErrorIs(t, err, model.ErrTenantNotFound)
}

func TestResolve_InvalidOverrideFailsLoudly(t *testing.T) {
	r, s, _ := newResolver(t)
	ctx := context.Background()
	_, err := s.PutOverride(ctx, "acme", json.RawMessage(`{"brand":{"colors":{"consumption":{"primary":"{palette.nope}"}}},"security":{"requireMfa":true}}`))
	require.NoError(t, err)

	tc, err := r.Resolve(ctx, "acme")
	assert.Nil(t, tc)
	require.ErrorIs(t, err, model.ErrConfigInvalid)

	var cfgErr *model.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "acme", cfgErr.Slug)
	require.Len(t, cfgErr.Problems, 1)
	assert.Equal(t, "brand.colors.consumption.primary", cfgErr.Problems[0].Path)
}

func TestResolve_UnknownKeyFailsLoudly(t *testing.T) {
	r, s, _ := newResolver(t)
	ctx := context.Background()
	_, err := s.PutOverride(ctx, "acme", json.RawMessage(`{"billing":{"plan":"gold"}}`))
	require.NoError(t, err)

	_, err = r.Resolve(ctx, "acme")
	assert.ErrorIs(t, err, model.ErrConfigInvalid)
}

func TestResolve_StoreTimeout(t *testing.T) {
	r, s, _ := newResolver(t)
	s.Reads = func(ctx context.Context, op, slug string) error {
		if op == "override" {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	_, err := r.Resolve(context.Background(), "acme")
	assert.ErrorIs(t, err, model.ErrStoreTimeout)
	assert.True(t, model.Retryable(err))
	assert.NotErrorIs(t, err, model.ErrTenantNotFound)
}

func TestResolve_StoreUnavailable(t *testing.T) {
	r, s, _ := newResolver(t)
	s.Reads = func(context.Context, string, string) error {
		return errors.New("connection refused")
	}

	_, err := r.Resolve(context.Background(), "acme")
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}

func TestResolve_TemplateSwap(t *testing.T) {
	r, _, _ := newResolver(t)
	ctx := context.Background()

	cfg := r.Template().Config()
	assert.Equal(t, "Workspace", cfg.General.DisplayName)

	tmpl, err := schema.LoadTemplate(templateWithDisplayName(t, "Portal"))
	require.NoError(t, err)
	r.SetTemplate(tmpl)

	tc, err := r.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Portal", tc.Config().General.DisplayName)
}

// templateWithDisplayName renders the default template as JSON, which is also
// valid YAML, with one field changed.
func templateWithDisplayName(t *testing.T, name string) *bytes.Reader {
	t.Helper()
	cfg := schema.DefaultTemplate().Config()
	cfg.General.DisplayName = name
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	return bytes.NewReader(data)
}
