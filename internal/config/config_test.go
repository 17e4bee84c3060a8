package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 2*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "public", cfg.Tenancy.DefaultSlug)
	assert.Equal(t, "X-Tenant-ID", cfg.Tenancy.Header)
	assert.Equal(t, []string{"www", "api", "admin", "app"}, cfg.Tenancy.ReservedSubdomains)
	assert.True(t, cfg.NeedsRedis())
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "tenantctx.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
store:
  driver: memory
cache:
  ttl: 30s
tenancy:
  default_slug: from-file
  base_domain: example.com
`), 0o644))

	t.Setenv("TENANTCTX_TENANCY_DEFAULT_SLUG", "from-env")
	t.Setenv("TENANTCTX_CACHE_TTL", "45s")
	t.Setenv("TENANTCTX_TENANCY_RESERVED_SUBDOMAINS", "www,status")

	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs, v))
	require.NoError(t, fs.Parse([]string{"--default-tenant=from-flag"}))

	cfg, err := Load(v, file)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver, "file beats default")
	assert.Equal(t, 45*time.Second, cfg.Cache.TTL, "env beats file")
	assert.Equal(t, "from-flag", cfg.Tenancy.DefaultSlug, "flag beats env")
	assert.Equal(t, "example.com", cfg.Tenancy.BaseDomain)
	assert.Equal(t, []string{"www", "status"}, cfg.Tenancy.ReservedSubdomains)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	cfg.Store.Driver = "mysql"
	cfg.Invalidation.Driver = "kafka"
	cfg.Cache.TTL = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "invalidation.driver")
	assert.Contains(t, err.Error(), "cache.ttl")
}

func TestNeedsRedis(t *testing.T) {
	cfg := &Config{
		Invalidation: InvalidationConfig{Driver: "nats"},
		Usage:        UsageConfig{Driver: "memory"},
	}
	assert.False(t, cfg.NeedsRedis())
	cfg.Usage.Driver = "redis"
	assert.True(t, cfg.NeedsRedis())
}
