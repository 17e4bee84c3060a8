package model

import (
	"context"
	"time"
)

// TenantContext is a resolved, schema-valid configuration snapshot for one
// tenant. It is never mutated after construction; accessors hand out copies.
type TenantContext struct {
	slug       string
	record     TenantRecord
	config     Config
	resolvedAt time.Time
	version    int64
}

// NewTenantContext builds a snapshot, taking ownership of cfg.
func NewTenantContext(record TenantRecord, cfg Config, version int64, resolvedAt time.Time) *TenantContext {
	return &TenantContext{
		slug:       record.Slug,
		record:     record,
		config:     cfg,
		resolvedAt: resolvedAt,
		version:    version,
	}
}

func (c *TenantContext) Slug() string          { return c.slug }
func (c *TenantContext) Status() Status        { return c.record.Status }
func (c *TenantContext) Version() int64        { return c.version }
func (c *TenantContext) ResolvedAt() time.Time { return c.resolvedAt }
func (c *TenantContext) DisplayName() string   { return c.record.DisplayName }

// Record returns a copy of the tenant record the snapshot was built from.
func (c *TenantContext) Record() TenantRecord {
	r := c.record
	r.Domains = append([]string(nil), c.record.Domains...)
	return r
}

// Config returns a deep copy of the merged configuration.
func (c *TenantContext) Config() Config {
	return c.config.Clone()
}

// Brand returns a copy of the brand identity tree.
func (c *TenantContext) Brand() BrandIdentity {
	return c.config.Brand.Clone()
}

// Feature looks up a feature toggle.
func (c *TenantContext) Feature(key string) (Feature, bool) {
	f, ok := c.config.Features[key]
	return f, ok
}

// Limit returns the ceiling for r.
func (c *TenantContext) Limit(r Resource) (int64, bool) {
	return c.config.Limits.Limit(r)
}

// RateLimit returns the tenant's inbound request budget.
func (c *TenantContext) RateLimit() RateLimit {
	return c.config.Security.RateLimit
}

type tenantContextKey struct{}

// WithTenant stores tc in ctx.
func WithTenant(ctx context.Context, tc *TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tc)
}

// TenantFromContext returns the resolved tenant stored in ctx, or nil.
func TenantFromContext(ctx context.Context) *TenantContext {
	tc, _ := ctx.Value(tenantContextKey{}).(*TenantContext)
	return tc
}
