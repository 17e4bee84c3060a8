// Package resolver builds ResolvedTenantContexts by overlaying a tenant's
// override onto the default template.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/monitoring"
	"github.com/teresa-solution/tenant-context-service/internal/schema"
)

var tracer = otel.Tracer("tenantctx.resolver")

// DefaultTimeout bounds each config store read.
const DefaultTimeout = 2 * time.Second

// Store is the read side of the config store.
type Store interface {
	GetTenantRecord(ctx context.Context, slug string) (*model.TenantRecord, error)
	GetOverride(ctx context.Context, slug string) (*model.TenantOverride, error)
}

// Resolver turns a tenant slug into a validated TenantContext.
type Resolver struct {
	// Clock stamps resolvedAt. Defaults to the wall clock.
	Clock clock.Clock

	store    Store
	template atomic.Pointer[schema.Template]
	timeout  time.Duration
}

// New creates a Resolver. A zero timeout selects DefaultTimeout.
func New(store Store, tmpl *schema.Template, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Resolver{
		Clock:   clock.New(),
		store:   store,
		timeout: timeout,
	}
	r.template.Store(tmpl)
	return r
}

// Template returns the template currently used for resolution.
func (r *Resolver) Template() *schema.Template {
	return r.template.Load()
}

// SetTemplate swaps the default template. Callers must invalidate cached
// contexts afterwards.
func (r *Resolver) SetTemplate(tmpl *schema.Template) {
	r.template.Store(tmpl)
}

// Resolve fetches the tenant record and override, merges and validates them.
// A broken override fails with ErrConfigInvalid; it never degrades to the
// template alone.
func (r *Resolver) Resolve(ctx context.Context, slug string) (*model.TenantContext, error) {
	ctx, span := tracer.Start(ctx, "resolver.Resolve", trace.WithAttributes(attribute.String("tenant.slug", slug)))
	defer span.End()

	start := r.Clock.Now()
	tc, outcome, err := r.resolve(ctx, slug)
	monitoring.Resolutions.WithLabelValues(outcome).Inc()
	monitoring.ResolutionDuration.Observe(r.Clock.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("tenant.config_version", tc.Version()))
	return tc, nil
}

func (r *Resolver) resolve(ctx context.Context, slug string) (*model.TenantContext, string, error) {
	record, err := r.fetchRecord(ctx, slug)
	if err != nil {
		return nil, outcomeOf(err), err
	}
	if record == nil {
		return nil, "not_found", fmt.Errorf("%w: %s", model.ErrTenantNotFound, slug)
	}

	override, err := r.fetchOverride(ctx, slug)
	if err != nil {
		return nil, outcomeOf(err), err
	}
	var (
		doc     json.RawMessage
		version int64
	)
	if override != nil {
		doc, version = override.Document, override.Version
	}

	tmpl := r.template.Load()
	cfg, problems := schema.Merge(tmpl, doc)
	if len(problems) == 0 {
		problems = schema.Validate(&cfg, tmpl)
	}
	if len(problems) > 0 {
		log.Error().
			Str("tenant", slug).
			Int64("version", version).
			Int("problems", len(problems)).
			Msg("Tenant configuration failed validation")
		monitoring.Alert("tenant configuration invalid", map[string]string{
			"tenant":  slug,
			"version": strconv.FormatInt(version, 10),
		})
		return nil, "invalid", &model.ConfigError{Slug: slug, Problems: problems}
	}

	return model.NewTenantContext(*record, cfg, version, r.Clock.Now()), "ok", nil
}

func (r *Resolver) fetchRecord(ctx context.Context, slug string) (*model.TenantRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	record, err := r.store.GetTenantRecord(ctx, slug)
	if err != nil {
		return nil, storeError(slug, "tenant record", err)
	}
	return record, nil
}

func (r *Resolver) fetchOverride(ctx context.Context, slug string) (*model.TenantOverride, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	override, err := r.store.GetOverride(ctx, slug)
	if err != nil {
		return nil, storeError(slug, "override", err)
	}
	return override, nil
}

func storeError(slug, what string, err error) error {
	switch {
	case errors.Is(err, model.ErrStoreTimeout), errors.Is(err, model.ErrStoreUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		log.Error().Err(err).Str("tenant", slug).Msgf("Config store timed out reading %s", what)
		return fmt.Errorf("%w: reading %s for %s", model.ErrStoreTimeout, what, slug)
	case errors.Is(err, context.Canceled):
		return err
	default:
		log.Error().Err(err).Str("tenant", slug).Msgf("Config store failed reading %s", what)
		return fmt.Errorf("%w: reading %s for %s: %v", model.ErrStoreUnavailable, what, slug, err)
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, model.ErrStoreTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unavailable"
	}
}
