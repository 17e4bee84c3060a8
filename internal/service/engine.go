package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/tenant-context-service/internal/cache"
	"github.com/teresa-solution/tenant-context-service/internal/identify"
	"github.com/teresa-solution/tenant-context-service/internal/model"
)

// DomainLookup maps a custom domain to its tenant.
type DomainLookup interface {
	SlugForDomain(ctx context.Context, domain string) (string, error)
}

// Engine turns an inbound request into a resolved, active TenantContext.
type Engine struct {
	identifier *identify.Identifier
	cache      *cache.Cache
	domains    DomainLookup
}

// NewEngine wires identification to the context cache.
func NewEngine(cfg identify.Config, c *cache.Cache, domains DomainLookup) *Engine {
	e := &Engine{cache: c, domains: domains}
	e.identifier = identify.New(cfg, e)
	return e
}

// Resolve identifies the request's tenant and returns its context. Suspended
// and deleted tenants fail with ErrTenantInactive.
func (e *Engine) Resolve(ctx context.Context, req model.RequestDescriptor, id *model.Identity) (*model.TenantContext, identify.Result, error) {
	res, err := e.identifier.Identify(ctx, req, id)
	if err != nil {
		return nil, res, err
	}
	tc, err := e.cache.GetOrResolve(ctx, res.Slug)
	if err != nil {
		return nil, res, err
	}
	if !tc.Status().Active() {
		log.Info().Str("tenant", tc.Slug()).Str("status", string(tc.Status())).Msg("Rejected request for inactive tenant")
		return nil, res, fmt.Errorf("%w: %s is %s", model.ErrTenantInactive, tc.Slug(), tc.Status())
	}
	return tc, res, nil
}

// Exists reports whether slug has a tenant record. A tenant whose override is
// broken still exists; resolution surfaces the configuration error.
func (e *Engine) Exists(ctx context.Context, slug string) (bool, error) {
	_, err := e.cache.GetOrResolve(ctx, slug)
	switch {
	case err == nil, errors.Is(err, model.ErrConfigInvalid):
		return true, nil
	case errors.Is(err, model.ErrTenantNotFound):
		return false, nil
	default:
		return false, err
	}
}

// SlugForDomain looks up a custom domain. Lookup failures are reported as
// store errors so callers can retry them.
func (e *Engine) SlugForDomain(ctx context.Context, domain string) (string, error) {
	if e.domains == nil {
		return "", nil
	}
	slug, err := e.domains.SlugForDomain(ctx, domain)
	switch {
	case err == nil, model.Retryable(err), errors.Is(err, context.Canceled):
		return slug, err
	case errors.Is(err, context.DeadlineExceeded):
		return "", fmt.Errorf("%w: domain lookup for %s", model.ErrStoreTimeout, domain)
	default:
		log.Error().Err(err).Str("domain", domain).Msg("Config store failed looking up domain")
		return "", fmt.Errorf("%w: domain lookup for %s: %v", model.ErrStoreUnavailable, domain, err)
	}
}
