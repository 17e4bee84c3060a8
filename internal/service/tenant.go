package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/tenant-context-service/internal/broadcast"
	"github.com/teresa-solution/tenant-context-service/internal/cache"
	"github.com/teresa-solution/tenant-context-service/internal/identify"
	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/monitoring"
	"github.com/teresa-solution/tenant-context-service/internal/resolver"
	"github.com/teresa-solution/tenant-context-service/internal/schema"
)

// ErrInvalidArgument marks malformed administrative input.
var ErrInvalidArgument = errors.New("invalid argument")

// Store is the read/write side of the config store used by administration.
type Store interface {
	resolver.Store
	CreateTenant(ctx context.Context, rec *model.TenantRecord) error
	SetStatus(ctx context.Context, slug string, status model.Status) (*model.TenantRecord, error)
	AddDomain(ctx context.Context, slug, domain string) error
	PutOverride(ctx context.Context, slug string, doc json.RawMessage) (int64, error)
	DeleteOverride(ctx context.Context, slug string) (int64, error)
}

// DomainForgetter drops cached domain mappings.
type DomainForgetter interface {
	Forget(domain string)
}

// TenantService implements tenant administration. Every write invalidates the
// local cache and announces the change to other instances.
type TenantService struct {
	store       Store
	resolver    *resolver.Resolver
	cache       *cache.Cache
	broadcaster broadcast.Broadcaster
	domains     DomainForgetter
	origin      string
}

// NewTenantService creates a TenantService. origin identifies this instance
// on the broadcast channel.
func NewTenantService(store Store, r *resolver.Resolver, c *cache.Cache, b broadcast.Broadcaster, domains DomainForgetter, origin string) *TenantService {
	if b == nil {
		b = broadcast.Noop{}
	}
	if origin == "" {
		origin = uuid.NewString()
	}
	return &TenantService{
		store:       store,
		resolver:    r,
		cache:       c,
		broadcaster: b,
		domains:     domains,
		origin:      origin,
	}
}

// Origin returns the instance id used on the broadcast channel.
func (s *TenantService) Origin() string { return s.origin }

// CreateTenant registers a new active tenant.
func (s *TenantService) CreateTenant(ctx context.Context, slug, displayName string) (*model.TenantRecord, error) {
	if err := validateCreateTenant(slug, displayName); err != nil {
		return nil, err
	}
	rec := &model.TenantRecord{Slug: slug, DisplayName: strings.TrimSpace(displayName), Status: model.StatusActive}
	if err := s.store.CreateTenant(ctx, rec); err != nil {
		log.Error().Err(err).Str("tenant", slug).Msg("Failed to create tenant")
		return nil, err
	}
	log.Info().Str("tenant", slug).Msg("Tenant created")
	return rec, nil
}

// GetConfig returns the tenant's resolved context, whatever its status.
func (s *TenantService) GetConfig(ctx context.Context, slug string) (*model.TenantContext, error) {
	return s.cache.GetOrResolve(ctx, slug)
}

// PutOverride validates doc against the current template and stores it.
// An override that would not resolve is refused with a *model.ConfigError.
func (s *TenantService) PutOverride(ctx context.Context, slug string, doc json.RawMessage) (int64, error) {
	tmpl := s.resolver.Template()
	cfg, problems := schema.Merge(tmpl, doc)
	if len(problems) == 0 {
		problems = schema.Validate(&cfg, tmpl)
	}
	if len(problems) > 0 {
		return 0, &model.ConfigError{Slug: slug, Problems: problems}
	}

	version, err := s.store.PutOverride(ctx, slug, doc)
	if err != nil {
		log.Error().Err(err).Str("tenant", slug).Msg("Failed to write override")
		return 0, err
	}
	s.invalidate(ctx, slug, version)
	log.Info().Str("tenant", slug).Int64("version", version).Msg("Override updated")
	return version, nil
}

// DeleteOverride resets the tenant to the template.
func (s *TenantService) DeleteOverride(ctx context.Context, slug string) (int64, error) {
	version, err := s.store.DeleteOverride(ctx, slug)
	if err != nil {
		log.Error().Err(err).Str("tenant", slug).Msg("Failed to delete override")
		return 0, err
	}
	s.invalidate(ctx, slug, version)
	log.Info().Str("tenant", slug).Int64("version", version).Msg("Override cleared")
	return version, nil
}

// SetStatus suspends, reactivates or soft-deletes a tenant.
func (s *TenantService) SetStatus(ctx context.Context, slug string, status model.Status) (*model.TenantRecord, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrInvalidArgument, status)
	}
	rec, err := s.store.SetStatus(ctx, slug, status)
	if err != nil {
		log.Error().Err(err).Str("tenant", slug).Msg("Failed to update tenant status")
		return nil, err
	}
	s.invalidate(ctx, slug, 0)
	log.Info().Str("tenant", slug).Str("status", string(status)).Msg("Tenant status changed")
	return rec, nil
}

// AddDomain maps a custom domain to a tenant.
func (s *TenantService) AddDomain(ctx context.Context, slug, domain string) error {
	host := identify.NormalizeHost(domain)
	if !isValidDomain(host) {
		return fmt.Errorf("%w: invalid domain %q", ErrInvalidArgument, domain)
	}
	if err := s.store.AddDomain(ctx, slug, host); err != nil {
		log.Error().Err(err).Str("tenant", slug).Str("domain", host).Msg("Failed to add domain")
		return err
	}
	if s.domains != nil {
		s.domains.Forget(host)
	}
	s.invalidate(ctx, slug, 0)
	return nil
}

func (s *TenantService) invalidate(ctx context.Context, slug string, version int64) {
	s.cache.Invalidate(slug)
	monitoring.Invalidations.WithLabelValues("local").Inc()
	msg := broadcast.Message{Slug: slug, Version: version, Origin: s.origin}
	if err := s.broadcaster.Publish(ctx, msg); err != nil {
		// The write is committed; peers still converge through the store feed or TTL.
		log.Error().Err(err).Str("tenant", slug).Msg("Failed to broadcast invalidation")
	}
}

// validateCreateTenant validates the create tenant request
func validateCreateTenant(slug, displayName string) error {
	if strings.TrimSpace(displayName) == "" {
		return fmt.Errorf("%w: display name is required", ErrInvalidArgument)
	}
	if slug == "" {
		return fmt.Errorf("%w: slug is required", ErrInvalidArgument)
	}
	if !identify.ValidSlug(slug) {
		return fmt.Errorf("%w: invalid slug format", ErrInvalidArgument)
	}
	return nil
}

// isValidDomain requires at least two labels and rejects IP literals.
func isValidDomain(host string) bool {
	if host == "" || len(host) > 253 || net.ParseIP(host) != nil {
		return false
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if !identify.ValidSlug(l) {
			return false
		}
	}
	return true
}
