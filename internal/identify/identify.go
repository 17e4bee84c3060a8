// Package identify decides which tenant an inbound request belongs to.
package identify

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/monitoring"
)

const (
	DefaultHeader     = "X-Tenant-ID"
	DefaultQueryParam = "tenant"
)

// Source names the signal a tenant was identified by.
type Source string

const (
	SourceHeader    Source = "header"
	SourceQuery     Source = "query"
	SourceClaim     Source = "claim"
	SourceDomain    Source = "domain"
	SourceSubdomain Source = "subdomain"
	SourceDefault   Source = "default"
)

// Directory answers existence and custom-domain questions about tenants.
type Directory interface {
	// Exists reports whether a tenant record exists, whatever its status.
	Exists(ctx context.Context, slug string) (bool, error)
	SlugForDomain(ctx context.Context, host string) (string, error)
}

// Config controls which request signals are consulted.
type Config struct {
	DefaultSlug string
	Header      string
	QueryParam  string
	// BaseDomain, when set, anchors subdomain extraction: for base
	// "example.com" the host "acme.eu.example.com" yields "eu".
	BaseDomain string
	// Reserved labels are never treated as tenant subdomains, in addition to
	// www, app and localhost.
	Reserved []string
}

// Result is the outcome of identification. Candidate holds the value the
// winning signal produced when the request fell back to the default tenant.
type Result struct {
	Slug      string
	Source    Source
	Fallback  bool
	Candidate string
}

// Identifier applies a fixed precedence of signals: header, query parameter,
// identity claim, custom domain, then subdomain. The first signal producing
// a candidate wins; later signals are not consulted.
type Identifier struct {
	cfg      Config
	dir      Directory
	reserved map[string]struct{}
}

func New(cfg Config, dir Directory) *Identifier {
	if cfg.Header == "" {
		cfg.Header = DefaultHeader
	}
	if cfg.QueryParam == "" {
		cfg.QueryParam = DefaultQueryParam
	}
	cfg.BaseDomain = strings.Trim(strings.ToLower(cfg.BaseDomain), ".")
	reserved := map[string]struct{}{"": {}, "www": {}, "app": {}, "localhost": {}}
	for _, label := range cfg.Reserved {
		reserved[strings.ToLower(label)] = struct{}{}
	}
	return &Identifier{cfg: cfg, dir: dir, reserved: reserved}
}

// Identify returns the tenant slug for req. A missing or unknown candidate
// falls back to the configured default slug; without one it fails with
// ErrNotIdentified. Directory failures are returned as-is. Tenant status is
// not checked here.
func (i *Identifier) Identify(ctx context.Context, req model.RequestDescriptor, id *model.Identity) (Result, error) {
	source, candidate, err := i.candidate(ctx, req, id)
	if err != nil {
		return Result{}, err
	}
	if candidate == "" {
		return i.fallback(req, "", "", "no_signal")
	}
	if !ValidSlug(candidate) {
		return i.fallback(req, source, candidate, "invalid_slug")
	}
	exists, err := i.dir.Exists(ctx, candidate)
	if err != nil {
		return Result{}, err
	}
	if !exists {
		return i.fallback(req, source, candidate, "unknown_tenant")
	}
	monitoring.Identifications.WithLabelValues(string(source)).Inc()
	return Result{Slug: candidate, Source: source}, nil
}

func (i *Identifier) candidate(ctx context.Context, req model.RequestDescriptor, id *model.Identity) (Source, string, error) {
	if v := lookupFold(req.Headers, i.cfg.Header); v != "" {
		return SourceHeader, normalizeSlug(v), nil
	}
	if v := req.Query[i.cfg.QueryParam]; strings.TrimSpace(v) != "" {
		return SourceQuery, normalizeSlug(v), nil
	}
	if id != nil && strings.TrimSpace(id.TenantClaim) != "" {
		return SourceClaim, normalizeSlug(id.TenantClaim), nil
	}

	host := NormalizeHost(req.Host)
	if host == "" {
		return "", "", nil
	}
	slug, err := i.dir.SlugForDomain(ctx, host)
	if err != nil {
		return "", "", err
	}
	if slug != "" {
		return SourceDomain, slug, nil
	}
	if label := i.subdomain(host); label != "" {
		return SourceSubdomain, label, nil
	}
	return "", "", nil
}

func (i *Identifier) fallback(req model.RequestDescriptor, source Source, candidate, reason string) (Result, error) {
	monitoring.Fallbacks.WithLabelValues(reason).Inc()
	if i.cfg.DefaultSlug == "" {
		log.Warn().
			Str("host", req.Host).
			Str("signal", string(source)).
			Str("candidate", candidate).
			Str("reason", reason).
			Msg("Request not identified and no default tenant configured")
		return Result{}, fmt.Errorf("%w: %s", model.ErrNotIdentified, reason)
	}
	log.Warn().
		Str("host", req.Host).
		Str("signal", string(source)).
		Str("candidate", candidate).
		Str("reason", reason).
		Str("tenant", i.cfg.DefaultSlug).
		Msg("Falling back to default tenant")
	monitoring.Identifications.WithLabelValues(string(SourceDefault)).Inc()
	return Result{Slug: i.cfg.DefaultSlug, Source: SourceDefault, Fallback: true, Candidate: candidate}, nil
}

func (i *Identifier) subdomain(host string) string {
	if net.ParseIP(host) != nil {
		return ""
	}
	var label string
	if base := i.cfg.BaseDomain; base != "" {
		prefix, ok := strings.CutSuffix(host, "."+base)
		if !ok || prefix == "" {
			return ""
		}
		label = prefix[strings.LastIndexByte(prefix, '.')+1:]
	} else {
		labels := strings.Split(host, ".")
		if len(labels) < 3 {
			return ""
		}
		label = labels[0]
	}
	if _, reserved := i.reserved[label]; reserved {
		return ""
	}
	return label
}

// NormalizeHost lowercases host and strips any port and trailing dot.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.Trim(host, "[]"), ".")
	return host
}

func normalizeSlug(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func lookupFold(m map[string]string, key string) string {
	if v, ok := m[key]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// ValidSlug checks the slug against ^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$.
func ValidSlug(slug string) bool {
	if len(slug) < 1 || len(slug) > 63 {
		return false
	}
	for i, r := range slug {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum && (r != '-' || i == 0 || i == len(slug)-1) {
			return false
		}
	}
	return true
}
