package enforce

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/monitoring"
)

// UsageCounters reports current per-tenant usage.
type UsageCounters interface {
	Usage(ctx context.Context, slug string, r model.Resource) (int64, error)
}

// Guard combines the decision functions with live usage counters.
type Guard struct {
	usage UsageCounters
}

func NewGuard(usage UsageCounters) *Guard {
	return &Guard{usage: usage}
}

// CheckFeature authorizes a feature and records the decision.
func (g *Guard) CheckFeature(tc *model.TenantContext, feature string) Decision {
	d := AuthorizeFeature(tc, feature)
	record("feature", d)
	return d
}

// CheckLimit reads current usage and authorizes consuming delta more.
// Inactive tenants are refused without reading usage.
func (g *Guard) CheckLimit(ctx context.Context, tc *model.TenantContext, resource model.Resource, delta int64) (Decision, error) {
	if d, ok := gate(tc, string(resource)); !ok {
		record("limit", d)
		return d, nil
	}
	current, err := g.usage.Usage(ctx, tc.Slug(), resource)
	if err != nil {
		return Decision{}, err
	}
	d := AuthorizeLimit(tc, resource, current, delta)
	record("limit", d)
	return d, nil
}

func record(kind string, d Decision) {
	reason := string(d.Reason)
	if d.Allowed {
		reason = "Allowed"
	}
	monitoring.Decisions.WithLabelValues(kind, reason).Inc()
}

// RequireFeature refuses requests whose tenant lacks feature.
func (g *Guard) RequireFeature(feature string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.CheckFeature(model.TenantFromContext(r.Context()), feature)
			if !d.Allowed {
				writeDenied(w, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireQuota refuses requests that would push resource past its limit.
func (g *Guard) RequireQuota(resource model.Resource, delta int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc := model.TenantFromContext(r.Context())
			d, err := g.CheckLimit(r.Context(), tc, resource, delta)
			if err != nil {
				log.Error().Err(err).Str("resource", string(resource)).Msg("Failed to read usage counters")
				w.Header().Set("Retry-After", "1")
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			if !d.Allowed {
				writeDenied(w, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeDenied(w http.ResponseWriter, d Decision) {
	body := map[string]string{
		"error":   "forbidden",
		"reason":  string(d.Reason),
		"subject": d.Subject,
	}
	if d.Reason == LimitExceeded {
		body["limit"] = strconv.FormatInt(d.Limit, 10)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(body)
}
