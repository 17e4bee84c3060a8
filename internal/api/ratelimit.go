package api

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/teresa-solution/tenant-context-service/internal/model"
)

// TenantRateLimiter keeps one token bucket per tenant, sized from the
// tenant's security.rateLimit settings. A bucket follows config changes
// without losing its current tokens.
type TenantRateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

func NewTenantRateLimiter() *TenantRateLimiter {
	return &TenantRateLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (rl *TenantRateLimiter) limiter(slug string, cfg model.RateLimit) *rate.Limiter {
	limit, burst := rate.Limit(cfg.RequestsPerSecond), cfg.Burst

	rl.mu.RLock()
	l, ok := rl.limiters[slug]
	rl.mu.RUnlock()
	if !ok {
		rl.mu.Lock()
		// Double-check after acquiring write lock
		if l, ok = rl.limiters[slug]; !ok {
			l = rate.NewLimiter(limit, burst)
			rl.limiters[slug] = l
		}
		rl.mu.Unlock()
	}

	if l.Limit() != limit {
		l.SetLimit(limit)
	}
	if l.Burst() != burst {
		l.SetBurst(burst)
	}
	return l
}

// Allow reports whether tc may serve another request now.
func (rl *TenantRateLimiter) Allow(tc *model.TenantContext) bool {
	return rl.limiter(tc.Slug(), tc.RateLimit()).Allow()
}

// Len returns the number of tracked tenants.
func (rl *TenantRateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}

// Middleware limits requests per resolved tenant. It must run after Tenant.
func (rl *TenantRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := model.TenantFromContext(r.Context())
		if tc != nil && !rl.Allow(tc) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
