package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teresa-solution/tenant-context-service/internal/enforce"
	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/service"
	"github.com/teresa-solution/tenant-context-service/internal/theme"
)

// UsageStore reads, records and clears tenant usage counters.
type UsageStore interface {
	enforce.UsageCounters
	Add(ctx context.Context, slug string, r model.Resource, delta int64) (int64, error)
	Reset(ctx context.Context, slug string, r model.Resource) error
}

// Options wires the HTTP surface.
type Options struct {
	Engine   *service.Engine
	Admin    *service.TenantService
	Guard    *enforce.Guard
	Usage    UsageStore
	Identity IdentityFunc
	Assets   theme.Assets
	// Ready reports whether backing stores are reachable. Nil means always ready.
	Ready func(ctx context.Context) error

	// DefaultSlug supplies fallback brand assets.
	DefaultSlug string
	// TenantHeader is echoed in Vary on theme responses.
	TenantHeader string
	ThemeMaxAge  time.Duration
	// ThemeCacheBytes bounds the rendered theme cache.
	ThemeCacheBytes int64
	AdminToken      string
}

// Server holds the HTTP handlers and their caches.
type Server struct {
	opts    Options
	themes  *StylesheetCache
	limiter *TenantRateLimiter
}

// NewServer creates a Server. Close releases its caches.
func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil || opts.Admin == nil || opts.Guard == nil {
		return nil, errors.New("api: engine, admin and guard are required")
	}
	if opts.TenantHeader == "" {
		opts.TenantHeader = "X-Tenant-ID"
	}
	if opts.ThemeCacheBytes <= 0 {
		opts.ThemeCacheBytes = 16 << 20
	}
	themes, err := NewStylesheetCache(opts.ThemeCacheBytes)
	if err != nil {
		return nil, err
	}
	return &Server{opts: opts, themes: themes, limiter: NewTenantRateLimiter()}, nil
}

func (s *Server) Close() {
	s.themes.Close()
}

// Router returns the service's HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	// Tenant-scoped routes
	r.Group(func(r chi.Router) {
		r.Use(Tenant(s.opts.Engine, s.opts.Identity))
		r.Use(s.limiter.Middleware)

		r.Get("/theme.css", s.handleStylesheet)
		r.Get("/theme.json", s.handleThemeJSON)
		r.Get("/assets/{category}/{filename}", s.handleAsset)

		r.Route("/v1", func(r chi.Router) {
			r.Get("/context", s.handleContext)
			r.Get("/features/{feature}", s.handleFeature)
			r.Get("/limits/{resource}", s.handleLimit)
			r.With(
				s.opts.Guard.RequireFeature(exportFeature),
				s.opts.Guard.RequireQuota(model.ResourceAPICalls, 1),
			).Get("/export", s.handleExport)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminAuth(s.opts.AdminToken))

		r.Post("/tenants", s.handleCreateTenant)
		r.Route("/tenants/{slug}", func(r chi.Router) {
			r.Get("/config", s.handleGetConfig)
			r.Put("/override", s.handlePutOverride)
			r.Delete("/override", s.handleDeleteOverride)
			r.Put("/status", s.handleSetStatus)
			r.Post("/domains", s.handleAddDomain)
			r.Delete("/usage/{resource}", s.handleResetUsage)
		})
	})

	return r
}
