package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/tenant-context-service/internal/enforce"
	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/service"
	"github.com/teresa-solution/tenant-context-service/internal/store"
)

// IdentityFunc extracts the authenticated caller from a request. Callers
// without an authentication layer may leave it nil.
type IdentityFunc func(r *http.Request) *model.Identity

// Tenant resolves the request's tenant and stores the TenantContext in the
// request context. Unresolvable and inactive tenants are rejected here.
func Tenant(engine *service.Engine, identity IdentityFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id *model.Identity
			if identity != nil {
				id = identity(r)
			}
			tc, res, err := engine.Resolve(r.Context(), Descriptor(r), id)
			if err != nil {
				writeResolveError(w, err)
				return
			}
			w.Header().Set("X-Tenant", tc.Slug())
			if res.Fallback {
				w.Header().Set("X-Tenant-Fallback", "true")
			}
			next.ServeHTTP(w, r.WithContext(model.WithTenant(r.Context(), tc)))
		})
	}
}

// Descriptor builds the routing layer's view of r. Only the first value of
// each header and query parameter is kept.
func Descriptor(r *http.Request) model.RequestDescriptor {
	desc := model.RequestDescriptor{
		Host:    r.Host,
		Headers: make(map[string]string, len(r.Header)),
		Query:   map[string]string{},
	}
	for k, v := range r.Header {
		if len(v) > 0 {
			desc.Headers[k] = v[0]
		}
	}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			desc.Query[k] = v[0]
		}
	}
	return desc
}

// AdminAuth requires "Authorization: Bearer <token>". An empty token disables
// the admin surface.
func AdminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeError(w, http.StatusForbidden, "admin API disabled")
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			parts := strings.SplitN(auth, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeError(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}
			if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one line per request with the tenant it was served for.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("tenant", ww.Header().Get("X-Tenant")).
			Str("remote_addr", r.RemoteAddr).
			Msg("http request")
	})
}

// errorStatus maps engine and admin errors onto HTTP status codes and
// client-safe messages.
func errorStatus(err error) (int, string) {
	var denied *enforce.DeniedError
	var cfgErr *model.ConfigError
	switch {
	case errors.Is(err, model.ErrNotIdentified):
		return http.StatusNotFound, "tenant not identified"
	case errors.Is(err, model.ErrTenantNotFound):
		return http.StatusNotFound, "tenant not found"
	case errors.Is(err, model.ErrTenantInactive):
		return http.StatusForbidden, "tenant is not active"
	case errors.As(err, &denied):
		return http.StatusForbidden, string(denied.Reason)
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError, "tenant configuration is invalid"
	case model.Retryable(err):
		return http.StatusServiceUnavailable, "tenant configuration temporarily unavailable"
	case errors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "already exists"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline exceeded"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request canceled"
	default:
		log.Error().Err(err).Msg("Unhandled request error")
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeResolveError(w http.ResponseWriter, err error) {
	status, msg := errorStatus(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
