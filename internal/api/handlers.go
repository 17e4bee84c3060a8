package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/tenant-context-service/internal/enforce"
	"github.com/teresa-solution/tenant-context-service/internal/model"
)

const maxOverrideBytes = 1 << 20

// exportFeature gates the usage export.
const exportFeature = "analyticsExport"

type contextResponse struct {
	Tenant      string              `json:"tenant"`
	DisplayName string              `json:"displayName"`
	Status      model.Status        `json:"status"`
	Version     int64               `json:"version"`
	ResolvedAt  time.Time           `json:"resolvedAt"`
	Config      *model.Config       `json:"config,omitempty"`
	Record      *model.TenantRecord `json:"record,omitempty"`
}

type decisionResponse struct {
	Allowed bool           `json:"allowed"`
	Reason  enforce.Reason `json:"reason,omitempty"`
	Subject string         `json:"subject"`
	Limit   int64          `json:"limit,omitempty"`
	Current int64          `json:"current,omitempty"`
	Delta   int64          `json:"delta,omitempty"`
}

func toDecisionResponse(d enforce.Decision) decisionResponse {
	return decisionResponse{
		Allowed: d.Allowed,
		Reason:  d.Reason,
		Subject: d.Subject,
		Limit:   d.Limit,
		Current: d.Current,
		Delta:   d.Delta,
	}
}

// handleContext returns the resolved configuration of the request's tenant.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	tc := model.TenantFromContext(r.Context())
	cfg := tc.Config()
	writeJSON(w, http.StatusOK, contextResponse{
		Tenant:      tc.Slug(),
		DisplayName: tc.DisplayName(),
		Status:      tc.Status(),
		Version:     tc.Version(),
		ResolvedAt:  tc.ResolvedAt(),
		Config:      &cfg,
	})
}

func (s *Server) handleFeature(w http.ResponseWriter, r *http.Request) {
	tc := model.TenantFromContext(r.Context())
	d := s.opts.Guard.CheckFeature(tc, chi.URLParam(r, "feature"))
	writeJSON(w, http.StatusOK, toDecisionResponse(d))
}

// handleLimit answers whether the tenant may consume delta more units of a
// resource. delta defaults to 1.
func (s *Server) handleLimit(w http.ResponseWriter, r *http.Request) {
	tc := model.TenantFromContext(r.Context())
	delta := int64(1)
	if raw := r.URL.Query().Get("delta"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "delta must be an integer")
			return
		}
		delta = v
	}
	d, err := s.opts.Guard.CheckLimit(r.Context(), tc, model.Resource(chi.URLParam(r, "resource")), delta)
	if err != nil {
		log.Error().Err(err).Str("tenant", tc.Slug()).Msg("Failed to read usage counters")
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "usage counters unavailable")
		return
	}
	writeJSON(w, http.StatusOK, toDecisionResponse(d))
}

type usageEntry struct {
	Resource model.Resource `json:"resource"`
	Used     int64          `json:"used"`
	Limit    int64          `json:"limit"`
}

type exportResponse struct {
	Tenant     string       `json:"tenant"`
	Version    int64        `json:"version"`
	ExportedAt time.Time    `json:"exportedAt"`
	Usage      []usageEntry `json:"usage"`
}

// handleExport returns a snapshot of every usage counter against its limit.
// Each export counts as one API call.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	tc := model.TenantFromContext(r.Context())
	if s.opts.Usage == nil {
		writeError(w, http.StatusNotImplemented, "usage counters are not configured")
		return
	}
	if _, err := s.opts.Usage.Add(r.Context(), tc.Slug(), model.ResourceAPICalls, 1); err != nil {
		log.Error().Err(err).Str("tenant", tc.Slug()).Msg("Failed to record API call")
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "usage counters unavailable")
		return
	}

	resp := exportResponse{Tenant: tc.Slug(), Version: tc.Version(), ExportedAt: time.Now().UTC()}
	for _, res := range model.Resources {
		used, err := s.opts.Usage.Usage(r.Context(), tc.Slug(), res)
		if err != nil {
			log.Error().Err(err).Str("tenant", tc.Slug()).Msg("Failed to read usage counters")
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "usage counters unavailable")
			return
		}
		limit, _ := tc.Limit(res)
		resp.Usage = append(resp.Usage, usageEntry{Resource: res, Used: used, Limit: limit})
	}
	writeJSON(w, http.StatusOK, resp)
}

type createTenantRequest struct {
	Slug        string `json:"slug"`
	DisplayName string `json:"displayName"`
}

type statusRequest struct {
	Status model.Status `json:"status"`
}

type domainRequest struct {
	Domain string `json:"domain"`
}

type versionResponse struct {
	Tenant  string `json:"tenant"`
	Version int64  `json:"version"`
}

type problemsResponse struct {
	Error    string             `json:"error"`
	Problems []model.FieldError `json:"problems"`
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := s.opts.Admin.CreateTenant(r.Context(), req.Slug, req.DisplayName)
	if err != nil {
		writeResolveError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleGetConfig returns a tenant's resolved configuration whatever its
// status.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	tc, err := s.opts.Admin.GetConfig(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeAdminError(w, err)
		return
	}
	cfg, rec := tc.Config(), tc.Record()
	writeJSON(w, http.StatusOK, contextResponse{
		Tenant:      tc.Slug(),
		DisplayName: tc.DisplayName(),
		Status:      tc.Status(),
		Version:     tc.Version(),
		ResolvedAt:  tc.ResolvedAt(),
		Config:      &cfg,
		Record:      &rec,
	})
}

func (s *Server) handlePutOverride(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxOverrideBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "override document too large")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "override must be a JSON document")
		return
	}
	version, err := s.opts.Admin.PutOverride(r.Context(), slug, json.RawMessage(body))
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versionResponse{Tenant: slug, Version: version})
}

func (s *Server) handleDeleteOverride(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	version, err := s.opts.Admin.DeleteOverride(r.Context(), slug)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versionResponse{Tenant: slug, Version: version})
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := s.opts.Admin.SetStatus(r.Context(), chi.URLParam(r, "slug"), req.Status)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAddDomain(w http.ResponseWriter, r *http.Request) {
	var req domainRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.opts.Admin.AddDomain(r.Context(), chi.URLParam(r, "slug"), req.Domain); err != nil {
		writeAdminError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResetUsage zeroes a usage counter, typically at the start of a
// billing period.
func (s *Server) handleResetUsage(w http.ResponseWriter, r *http.Request) {
	if s.opts.Usage == nil {
		writeError(w, http.StatusNotImplemented, "usage counters are not configured")
		return
	}
	slug, resource := chi.URLParam(r, "slug"), model.Resource(chi.URLParam(r, "resource"))
	if _, known := (model.Limits{}).Limit(resource); !known {
		writeError(w, http.StatusBadRequest, "unknown resource")
		return
	}
	if err := s.opts.Usage.Reset(r.Context(), slug, resource); err != nil {
		log.Error().Err(err).Str("tenant", slug).Str("resource", string(resource)).Msg("Failed to reset usage counter")
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "usage counters unavailable")
		return
	}
	log.Info().Str("tenant", slug).Str("resource", string(resource)).Msg("Usage counter reset")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// writeAdminError reports configuration problems in full; operators need
// them to fix an override.
func writeAdminError(w http.ResponseWriter, err error) {
	var cfgErr *model.ConfigError
	if errors.As(err, &cfgErr) {
		writeJSON(w, http.StatusUnprocessableEntity, problemsResponse{
			Error:    "invalid configuration",
			Problems: cfgErr.Problems,
		})
		return
	}
	writeResolveError(w, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOverrideBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func encodeJSON(buf *bytes.Buffer, v any) error {
	return json.NewEncoder(buf).Encode(v)
}
