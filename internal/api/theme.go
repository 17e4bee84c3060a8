package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/theme"
)

type renderedTheme struct {
	body []byte
	etag string
}

// StylesheetCache holds rendered theme documents. Entries are keyed by the
// resolved snapshot they were rendered from, so a new snapshot never serves
// an old document.
type StylesheetCache struct {
	cache *ristretto.Cache[string, *renderedTheme]
}

// NewStylesheetCache creates a cache bounded to maxBytes of rendered output.
func NewStylesheetCache(maxBytes int64) (*StylesheetCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, *renderedTheme]{
		NumCounters: 10_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &StylesheetCache{cache: c}, nil
}

func (s *StylesheetCache) Close() {
	s.cache.Close()
}

// Output is the document a theme is rendered into.
type Output string

const (
	OutputStylesheet Output = "stylesheet"
	OutputJSON       Output = "json"
)

func themeKey(tc *model.TenantContext, format theme.Format, out Output) string {
	return fmt.Sprintf("%s/%d/%d/%s/%s", tc.Slug(), tc.Version(), tc.ResolvedAt().UnixNano(), format, out)
}

// get returns the rendered document for tc, rendering it on a miss.
func (s *StylesheetCache) get(tc *model.TenantContext, format theme.Format, out Output) (*renderedTheme, error) {
	key := themeKey(tc, format, out)
	if doc, ok := s.cache.Get(key); ok {
		return doc, nil
	}

	vars, err := theme.Render(tc, format)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if out == OutputStylesheet {
		err = theme.WriteStylesheet(&buf, vars)
	} else {
		err = writeVariablesJSON(&buf, vars)
	}
	if err != nil {
		return nil, err
	}

	h := fnv.New32a()
	h.Write(buf.Bytes())
	doc := &renderedTheme{
		body: buf.Bytes(),
		etag: fmt.Sprintf(`"%s-%d-%08x"`, tc.Slug(), tc.Version(), h.Sum32()),
	}
	s.cache.Set(key, doc, int64(len(doc.body)))
	return doc, nil
}

type variableJSON struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type themeJSON struct {
	Tenant    string         `json:"tenant"`
	Brand     string         `json:"brand"`
	Version   int64          `json:"version"`
	Format    theme.Format   `json:"format"`
	Variables []variableJSON `json:"variables"`
}

func writeVariablesJSON(buf *bytes.Buffer, vars *theme.Variables) error {
	doc := themeJSON{
		Tenant:    vars.Slug,
		Brand:     vars.BrandID,
		Version:   vars.Version,
		Format:    vars.Format,
		Variables: make([]variableJSON, 0, vars.Len()),
	}
	for v := range vars.All() {
		doc.Variables = append(doc.Variables, variableJSON{Name: v.Name, Value: v.Value})
	}
	return encodeJSON(buf, doc)
}

func (s *Server) handleStylesheet(w http.ResponseWriter, r *http.Request) {
	s.serveTheme(w, r, theme.FormatCSS, OutputStylesheet, "text/css; charset=utf-8")
}

// handleThemeJSON returns the theme variables, dotted unless ?format=css.
func (s *Server) handleThemeJSON(w http.ResponseWriter, r *http.Request) {
	format := theme.FormatDotted
	if raw := r.URL.Query().Get("format"); raw != "" {
		f, err := theme.ParseFormat(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		format = f
	}
	s.serveTheme(w, r, format, OutputJSON, "application/json")
}

func (s *Server) serveTheme(w http.ResponseWriter, r *http.Request, format theme.Format, out Output, contentType string) {
	tc := model.TenantFromContext(r.Context())
	doc, err := s.themes.get(tc, format, out)
	if err != nil {
		log.Error().Err(err).Str("tenant", tc.Slug()).Str("format", string(format)).Msg("Failed to render theme")
		writeError(w, http.StatusInternalServerError, "theme could not be rendered")
		return
	}

	w.Header().Set("ETag", doc.etag)
	w.Header().Set("Cache-Control", cacheControl(s.opts.ThemeMaxAge))
	w.Header().Set("Vary", "Host, "+s.opts.TenantHeader)
	if etagMatches(r.Header.Values("If-None-Match"), doc.etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.body)
}

// etagMatches applies the weak comparison If-None-Match calls for: any listed
// tag equal to etag once W/ prefixes are dropped, or "*".
func etagMatches(header []string, etag string) bool {
	want := strings.TrimPrefix(etag, "W/")
	for _, line := range header {
		for tag := range strings.SplitSeq(line, ",") {
			tag = strings.TrimSpace(tag)
			if tag == "*" || strings.TrimPrefix(tag, "W/") == want {
				return true
			}
		}
	}
	return false
}

// handleAsset serves a brand asset of the request's tenant, falling back to
// the default tenant's brand directory when the tenant has no such file.
// Without a local asset directory it redirects to the asset base URL.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	tc := model.TenantFromContext(r.Context())
	category, filename := chi.URLParam(r, "category"), chi.URLParam(r, "filename")

	if s.opts.Assets.Root == "" {
		url, err := s.opts.Assets.URL(tc.Slug(), tc.Brand().ID, category, filename)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid asset reference")
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	path, err := s.opts.Assets.File(tc.Slug(), tc.Brand().ID, category, filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid asset reference")
		return
	}
	if !fileExists(path) {
		path, err = s.defaultAsset(r.Context(), tc, category, filename)
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "asset not found")
			return
		}
		if err != nil {
			writeResolveError(w, err)
			return
		}
	}

	w.Header().Set("Cache-Control", cacheControl(s.opts.ThemeMaxAge))
	http.ServeFile(w, r, path)
}

func (s *Server) defaultAsset(ctx context.Context, tc *model.TenantContext, category, filename string) (string, error) {
	if s.opts.DefaultSlug == "" || s.opts.DefaultSlug == tc.Slug() {
		return "", os.ErrNotExist
	}
	def, err := s.opts.Admin.GetConfig(ctx, s.opts.DefaultSlug)
	if err != nil {
		return "", err
	}
	path, err := s.opts.Assets.File(def.Slug(), def.Brand().ID, category, filename)
	if err != nil || !fileExists(path) {
		return "", os.ErrNotExist
	}
	return path, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func cacheControl(maxAge time.Duration) string {
	return "public, max-age=" + strconv.Itoa(int(maxAge.Seconds()))
}
