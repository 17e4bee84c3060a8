package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_context_cache_lookups_total",
			Help: "Tenant context cache lookups by result (hit, miss, shared)",
		},
		[]string{"result"},
	)
	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenant_context_cache_entries",
			Help: "Number of resolved tenant contexts currently cached",
		},
	)
	Resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_config_resolutions_total",
			Help: "Tenant configuration resolutions by outcome",
		},
		[]string{"outcome"},
	)
	ResolutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tenant_config_resolution_duration_seconds",
			Help:    "Duration of tenant configuration resolution in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)
	Identifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_identifications_total",
			Help: "Tenant identifications by winning signal",
		},
		[]string{"source"},
	)
	Fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_identification_fallbacks_total",
			Help: "Requests routed to the default tenant, by reason",
		},
		[]string{"reason"},
	)
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_enforcer_decisions_total",
			Help: "Feature and limit decisions by kind and reason",
		},
		[]string{"kind", "reason"},
	)
	Invalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_context_invalidations_total",
			Help: "Cache invalidations by origin (local, broadcast, store, reload)",
		},
		[]string{"origin"},
	)
	TemplateReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_template_reloads_total",
			Help: "Default template reload attempts by status",
		},
		[]string{"status"},
	)
)

func InitMetrics() {
	for name, c := range map[string]prometheus.Collector{
		"CacheLookups":       CacheLookups,
		"CacheEntries":       CacheEntries,
		"Resolutions":        Resolutions,
		"ResolutionDuration": ResolutionDuration,
		"Identifications":    Identifications,
		"Fallbacks":          Fallbacks,
		"Decisions":          Decisions,
		"Invalidations":      Invalidations,
		"TemplateReloads":    TemplateReloads,
	} {
		if err := prometheus.Register(c); err != nil {
			log.Error().Err(err).Msgf("Failed to register %s metric", name)
		}
	}
}
