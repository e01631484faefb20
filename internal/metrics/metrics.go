package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors recorded by the catalog, session and gate layers.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	catalogRefresh     *prometheus.CounterVec
	catalogSize        prometheus.Gauge
	profileResolutions *prometheus.CounterVec
	gateDecisions      *prometheus.CounterVec
	workspaces         prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		catalogRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delta_catalog_refresh_total",
			Help: "Catalog refresh attempts by outcome.",
		}, []string{"outcome"}),
		catalogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "delta_catalog_videos",
			Help: "Number of videos in the current catalog snapshot.",
		}),
		profileResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delta_profile_resolutions_total",
			Help: "Profile resolutions by outcome.",
		}, []string{"outcome"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delta_gate_decisions_total",
			Help: "Single-record detail and playback requests by result.",
		}, []string{"view", "result"}),
		workspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "delta_workspaces_active",
			Help: "Live client workspaces.",
		}),
	}
	reg.MustRegister(
		prometheus.NewGoCollector(),
		m.catalogRefresh,
		m.catalogSize,
		m.profileResolutions,
		m.gateDecisions,
		m.workspaces,
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CatalogRefreshed records a refresh outcome and, on success, the snapshot size.
func (m *Metrics) CatalogRefreshed(ok bool, size int) {
	if m == nil {
		return
	}
	if !ok {
		m.catalogRefresh.WithLabelValues("failure").Inc()
		return
	}
	m.catalogRefresh.WithLabelValues("success").Inc()
	m.catalogSize.Set(float64(size))
}

// ProfileResolved records how a profile resolution ended: found, created,
// unavailable or discarded.
func (m *Metrics) ProfileResolved(outcome string) {
	if m == nil {
		return
	}
	m.profileResolutions.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// GateDecision records a detail or playback result.
func (m *Metrics) GateDecision(view, result string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(normalizeLabel(view), normalizeLabel(result)).Inc()
}

// WorkspacesActive sets the live workspace gauge.
func (m *Metrics) WorkspacesActive(n int) {
	if m == nil {
		return
	}
	m.workspaces.Set(float64(n))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
