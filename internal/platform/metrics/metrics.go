package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors shared by both services. All methods
// are safe on a nil receiver so components can be built without metrics.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	errorsTotal     prometheus.Counter
	locateResults   *prometheus.CounterVec
	upstreamFetches *prometheus.CounterVec
	manifestRewrite *prometheus.CounterVec
	proxiedBytes    prometheus.Counter
	cacheLookups    *prometheus.CounterVec
}

// New creates and registers collectors under the given namespace
// ("hls_proxy", "bff").
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests received, by status class",
		}, []string{"code"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		locateResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locate_results_total",
			Help:      "Stream locate outcomes by winning strategy",
		}, []string{"strategy"}),
		upstreamFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_fetch_total",
			Help:      "Upstream fetches by kind and outcome",
		}, []string{"kind", "outcome"}),
		manifestRewrite: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_rewrites_total",
			Help:      "Manifests rewritten, by playlist type",
		}, []string{"playlist_type"}),
		proxiedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxied_bytes_total",
			Help:      "Bytes streamed to clients without rewriting",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache name and result",
		}, []string{"cache", "result"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.locateResults,
		m.upstreamFetches,
		m.manifestRewrite,
		m.proxiedBytes,
		m.cacheLookups,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(statusClass(status)).Inc()
	if status >= 400 {
		m.errorsTotal.Inc()
	}
}

func (m *Metrics) IncLocate(strategy string) {
	if m == nil {
		return
	}
	m.locateResults.WithLabelValues(strategy).Inc()
}

func (m *Metrics) IncUpstreamFetch(kind, outcome string) {
	if m == nil {
		return
	}
	m.upstreamFetches.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) IncManifestRewrite(playlistType string) {
	if m == nil {
		return
	}
	m.manifestRewrite.WithLabelValues(playlistType).Inc()
}

func (m *Metrics) AddProxiedBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.proxiedBytes.Add(float64(n))
}

func (m *Metrics) IncCache(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

// Handler returns an http.Handler that serves the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
