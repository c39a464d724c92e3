// Package metrics exposes Prometheus instrumentation for assessments and
// the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Recorder owns a registry and the Harrier collectors registered on it.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	assessments     *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	analyzerFailure *prometheus.CounterVec
	profileVersion  prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates a Recorder on a fresh registry that also carries the Go and
// process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		assessments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_assessments_total",
			Help: "Total number of completed assessments by operation and verdict",
		}, []string{"operation", "verdict"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harrier_assessment_duration_seconds",
			Help:    "Assessment duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		analyzerFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_analyzer_failures_total",
			Help: "Total number of analyzer failures excluded from scoring",
		}, []string{"analyzer"}),
		profileVersion: factory.NewGauge(prometheus.GaugeOpts{
			Name: "harrier_profile_version",
			Help: "Version of the active threshold profile",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harrier_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ObserveAssessment records one finished assessment.
func (r *Recorder) ObserveAssessment(operation, verdict string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.assessments.WithLabelValues(operation, verdict).Inc()
	r.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// AnalyzerFailed counts analyzer failures.
func (r *Recorder) AnalyzerFailed(analyzer string) {
	if r == nil {
		return
	}
	r.analyzerFailure.WithLabelValues(analyzer).Inc()
}

// SetProfileVersion publishes the active profile version.
func (r *Recorder) SetProfileVersion(v int64) {
	if r == nil {
		return
	}
	r.profileVersion.Set(float64(v))
}

// ObserveRequest records one HTTP request. route is the router pattern, not
// the raw path, to keep label cardinality bounded.
func (r *Recorder) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	if route == "" {
		route = "not_found"
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

var (
	cacheEntriesDesc = prometheus.NewDesc("harrier_cache_entries",
		"Number of cached assessment results", nil, nil)
	cacheBytesDesc = prometheus.NewDesc("harrier_cache_bytes",
		"Bytes held by cached assessment results", nil, nil)
	cacheHitsDesc = prometheus.NewDesc("harrier_cache_hits_total",
		"Total cache lookups served from memory", nil, nil)
	cacheMissesDesc = prometheus.NewDesc("harrier_cache_misses_total",
		"Total cache lookups that missed or found an expired entry", nil, nil)
	cacheEvictionsDesc = prometheus.NewDesc("harrier_cache_evictions_total",
		"Total entries evicted to stay within the size or byte budget", nil, nil)
)

// cacheCollector reads cache statistics once per scrape.
type cacheCollector struct {
	stats func() domain.CacheStats
}

func (c cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cacheEntriesDesc
	ch <- cacheBytesDesc
	ch <- cacheHitsDesc
	ch <- cacheMissesDesc
	ch <- cacheEvictionsDesc
}

func (c cacheCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats()
	ch <- prometheus.MustNewConstMetric(cacheEntriesDesc, prometheus.GaugeValue, float64(st.Entries))
	ch <- prometheus.MustNewConstMetric(cacheBytesDesc, prometheus.GaugeValue, float64(st.Bytes))
	ch <- prometheus.MustNewConstMetric(cacheHitsDesc, prometheus.CounterValue, float64(st.Hits))
	ch <- prometheus.MustNewConstMetric(cacheMissesDesc, prometheus.CounterValue, float64(st.Misses))
	ch <- prometheus.MustNewConstMetric(cacheEvictionsDesc, prometheus.CounterValue, float64(st.Evictions))
}

// WatchCache exports the statistics returned by stats on every scrape.
// Calling it twice is an error.
func (r *Recorder) WatchCache(stats func() domain.CacheStats) error {
	if r == nil || stats == nil {
		return nil
	}
	return r.registry.Register(cacheCollector{stats: stats})
}
