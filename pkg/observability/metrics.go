package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the service. A nil *Collector
// is valid and records nothing, which keeps unit tests free of registries.
type Collector struct {
	registry  *prometheus.Registry
	namespace string

	// Cache metrics
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheStoreErrors *prometheus.CounterVec

	// Admission control
	RateLimitDecisions *prometheus.CounterVec

	// Search path
	SearchDuration *prometheus.HistogramVec
	BackendErrors  *prometheus.CounterVec

	// Query/command buses
	BusDuration *prometheus.HistogramVec
	BusEvents   *prometheus.CounterVec

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewCollector creates a metrics collector on its own registry
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry:  registry,
		namespace: namespace,
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of result cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of result cache misses",
		}),
		CacheStoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Store calls that failed and were degraded",
		}, []string{"component", "operation"}),
		RateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limit decisions by action and outcome",
		}, []string{"action", "outcome"}),
		SearchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end search duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cached"}),
		BackendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Search backend call failures",
		}, []string{"operation"}),
		BusDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_handler_duration_seconds",
			Help:      "Query and command handler duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"metric", "type"}),
		BusEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_total",
			Help:      "Query and command bus events",
		}, []string{"metric", "type"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	registry.MustRegister(
		c.CacheHits,
		c.CacheMisses,
		c.CacheStoreErrors,
		c.RateLimitDecisions,
		c.SearchDuration,
		c.BackendErrors,
		c.BusDuration,
		c.BusEvents,
		c.HTTPRequests,
		c.HTTPDuration,
	)

	return c
}

// ObserveStoreEntries exports the live entry count of a process-local store
// as a gauge sampled at scrape time
func (c *Collector) ObserveStoreEntries(count func() int64) error {
	if c == nil {
		return nil
	}
	return c.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Name:      "store_entries",
		Help:      "Live entries in the in-process key-value store",
	}, func() float64 {
		return float64(count())
	}))
}

// Registry returns the Prometheus registry for this collector
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector's registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) CacheHit() {
	if c != nil {
		c.CacheHits.Inc()
	}
}

func (c *Collector) CacheMiss() {
	if c != nil {
		c.CacheMisses.Inc()
	}
}

// StoreError counts a degraded store call
func (c *Collector) StoreError(component, operation string) {
	if c != nil {
		c.CacheStoreErrors.WithLabelValues(component, operation).Inc()
	}
}

// RateLimitDecision counts a limiter outcome: allowed, rejected or fail_open
func (c *Collector) RateLimitDecision(action, outcome string) {
	if c != nil {
		c.RateLimitDecisions.WithLabelValues(action, outcome).Inc()
	}
}

func (c *Collector) ObserveSearch(cached bool, d time.Duration) {
	if c != nil {
		c.SearchDuration.WithLabelValues(strconv.FormatBool(cached)).Observe(d.Seconds())
	}
}

func (c *Collector) BackendError(operation string) {
	if c != nil {
		c.BackendErrors.WithLabelValues(operation).Inc()
	}
}

// ObserveHTTP records one served request
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Timer is returned by StartTimer
type Timer interface {
	Stop()
}

type busTimer struct {
	observer prometheus.Observer
	start    time.Time
}

func (t *busTimer) Stop() {
	if t.observer != nil {
		t.observer.Observe(time.Since(t.start).Seconds())
	}
}

// StartTimer starts timing a bus handler
func (c *Collector) StartTimer(metric, label string) Timer {
	if c == nil {
		return &busTimer{}
	}
	return &busTimer{
		observer: c.BusDuration.WithLabelValues(metric, label),
		start:    time.Now(),
	}
}

// Increment counts a bus event
func (c *Collector) Increment(metric, label string) {
	if c != nil {
		c.BusEvents.WithLabelValues(metric, label).Inc()
	}
}
