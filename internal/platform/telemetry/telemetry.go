// Package telemetry exposes Prometheus metrics for export runs and for the
// HTTP surface that serves them.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vista_export"

// Config identifies the process in the build info metric.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "vista-export"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// Metrics owns a private registry; several instances may coexist in one
// process. All recording methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	records     *prometheus.CounterVec
	dictionary  *prometheus.CounterVec
	storeNodes  prometheus.Histogram

	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge
}

// Outcome labels of the runs counter.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

func NewMetrics(cfg Config) *Metrics {
	cfg.applyDefaults()
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Export runs by encoding mode and outcome.",
		}, []string{"mode", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of export runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"mode"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Primary records written, by file.",
		}, []string{"file"}),
		dictionary: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dictionary_entries_total",
			Help:      "Dictionary records created through pointer registries, by file.",
		}, []string{"file"}),
		storeNodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_nodes",
			Help:      "Global store nodes produced per run.",
			Buckets:   prometheus.ExponentialBuckets(10, 10, 7),
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "HTTP requests in flight.",
		}),
	}
	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Service identity; always 1.",
	}, []string{"service", "version", "environment"})
	buildInfo.WithLabelValues(cfg.ServiceName, cfg.ServiceVersion, cfg.Environment).Set(1)

	m.registry.MustRegister(
		m.runs, m.runDuration, m.records, m.dictionary, m.storeNodes,
		m.requestDuration, m.activeRequests, buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveRun records the outcome and duration of one run.
func (m *Metrics) ObserveRun(mode, outcome string, d time.Duration, nodes int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(mode, outcome).Inc()
	m.runDuration.WithLabelValues(mode).Observe(d.Seconds())
	if outcome == OutcomeSuccess {
		m.storeNodes.Observe(float64(nodes))
	}
}

// AddRecords counts primary records written to file.
func (m *Metrics) AddRecords(file string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.records.WithLabelValues(file).Add(float64(n))
}

// AddDictionaryEntry counts one dictionary record created in file.
func (m *Metrics) AddDictionaryEntry(file string) {
	if m == nil {
		return
	}
	m.dictionary.WithLabelValues(file).Inc()
}

// MetricsMiddleware returns an Echo middleware that records request latency
// under the route pattern, not the raw path.
func (m *Metrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			m.activeRequests.Inc()
			defer m.activeRequests.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := strconv.Itoa(c.Response().Status)
			m.requestDuration.WithLabelValues(c.Request().Method, route, status).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (m *Metrics) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
