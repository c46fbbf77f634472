package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector owns the service's Prometheus registry. All metric names
// are prefixed with the sanitized service name.
type MetricsCollector struct {
	prefix   string
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	inFlight     prometheus.Gauge
	buildInfo    *prometheus.GaugeVec
}

// NewMetricsCollector builds a collector with its own registry so repeated
// construction (tests, embedded use) never hits duplicate-registration panics.
func NewMetricsCollector(serviceName, version, commit string) *MetricsCollector {
	mc := &MetricsCollector{
		prefix:   strings.ReplaceAll(serviceName, "-", "_"),
		registry: prometheus.NewRegistry(),
	}

	mc.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mc.httpRequests = mc.NewCounter("http_requests_total",
		"Total number of HTTP requests", []string{"method", "endpoint", "status"})
	mc.httpDuration = mc.NewHistogram("http_request_duration_seconds",
		"HTTP request duration in seconds", []string{"method", "endpoint"}, nil)

	mc.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: mc.prefix + "_active_connections",
		Help: "Number of in-flight HTTP requests",
	})
	mc.registry.MustRegister(mc.inFlight)

	mc.buildInfo = mc.NewGauge("service_info", "Service build information", []string{"version", "commit"})
	mc.buildInfo.WithLabelValues(version, commit).Set(1)

	return mc
}

// NewCounter registers a prefixed counter vector.
func (mc *MetricsCollector) NewCounter(name, help string, labels []string) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: mc.prefix + "_" + name,
		Help: help,
	}, labels)
	mc.registry.MustRegister(counter)
	return counter
}

// NewGauge registers a prefixed gauge vector.
func (mc *MetricsCollector) NewGauge(name, help string, labels []string) *prometheus.GaugeVec {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: mc.prefix + "_" + name,
		Help: help,
	}, labels)
	mc.registry.MustRegister(gauge)
	return gauge
}

// NewHistogram registers a prefixed histogram vector. Nil buckets means
// prometheus.DefBuckets.
func (mc *MetricsCollector) NewHistogram(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    mc.prefix + "_" + name,
		Help:    help,
		Buckets: buckets,
	}, labels)
	mc.registry.MustRegister(histogram)
	return histogram
}

// MetricsMiddleware records request counts, latency, and in-flight gauge
// for every routed request.
func (mc *MetricsCollector) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		mc.inFlight.Inc()
		defer mc.inFlight.Dec()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		method := c.Request.Method
		mc.httpRequests.WithLabelValues(method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		mc.httpDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the collector's registry on /metrics.
func (mc *MetricsCollector) Handler() gin.HandlerFunc {
	handler := promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// CreateDetectionMetrics returns the campaign detection pipeline metrics:
// scan counter by status, detected-campaign counter by type, and per-phase
// scan duration histogram.
func (mc *MetricsCollector) CreateDetectionMetrics() (*prometheus.CounterVec, *prometheus.CounterVec, *prometheus.HistogramVec) {
	scans := mc.NewCounter("scans_total", "Total campaign detection scans", []string{"status"})
	campaigns := mc.NewCounter("campaigns_detected_total", "Total campaigns detected", []string{"campaign_type"})
	duration := mc.NewHistogram("scan_duration_seconds", "Campaign scan duration", []string{"phase"}, nil)
	return scans, campaigns, duration
}

// CreateVerificationMetrics returns the verification workflow metrics:
// enqueue counter by priority, completed-verification counter by result,
// and open-queue depth gauge by priority.
func (mc *MetricsCollector) CreateVerificationMetrics() (*prometheus.CounterVec, *prometheus.CounterVec, *prometheus.GaugeVec) {
	enqueued := mc.NewCounter("verification_enqueued_total", "Alerts enqueued for verification", []string{"priority"})
	verified := mc.NewCounter("verifications_total", "Completed verifications", []string{"result"})
	depth := mc.NewGauge("verification_queue_depth", "Open verification queue items", []string{"priority"})
	return enqueued, verified, depth
}
