package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by every handler.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Safety-core metrics.
var (
	positionsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_positions_ingested_total",
			Help: "Position reports ingested, by mode and resolution outcome.",
		},
		[]string{"mode", "outcome"},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_events_published_total",
			Help: "Events published to the notification broker, by type.",
		},
		[]string{"type"},
	)

	eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sitewatch_events_dropped_total",
		Help: "Events dropped from slow subscriber buffers.",
	})

	alertTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_alert_transitions_total",
			Help: "Worker alert-level transitions, by new level.",
		},
		[]string{"level"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sitewatch_ready",
		Help: "Readiness as reported by the last probe (1 ready, 0 not).",
	})
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call more than
// once; only the first call registers.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			positionsIngested, eventsPublished, eventsDropped,
			alertTransitions, readyGauge,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// PositionIngested records one processed position report.
func PositionIngested(mode, outcome string) {
	positionsIngested.WithLabelValues(mode, outcome).Inc()
}

// EventPublished records one broker publish.
func EventPublished(eventType string) {
	eventsPublished.WithLabelValues(eventType).Inc()
}

// EventDropped records one overwritten slow-subscriber slot.
func EventDropped() {
	eventsDropped.Inc()
}

// AlertTransition records a worker moving to a new alert level.
func AlertTransition(level string) {
	alertTransitions.WithLabelValues(level).Inc()
}

// SetReady mirrors the readiness probe into a gauge.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// CanonicalPath collapses per-resource path segments so metric label
// cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	for _, rule := range []struct{ prefix, suffix, canon string }{
		{"/v1/zones/", "/hazards", "/v1/zones/:id/hazards"},
		{"/v1/sites/", "/zones", "/v1/sites/:id/zones"},
		{"/v1/work-plans/", "/status", "/v1/work-plans/:id/status"},
		{"/v1/danger-reports/", "/review", "/v1/danger-reports/:id/review"},
		{"/v1/workers/", "/position", "/v1/workers/:id/position"},
	} {
		rest, ok := strings.CutPrefix(path, rule.prefix)
		if !ok {
			continue
		}
		rest, ok = strings.CutSuffix(rest, rule.suffix)
		if ok && rest != "" && !strings.Contains(rest, "/") {
			return rule.canon
		}
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the instrumented wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
