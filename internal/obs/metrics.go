package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every endpoint.
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

// Session and quota counters, incremented by the core services.
var (
	sessionsIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_issued_total",
			Help: "Credential pairs issued, by trigger (password, external, refresh).",
		},
		[]string{"trigger"},
	)

	sessionRotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_rotations_total",
			Help: "Refresh rotation attempts by result (ok, revoked, invalid).",
		},
		[]string{"result"},
	)

	quotaDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_decisions_total",
			Help: "Quota check outcomes (allowed, denied, bypass).",
		},
		[]string{"result"},
	)
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		sessionsIssuedTotal, sessionRotationsTotal, quotaDecisionsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SessionIssued records one issued credential pair.
func SessionIssued(trigger string) { sessionsIssuedTotal.WithLabelValues(trigger).Inc() }

// SessionRotation records one rotation attempt outcome.
func SessionRotation(result string) { sessionRotationsTotal.WithLabelValues(result).Inc() }

// QuotaDecision records one quota check outcome.
func QuotaDecision(result string) { quotaDecisionsTotal.WithLabelValues(result).Inc() }

// Instrument wraps a handler with RPS/latency/in-flight measurement.
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

// CanonicalPath collapses per-resource path segments so metric cardinality
// stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	// /v1/insights/<id>/ask -> /v1/insights/:id/ask
	if len(parts) >= 4 && parts[1] == "v1" && parts[2] == "insights" && parts[3] != "" {
		parts[3] = ":id"
		return strings.Join(parts, "/")
	}
	return path
}

// statusWriter captures the response code written by the wrapped handler.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
