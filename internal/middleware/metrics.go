package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the HTTP collectors. It registers on its own registry so
// tests can build as many as they like.
type Metrics struct {
	Registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	saveFailures    prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "starchart_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "starchart_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		saveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starchart_save_failures_total",
			Help: "Saves that returned a server error.",
		}),
	}
	m.Registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.saveFailures,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Instrument records count and latency for every request. The route label
// is the matched ServeMux pattern so unknown paths do not blow up cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.requestsTotal.WithLabelValues(route, statusClass(rec.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		if r.Method == http.MethodPost && rec.status >= 500 {
			m.saveFailures.Inc()
		}
	})
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
